package researchmesh

import (
	"context"
	"fmt"
	"os"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/hupe1980/researchmesh/checkpoint/sqlite"
	"github.com/hupe1980/researchmesh/config"
	"github.com/hupe1980/researchmesh/engine"
	"github.com/hupe1980/researchmesh/history"
	"github.com/hupe1980/researchmesh/knowledge"
	"github.com/hupe1980/researchmesh/logging"
	"github.com/hupe1980/researchmesh/model"
	anthropicmodel "github.com/hupe1980/researchmesh/model/anthropic"
	openaimodel "github.com/hupe1980/researchmesh/model/openai"
	"github.com/hupe1980/researchmesh/prompt"
	"github.com/hupe1980/researchmesh/tool"
	"github.com/hupe1980/researchmesh/tool/directanswer"
	"github.com/hupe1980/researchmesh/tool/kbsearch"
	"github.com/hupe1980/researchmesh/tool/papersearch"
	"github.com/hupe1980/researchmesh/tool/websearch"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// NewFromConfig wires a ResearchMesh from configuration: logger, model
// provider, prompt catalogs, research tools and checkpoint store. optFns run
// last and may override anything derived from cfg. Call Close when done.
func NewFromConfig(ctx context.Context, cfg *config.Config, optFns ...func(o *Options)) (*ResearchMesh, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.New(&logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		Format:  cfg.Logging.Format,
		Backend: cfg.Logging.Backend,
		Output:  os.Stderr,
	})

	prompts, err := prompt.LoadCatalog(cfg.Prompts.Language, cfg.Prompts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load prompts: %w", err)
	}
	messages, err := prompt.LoadMessages(cfg.Prompts.Language, cfg.Prompts.MessagesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}

	gw := model.NewGateway(newModel(cfg.Model), func(o *model.GatewayOptions) { o.Logger = logger })

	tools, domain, err := newTools(ctx, cfg, gw, prompts, messages, logger)
	if err != nil {
		return nil, err
	}

	engineCfg := engine.DefaultConfig()
	engineCfg.MaxPlanTasks = cfg.Engine.MaxPlan
	engineCfg.MaxTurns = cfg.Engine.MaxTurn
	engineCfg.MaxSteps = cfg.Engine.MaxSteps
	engineCfg.JSONAttempts = cfg.Engine.JSONAttempts
	engineCfg.RetryDelay = cfg.Engine.RetryDelay
	engineCfg.DomainScope = cfg.Engine.DomainScope
	if engineCfg.DomainScope == "" {
		engineCfg.DomainScope = domain
	}

	var store *sqlite.Store
	if cfg.Checkpoint.Driver == "sqlite" {
		store, err = sqlite.Open(ctx, cfg.Checkpoint.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
		}
	}

	m, err := New(gw, tools, func(o *Options) {
		o.EngineConfig = engineCfg
		if store != nil {
			o.Store = store
		}
		o.Prompts = prompts
		o.Messages = messages
		o.Extractor = history.New(func(o *history.Options) {
			o.MaxTranscriptMessages = cfg.Engine.MaxTranscriptMessages
		})
		o.EventBufferSize = cfg.Runner.EventBufferSize
		o.Logger = logger
		for _, fn := range optFns {
			fn(o)
		}
	})
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}
	if store != nil {
		m.closers = append(m.closers, store)
	}
	return m, nil
}

func newModel(cfg config.ModelConfig) model.Model {
	if cfg.Provider == "anthropic" {
		return anthropicmodel.NewModel(func(o *anthropicmodel.Options) {
			if cfg.Name != "" {
				o.Model = anthropicsdk.Model(cfg.Name)
			}
			o.Temperature = cfg.Temperature
			o.MaxTokens = cfg.MaxTokens
			o.APIKey = cfg.APIKey
		})
	}

	var clientOpts []option.RequestOption
	if cfg.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(cfg.APIKey))
	}
	client := openai.NewClient(clientOpts...)
	return openaimodel.NewModelFromClient(&client, func(o *openaimodel.Options) {
		if cfg.Name != "" {
			o.Model = cfg.Name
		}
		o.Temperature = cfg.Temperature
		o.MaxCompletionTokens = cfg.MaxTokens
	})
}

// newTools registers the enabled research tools in catalog order. The
// returned domain is the knowledge base's self-description, if one is loaded.
func newTools(
	ctx context.Context,
	cfg *config.Config,
	gw model.Gateway,
	prompts *prompt.Catalog,
	messages *prompt.Messages,
	logger logging.Logger,
) (*tool.Registry, string, error) {
	var (
		tools  []tool.Tool
		domain string
	)

	if cfg.Web.Enabled {
		client := websearch.NewClient(func(o *websearch.ClientOptions) {
			o.Endpoint = cfg.Web.Endpoint
			o.APIKey = cfg.Web.APIKey
		})
		tools = append(tools, websearch.New(client, func(o *websearch.Options) {
			o.MaxResults = cfg.Web.MaxResults
			o.Depth = cfg.Web.Depth
			o.MaxTextWidth = cfg.Web.MaxSearchText
		}))
	}

	if cfg.Paper.Enabled {
		client := papersearch.NewClient(func(o *papersearch.ClientOptions) {
			o.Endpoint = cfg.Paper.Endpoint
		})
		tools = append(tools, papersearch.New(client, gw, prompts, messages, func(o *papersearch.Options) {
			o.MaxResults = cfg.Paper.MaxResults
		}))
	}

	if cfg.Knowledge.Path != "" {
		embedder := openaimodel.NewEmbedder(func(o *openaimodel.EmbedderOptions) {
			o.Model = cfg.Knowledge.EmbeddingModel
		})
		idx, d, err := knowledge.LoadFile(ctx, cfg.Knowledge.Path, embedder)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load knowledge base: %w", err)
		}
		domain = d
		logger.Info("Knowledge base loaded", "path", cfg.Knowledge.Path, "passages", idx.Len(), "domain", domain)
		tools = append(tools, kbsearch.New(knowledge.NewRetriever(embedder, idx, domain), func(o *kbsearch.Options) {
			o.TopK = cfg.Knowledge.TopK
		}))
	}

	tools = append(tools, directanswer.New(gw, prompts))

	reg := tool.NewRegistry(func(o *tool.RegistryOptions) { o.Logger = logger })
	if err := reg.Register(tools...); err != nil {
		return nil, "", err
	}
	return reg, domain, nil
}
