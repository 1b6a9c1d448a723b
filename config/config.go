// Package config loads researchmesh settings from a YAML file, RESEARCHMESH_*
// environment variables and built-in defaults, in that order of precedence
// (environment wins over the file).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// RESEARCHMESH_ENGINE_MAX_TURN.
const EnvPrefix = "RESEARCHMESH"

// Config stores all configuration of the application.
type Config struct {
	Engine     EngineConfig     `mapstructure:"engine"`
	Model      ModelConfig      `mapstructure:"model"`
	Prompts    PromptsConfig    `mapstructure:"prompts"`
	Web        WebConfig        `mapstructure:"web"`
	Paper      PaperConfig      `mapstructure:"paper"`
	Knowledge  KnowledgeConfig  `mapstructure:"knowledge"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Runner     RunnerConfig     `mapstructure:"runner"`
}

// EngineConfig stores the orchestration limits.
type EngineConfig struct {
	MaxPlan               int           `mapstructure:"max_plan"`                // Largest accepted plan
	MaxTurn               int           `mapstructure:"max_turn"`                // Research turns before answering
	MaxSteps              int           `mapstructure:"max_steps"`               // Node executions per run
	JSONAttempts          int           `mapstructure:"json_attempts"`           // Attempts for malformed JSON
	RetryDelay            time.Duration `mapstructure:"retry_delay"`             // Pause between attempts
	DomainScope           string        `mapstructure:"domain_scope"`            // What the knowledge base covers
	MaxTranscriptMessages int           `mapstructure:"max_transcript_messages"` // 0 renders the whole thread
}

// ModelConfig selects the language model provider.
type ModelConfig struct {
	Provider    string  `mapstructure:"provider"` // "openai" or "anthropic"
	Name        string  `mapstructure:"name"`     // Provider model id, empty for the adapter default
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int64   `mapstructure:"max_tokens"`
	APIKey      string  `mapstructure:"api_key"` // Empty reads the provider's own environment variable
}

// PromptsConfig selects the prompt and progress message catalogs.
type PromptsConfig struct {
	Language     string `mapstructure:"language"`      // "en" or "ja"
	Path         string `mapstructure:"path"`          // Optional YAML overriding prompt templates
	MessagesPath string `mapstructure:"messages_path"` // Optional YAML overriding progress messages
}

// WebConfig configures the web search tool.
type WebConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Endpoint      string `mapstructure:"endpoint"`
	APIKey        string `mapstructure:"api_key"`
	MaxResults    int    `mapstructure:"max_results"`
	Depth         string `mapstructure:"depth"`           // "basic" or "advanced"
	MaxSearchText int    `mapstructure:"max_search_text"` // Display width per result body
}

// PaperConfig configures the paper search tool.
type PaperConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Endpoint   string `mapstructure:"endpoint"`
	MaxResults int    `mapstructure:"max_results"`
}

// KnowledgeConfig configures the knowledge base search tool. The tool is
// registered only when Path is set.
type KnowledgeConfig struct {
	Path           string `mapstructure:"path"`
	TopK           int    `mapstructure:"top_k"`
	EmbeddingModel string `mapstructure:"embedding_model"`
}

// CheckpointConfig selects where thread checkpoints live.
type CheckpointConfig struct {
	Driver string `mapstructure:"driver"` // "memory" or "sqlite"
	Path   string `mapstructure:"path"`   // SQLite database file
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`  // "json" or "text"
	Backend string `mapstructure:"backend"` // "slog" or "zerolog"
}

// RunnerConfig configures event streaming.
type RunnerConfig struct {
	EventBufferSize int `mapstructure:"event_buffer_size"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("engine.max_plan", 5)
	v.SetDefault("engine.max_turn", 2)
	v.SetDefault("engine.max_steps", 400)
	v.SetDefault("engine.json_attempts", 3)
	v.SetDefault("engine.retry_delay", "1s")
	v.SetDefault("engine.domain_scope", "")
	v.SetDefault("engine.max_transcript_messages", 0)

	v.SetDefault("model.provider", "openai")
	v.SetDefault("model.name", "")
	v.SetDefault("model.temperature", 0.0)
	v.SetDefault("model.max_tokens", 4096)
	v.SetDefault("model.api_key", "")

	v.SetDefault("prompts.language", "en")
	v.SetDefault("prompts.path", "")
	v.SetDefault("prompts.messages_path", "")

	v.SetDefault("web.enabled", true)
	v.SetDefault("web.endpoint", "https://api.tavily.com/search")
	v.SetDefault("web.api_key", "")
	v.SetDefault("web.max_results", 5)
	v.SetDefault("web.depth", "basic")
	v.SetDefault("web.max_search_text", 10000)

	v.SetDefault("paper.enabled", true)
	v.SetDefault("paper.endpoint", "http://export.arxiv.org/api/query")
	v.SetDefault("paper.max_results", 5)

	v.SetDefault("knowledge.path", "")
	v.SetDefault("knowledge.top_k", 3)
	v.SetDefault("knowledge.embedding_model", "text-embedding-3-small")

	v.SetDefault("checkpoint.driver", "memory")
	v.SetDefault("checkpoint.path", "researchmesh.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.backend", "slog")

	v.SetDefault("runner.event_buffer_size", 100)
}

// Load reads configuration from path, or from researchmesh.yaml in the
// working directory or $HOME/.researchmesh when path is empty. A missing
// default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.researchmesh")
		v.SetConfigName("researchmesh")
		v.SetConfigType("yaml")
	}

	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every setting outside its allowed range.
func (c *Config) Validate() error {
	var errs []error
	if c.Engine.MaxPlan < 1 {
		errs = append(errs, fmt.Errorf("engine.max_plan must be positive, got %d", c.Engine.MaxPlan))
	}
	if c.Engine.MaxTurn < 1 {
		errs = append(errs, fmt.Errorf("engine.max_turn must be positive, got %d", c.Engine.MaxTurn))
	}
	if c.Engine.MaxSteps < 0 {
		errs = append(errs, fmt.Errorf("engine.max_steps must not be negative, got %d", c.Engine.MaxSteps))
	}
	switch c.Model.Provider {
	case "openai", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("model.provider %q is not supported", c.Model.Provider))
	}
	switch c.Checkpoint.Driver {
	case "memory", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("checkpoint.driver %q is not supported", c.Checkpoint.Driver))
	}
	switch c.Web.Depth {
	case "basic", "advanced":
	default:
		errs = append(errs, fmt.Errorf("web.depth %q is not supported", c.Web.Depth))
	}
	return errors.Join(errs...)
}
