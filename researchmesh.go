// Package researchmesh provides a high-level façade over the research engine
// and its event runner. Most applications interact with this package by:
//  1. Creating a ResearchMesh via New() with a model gateway and a tool
//     registry, or via NewFromConfig() which wires providers, tools and the
//     checkpoint store from a config.Config
//  2. Asking questions on a thread asynchronously (Ask) or synchronously
//     (AskSync)
//  3. Resuming runs that were abandoned mid-flight (Resume)
//
// All defaults are safe for local development and testing; production
// deployments typically supply a durable checkpoint store and a structured
// logger.
package researchmesh

import (
	"context"
	"errors"
	"io"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/engine"
	"github.com/hupe1980/researchmesh/history"
	"github.com/hupe1980/researchmesh/logging"
	"github.com/hupe1980/researchmesh/model"
	"github.com/hupe1980/researchmesh/prompt"
	"github.com/hupe1980/researchmesh/runner"
	"github.com/hupe1980/researchmesh/tool"
)

// Options configures the ResearchMesh instance.
type Options struct {
	// EngineConfig holds the orchestration limits (plan size, turns, step
	// budget, retries).
	EngineConfig engine.Config

	// Store persists thread checkpoints. Defaults to an in-memory store.
	Store core.CheckpointStore

	// Prompts and Messages default to the embedded English catalogs.
	Prompts  *prompt.Catalog
	Messages *prompt.Messages

	// Extractor renders transcripts for prompts.
	Extractor *history.Extractor

	// Callbacks observe node execution.
	Callbacks *engine.CallbackManager

	// EventBufferSize sets the buffering of returned event channels.
	EventBufferSize int

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// ResearchMesh is the high-level façade aggregating the engine and the runner.
type ResearchMesh struct {
	opts    Options
	tools   *tool.Registry
	engine  *engine.Engine
	runner  *runner.Runner
	closers []io.Closer
}

// New creates a ResearchMesh that answers with gw and researches with tools.
func New(gw model.Gateway, tools *tool.Registry, optFns ...func(o *Options)) (*ResearchMesh, error) {
	opts := Options{
		EngineConfig:    engine.DefaultConfig(),
		Extractor:       history.New(),
		Callbacks:       engine.NewCallbackManager(),
		EventBufferSize: 100,
		Logger:          logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	e, err := engine.New(gw, tools, func(o *engine.Options) {
		o.Config = opts.EngineConfig
		o.Store = opts.Store
		o.Prompts = opts.Prompts
		o.Messages = opts.Messages
		o.Extractor = opts.Extractor
		o.Callbacks = opts.Callbacks
		o.Logger = opts.Logger
	})
	if err != nil {
		return nil, err
	}

	r, err := runner.New(e, func(o *runner.Options) {
		o.EventBufferSize = opts.EventBufferSize
		o.Messages = opts.Messages
		o.Logger = opts.Logger
	})
	if err != nil {
		return nil, err
	}

	return &ResearchMesh{opts: opts, tools: tools, engine: e, runner: r}, nil
}

// Ask starts answering userText on the thread and returns the run ID and
// its event stream.
func (m *ResearchMesh) Ask(ctx context.Context, threadKey, userText string) (string, <-chan core.Event, error) {
	return m.runner.Run(ctx, threadKey, userText)
}

// AskSync is a synchronous helper that drains the event stream and returns
// the final answer together with every event received.
func (m *ResearchMesh) AskSync(ctx context.Context, threadKey, userText string) (string, []core.Event, error) {
	_, events, err := m.runner.Run(ctx, threadKey, userText)
	if err != nil {
		return "", nil, err
	}
	return collect(ctx, events)
}

// Resume continues the thread's abandoned run.
func (m *ResearchMesh) Resume(ctx context.Context, threadKey string) (string, <-chan core.Event, error) {
	return m.runner.Resume(ctx, threadKey)
}

// Cancel abandons a running run by ID.
func (m *ResearchMesh) Cancel(runID string) error { return m.runner.Cancel(runID) }

// Engine returns the underlying engine.
func (m *ResearchMesh) Engine() *engine.Engine { return m.engine }

// Tools returns the tool registry.
func (m *ResearchMesh) Tools() *tool.Registry { return m.tools }

// Close releases resources opened by NewFromConfig.
func (m *ResearchMesh) Close() error {
	var errs []error
	for _, c := range m.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func collect(ctx context.Context, events <-chan core.Event) (string, []core.Event, error) {
	var (
		all    []core.Event
		answer string
		failed bool
		ended  bool
	)
	for {
		select {
		case <-ctx.Done():
			return "", all, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				switch {
				case failed:
					return "", all, runner.ErrRunFailed
				case !ended:
					return "", all, errors.New("event stream closed without a terminal event")
				}
				return answer, all, nil
			}
			all = append(all, ev)
			ended = ended || ev.IsTerminal()
			switch ev.Type {
			case core.EventFinal:
				answer = ev.Content
			case core.EventError:
				failed = true
			}
		}
	}
}
