package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/researchmesh/checkpoint"
	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/history"
	"github.com/hupe1980/researchmesh/logging"
	"github.com/hupe1980/researchmesh/model"
	"github.com/hupe1980/researchmesh/prompt"
	"github.com/hupe1980/researchmesh/tool"
	"github.com/sethvargo/go-retry"
)

var (
	// ErrThreadBusy is returned when a run is already active on the thread.
	ErrThreadBusy = errors.New("thread is busy")
	// ErrNothingToResume is returned by Resume when the thread has no
	// unfinished checkpoint.
	ErrNothingToResume = errors.New("no unfinished run to resume")
)

// Config holds the orchestration limits.
type Config struct {
	// MaxPlanTasks is the largest plan accepted before the overflow plan
	// replaces it.
	MaxPlanTasks int
	// MaxTurns is the number of research turns after which the engine
	// stops replanning.
	MaxTurns int
	// MaxSteps is the hard budget of node executions per run. 0 disables it.
	MaxSteps int
	// JSONAttempts is how often a node producing malformed JSON is run.
	JSONAttempts int
	// BindAttempts is how often tool binding is attempted.
	BindAttempts int
	// SelectAttempts is how often a tool selection returning no tool is asked.
	SelectAttempts int
	// RetryDelay is the fixed pause between attempts.
	RetryDelay time.Duration
	// DomainScope describes what the private knowledge base covers.
	DomainScope string
}

// DefaultConfig returns the stock limits.
func DefaultConfig() Config {
	return Config{
		MaxPlanTasks:   5,
		MaxTurns:       2,
		MaxSteps:       400,
		JSONAttempts:   3,
		BindAttempts:   2,
		SelectAttempts: 2,
		RetryDelay:     time.Second,
	}
}

// Update describes one applied transition.
type Update struct {
	From    State
	To      State
	Step    int
	Context core.ExecutionContext
}

// Emitter receives what a run produces while it executes. Calls for one run
// never overlap, but tool progress may arrive from tool goroutines.
type Emitter interface {
	// Token forwards one chunk of answer text.
	Token(ctx context.Context, node State, chunk string)
	// Progress forwards a human-readable progress message.
	Progress(ctx context.Context, node State, msg string)
	// Update reports an applied transition.
	Update(ctx context.Context, u Update)
}

// NopEmitter discards everything.
type NopEmitter struct{}

func (NopEmitter) Token(context.Context, State, string)    {}
func (NopEmitter) Progress(context.Context, State, string) {}
func (NopEmitter) Update(context.Context, Update)          {}

// Result is the outcome of a completed run.
type Result struct {
	RunID  string
	Route  string
	Answer string
	Steps  int
}

// Options configures an Engine.
type Options struct {
	Config Config

	// Store persists checkpoints. Defaults to an in-memory store.
	Store core.CheckpointStore

	// Prompts and Messages default to the embedded English catalogs.
	Prompts  *prompt.Catalog
	Messages *prompt.Messages

	// Extractor renders transcripts and turn histories.
	Extractor *history.Extractor

	Callbacks *CallbackManager
	Logger    logging.Logger

	// Now is the clock used for prompt timestamps.
	Now func() time.Time
}

// Engine runs the checkpointed research state machine. It is safe for
// concurrent use; runs on distinct threads proceed in parallel, a second run
// on a busy thread is rejected.
type Engine struct {
	gateway   model.Gateway
	tools     *tool.Registry
	store     core.CheckpointStore
	prompts   *prompt.Catalog
	messages  *prompt.Messages
	extractor *history.Extractor
	callbacks *CallbackManager
	logger    logging.Logger
	now       func() time.Time
	cfg       Config

	nodes map[State]node

	mu      sync.Mutex
	threads map[string]struct{}
}

// New creates an Engine that calls gw for model work and dispatches research
// through tools.
func New(gw model.Gateway, tools *tool.Registry, optFns ...func(o *Options)) (*Engine, error) {
	opts := Options{
		Config:    DefaultConfig(),
		Extractor: history.New(),
		Callbacks: NewCallbackManager(),
		Logger:    logging.NoOpLogger{},
		Now:       time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if gw == nil || tools == nil {
		return nil, errors.New("engine requires a gateway and a tool registry")
	}
	if opts.Store == nil {
		opts.Store = checkpoint.NewInMemoryStore()
	}
	if opts.Prompts == nil {
		c, err := prompt.LoadCatalog("en", "")
		if err != nil {
			return nil, err
		}
		opts.Prompts = c
	}
	if opts.Messages == nil {
		m, err := prompt.LoadMessages("en", "")
		if err != nil {
			return nil, err
		}
		opts.Messages = m
	}
	if opts.Config.RetryDelay <= 0 {
		opts.Config.RetryDelay = time.Millisecond
	}

	e := &Engine{
		gateway:   gw,
		tools:     tools,
		store:     opts.Store,
		prompts:   opts.Prompts,
		messages:  opts.Messages,
		extractor: opts.Extractor,
		callbacks: opts.Callbacks,
		logger:    opts.Logger,
		now:       opts.Now,
		cfg:       opts.Config,
		threads:   make(map[string]struct{}),
	}
	e.nodes = map[State]node{
		StateRoute:        {run: e.route, attempts: e.cfg.JSONAttempts},
		StateAnswerDirect: {run: e.answerDirect},
		StateAskHuman:     {run: e.askHuman},
		StatePlan:         {run: e.plan, attempts: e.cfg.JSONAttempts},
		StateSelectTool:   {run: e.selectTool},
		StateExecuteTool:  {run: e.executeTool},
		StateUpdateStatus: {run: e.updateStatus},
		StateJudgeReplan:  {run: e.judgeReplan, attempts: e.cfg.JSONAttempts},
		StateRevisePlan:   {run: e.revisePlan, attempts: e.cfg.JSONAttempts},
		StateFinalize:     {run: e.finalize},
	}
	return e, nil
}

// Config returns the engine limits.
func (e *Engine) Config() Config { return e.cfg }

// Run answers userText on the thread identified by threadKey. Prior messages
// of the thread are loaded from the checkpoint store.
func (e *Engine) Run(ctx context.Context, threadKey, userText string, em Emitter) (Result, error) {
	return e.RunWithID(ctx, threadKey, core.NewID(), userText, em)
}

// RunWithID is Run with a caller-chosen run identifier.
func (e *Engine) RunWithID(ctx context.Context, threadKey, runID, userText string, em Emitter) (Result, error) {
	if err := e.acquire(threadKey); err != nil {
		return Result{}, err
	}
	defer e.release(threadKey)

	prev, err := e.store.Load(ctx, threadKey)
	if err != nil {
		return Result{}, core.NewError(core.KindTransport, string(StateStart), fmt.Errorf("load checkpoint: %w", err))
	}

	h := core.NewHistory(threadKey)
	if prev != nil {
		if !prev.Finished() {
			e.logger.Warn("Discarding unfinished run", "thread_key", threadKey, "run_id", prev.Context.RunID, "next", prev.Next)
		}
		h.Append(prev.Messages...)
	}

	rs := &runState{
		ec:      core.ExecutionContext{ThreadKey: threadKey, RunID: runID},
		history: h,
	}
	start := Ok(StateRoute, Delta{Messages: []core.Message{core.NewUserMessage(userText)}})
	if err := e.commit(ctx, rs, StateStart, start, nopIfNil(em)); err != nil {
		return Result{}, err
	}
	return e.loop(ctx, rs, StateRoute, nopIfNil(em))
}

// Resume continues the thread's unfinished run from its checkpointed state.
func (e *Engine) Resume(ctx context.Context, threadKey string, em Emitter) (Result, error) {
	if err := e.acquire(threadKey); err != nil {
		return Result{}, err
	}
	defer e.release(threadKey)

	cp, err := e.store.Load(ctx, threadKey)
	if err != nil {
		return Result{}, core.NewError(core.KindTransport, string(StateStart), fmt.Errorf("load checkpoint: %w", err))
	}
	if cp == nil || cp.Finished() {
		return Result{}, ErrNothingToResume
	}
	if _, ok := e.nodes[State(cp.Next)]; !ok {
		return Result{}, core.NewError(core.KindInvariant, cp.Next, fmt.Errorf("unknown checkpointed state %q", cp.Next))
	}

	rs := &runState{
		ec:      cp.Context.Clone(),
		history: core.NewHistory(threadKey, cp.Messages...),
	}
	e.logger.Info("Resuming run", "thread_key", threadKey, "run_id", rs.ec.RunID, "next", cp.Next, "step_count", rs.ec.Steps)
	return e.loop(ctx, rs, State(cp.Next), nopIfNil(em))
}

// Checkpoint returns the thread's latest checkpoint, or nil.
func (e *Engine) Checkpoint(ctx context.Context, threadKey string) (*core.Checkpoint, error) {
	return e.store.Load(ctx, threadKey)
}

type runState struct {
	ec      core.ExecutionContext
	history *core.History
}

// nodeInput is the read-only view a node works on.
type nodeInput struct {
	ec   core.ExecutionContext
	msgs []core.Message
	emit Emitter
}

type node struct {
	run func(ctx context.Context, in nodeInput) Outcome
	// attempts bounds Retryable outcomes; 0 or 1 means no retry.
	attempts int
}

func (e *Engine) loop(ctx context.Context, rs *runState, current State, em Emitter) (res Result, err error) {
	started := time.Now()
	defer func() {
		if err != nil {
			_ = e.callbacks.ExecuteCallbacks(context.WithoutCancel(ctx), CallbackOnError, &CallbackContext{
				ThreadKey: rs.ec.ThreadKey, RunID: rs.ec.RunID, Node: current, Step: rs.ec.Steps, Err: err,
			})
		}
		logging.LogRun(e.logger, rs.ec.ThreadKey, rs.ec.RunID, rs.ec.Steps, time.Since(started), err)
	}()

	limiter := core.NewStepLimiter(e.cfg.MaxSteps)
	limiter.Resume(rs.ec.Steps)

	for current != StateEnd {
		if cerr := ctx.Err(); cerr != nil {
			return Result{}, core.NewError(core.KindCanceled, string(current), cerr)
		}
		if lerr := limiter.Increment(); lerr != nil {
			return Result{}, core.NewError(core.KindStepBudget, string(current), lerr)
		}

		cc := &CallbackContext{ThreadKey: rs.ec.ThreadKey, RunID: rs.ec.RunID, Node: current, Step: limiter.Count()}
		if cerr := e.callbacks.ExecuteCallbacks(ctx, CallbackBeforeNode, cc); cerr != nil {
			return Result{}, core.NewError(core.KindInvariant, string(current), cerr)
		}

		out := e.execute(ctx, current, rs, em)
		if !out.IsOk() {
			return Result{}, core.NewError(out.Kind, string(current), out.Err)
		}
		rs.ec.Steps = limiter.Count()
		if cerr := e.commit(ctx, rs, current, out, em); cerr != nil {
			return Result{}, cerr
		}

		cc.Next = out.Next
		if cerr := e.callbacks.ExecuteCallbacks(ctx, CallbackAfterNode, cc); cerr != nil {
			return Result{}, core.NewError(core.KindInvariant, string(current), cerr)
		}
		current = out.Next
	}

	return Result{RunID: rs.ec.RunID, Route: rs.ec.Route, Answer: rs.ec.Answer, Steps: rs.ec.Steps}, nil
}

// execute runs one node under its retry policy.
func (e *Engine) execute(ctx context.Context, st State, rs *runState, em Emitter) Outcome {
	n, ok := e.nodes[st]
	if !ok {
		return Fatal(core.KindInvariant, fmt.Errorf("no node for state %s", st))
	}
	attempts := max(n.attempts, 1)

	var out Outcome
	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewConstant(e.cfg.RetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		in := nodeInput{ec: rs.ec.Clone(), msgs: rs.history.Messages(), emit: em}
		out = n.run(ctx, in)
		if out.IsRetryable() {
			e.logger.Warn("Node failed, retrying", "node", st, "kind", out.Kind, "error", out.Err)
			return retry.RetryableError(out.Err)
		}
		return nil
	})
	switch {
	case err != nil && ctx.Err() != nil:
		return Fatal(core.KindCanceled, ctx.Err())
	case out.IsRetryable():
		return Fatal(out.Kind, fmt.Errorf("gave up after %d attempts: %w", attempts, out.Err))
	}
	return out
}

// commit validates the edge, applies the delta and checkpoints the result.
func (e *Engine) commit(ctx context.Context, rs *runState, from State, out Outcome, em Emitter) error {
	if !CanTransition(from, out.Next) {
		return core.NewError(core.KindInvariant, string(from), fmt.Errorf("illegal transition %s -> %s", from, out.Next))
	}

	ec := rs.ec.Clone()
	h := rs.history.Clone()
	out.Delta.apply(&ec, h)

	cp := core.Checkpoint{
		ThreadKey: ec.ThreadKey,
		Context:   ec,
		Messages:  h.Messages(),
		Next:      string(out.Next),
		UpdatedAt: e.now().UTC(),
	}
	if err := e.store.Save(ctx, ec.ThreadKey, cp); err != nil {
		return core.NewError(core.KindTransport, string(from), fmt.Errorf("save checkpoint: %w", err))
	}
	rs.ec, rs.history = ec, h

	logging.LogTransition(e.logger, string(from), string(out.Next), ec.Steps)
	em.Update(ctx, Update{From: from, To: out.Next, Step: ec.Steps, Context: ec.Clone()})
	return nil
}

func (e *Engine) acquire(threadKey string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.threads[threadKey]; busy {
		return fmt.Errorf("%w: %s", ErrThreadBusy, threadKey)
	}
	e.threads[threadKey] = struct{}{}
	return nil
}

func (e *Engine) release(threadKey string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.threads, threadKey)
}

func nopIfNil(em Emitter) Emitter {
	if em == nil {
		return NopEmitter{}
	}
	return em
}
