package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/engine"
	"github.com/hupe1980/researchmesh/logging"
	"github.com/hupe1980/researchmesh/prompt"
)

// Options holds dependency + configuration overrides passed to New().
type Options struct {
	// EventBufferSize sets the buffering of the caller-facing event channel.
	// Producer channels between the engine and the multiplexer are always
	// unbuffered.
	EventBufferSize int
	// Messages renders the elapsed time notice. Defaults to English.
	Messages *prompt.Messages
	// Logging services.
	Logger logging.Logger
}

// Runner turns engine runs into ordered event streams. Public methods are
// safe for concurrent use.
type Runner struct {
	engine          *engine.Engine
	eventBufferSize int
	messages        *prompt.Messages
	logger          logging.Logger

	activeRuns map[string]context.CancelFunc
	mu         sync.RWMutex
}

// New constructs a Runner with optional overrides.
func New(e *engine.Engine, optFns ...func(o *Options)) (*Runner, error) {
	opts := Options{
		EventBufferSize: 100,
		Logger:          logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Messages == nil {
		m, err := prompt.LoadMessages("en", "")
		if err != nil {
			return nil, err
		}
		opts.Messages = m
	}

	return &Runner{
		engine:          e,
		eventBufferSize: opts.EventBufferSize,
		messages:        opts.Messages,
		logger:          opts.Logger,
		activeRuns:      make(map[string]context.CancelFunc),
	}, nil
}

// Run starts answering userText on the thread and returns the run ID and its
// event stream. The stream ends with exactly one final_msg or error event
// and is then closed.
func (r *Runner) Run(ctx context.Context, threadKey, userText string) (string, <-chan core.Event, error) {
	if threadKey == "" {
		return "", nil, errors.New("thread key is required")
	}

	runID := core.NewID()
	events := r.start(ctx, threadKey, runID, func(ctx context.Context, em engine.Emitter) error {
		_, err := r.engine.RunWithID(ctx, threadKey, runID, userText, em)
		return err
	})

	return runID, events, nil
}

// Resume continues the thread's unfinished run. It fails immediately when
// there is nothing to resume.
func (r *Runner) Resume(ctx context.Context, threadKey string) (string, <-chan core.Event, error) {
	cp, err := r.engine.Checkpoint(ctx, threadKey)
	if err != nil {
		return "", nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if cp == nil || cp.Finished() {
		return "", nil, engine.ErrNothingToResume
	}

	runID := cp.Context.RunID
	events := r.start(ctx, threadKey, runID, func(ctx context.Context, em engine.Emitter) error {
		_, err := r.engine.Resume(ctx, threadKey, em)
		return err
	})

	return runID, events, nil
}

// Cancel cancels a running run by ID.
func (r *Runner) Cancel(runID string) error {
	r.mu.RLock()
	cancel, exists := r.activeRuns[runID]
	r.mu.RUnlock()

	if !exists {
		return fmt.Errorf("run %s not found", runID)
	}

	cancel()

	return nil
}

// start launches the engine goroutine and the multiplexer goroutine.
func (r *Runner) start(
	ctx context.Context,
	threadKey, runID string,
	exec func(ctx context.Context, em engine.Emitter) error,
) <-chan core.Event {
	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.activeRuns[runID] = cancel
	r.mu.Unlock()

	em := &channelEmitter{
		tokens:  make(chan string),
		custom:  make(chan string),
		updates: make(chan engine.Update),
	}
	done := make(chan error, 1)
	out := make(chan core.Event, r.eventBufferSize)

	go func() {
		err := exec(runCtx, em)

		r.mu.Lock()
		delete(r.activeRuns, runID)
		r.mu.Unlock()
		cancel()

		done <- err
	}()

	go func() {
		defer close(out)

		r.multiplex(ctx, threadKey, runID, em, done, out)
	}()

	return out
}

// multiplex merges the producer channels into out. Producers are unbuffered
// and every send blocks until it is received here, so events leave in the
// order the engine produced them. The engine's result is only read after
// all of its sends completed.
func (r *Runner) multiplex(
	ctx context.Context,
	threadKey, runID string,
	em *channelEmitter,
	done <-chan error,
	out chan<- core.Event,
) {
	started := time.Now()
	send := func(ev core.Event) bool {
		select {
		case <-ctx.Done():
			return false
		case out <- ev:
			return true
		}
	}

	var last engine.Update
	for {
		select {
		case chunk := <-em.tokens:
			if !send(core.NewEvent(runID, "", core.EventMessage, chunk)) {
				return
			}
		case msg := <-em.custom:
			if !send(core.NewEvent(runID, "", core.EventCustom, msg)) {
				return
			}
		case u := <-em.updates:
			last = u
		case err := <-done:
			elapsed := r.messages.Format(prompt.MsgElapsed, map[string]any{
				"Seconds": fmt.Sprintf("%.1f", time.Since(started).Seconds()),
			})
			if !send(core.NewEvent(runID, "", core.EventCustom, elapsed)) {
				return
			}

			if err != nil {
				r.logFailure(threadKey, runID, err)
				send(core.NewEvent(runID, "", core.EventError, core.GenericErrorMessage))
				return
			}
			send(core.NewEvent(runID, string(last.From), core.EventFinal, last.Context.Answer))
			return
		}
	}
}

func (r *Runner) logFailure(threadKey, runID string, err error) {
	node := ""
	var ce *core.Error
	if errors.As(err, &ce) {
		node = ce.Node
	}
	r.logger.Error("Run failed",
		"thread_key", threadKey,
		"run_id", runID,
		"kind", string(core.KindOf(err)),
		"node", node,
		"error", err.Error(),
	)
}

// channelEmitter hands engine output to the multiplexer.
type channelEmitter struct {
	tokens  chan string
	custom  chan string
	updates chan engine.Update
}

var _ engine.Emitter = (*channelEmitter)(nil)

func (c *channelEmitter) Token(ctx context.Context, _ engine.State, chunk string) {
	select {
	case <-ctx.Done():
	case c.tokens <- chunk:
	}
}

func (c *channelEmitter) Progress(ctx context.Context, _ engine.State, msg string) {
	select {
	case <-ctx.Done():
	case c.custom <- msg:
	}
}

func (c *channelEmitter) Update(ctx context.Context, u engine.Update) {
	select {
	case <-ctx.Done():
	case c.updates <- u:
	}
}

// WriteNDJSON writes every event as one JSON object per line until the
// stream is closed.
func WriteNDJSON(w io.Writer, events <-chan core.Event) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("failed to write event: %w", err)
		}
	}
	return nil
}

// ErrRunFailed is returned by Collect when the stream ended with an error event.
var ErrRunFailed = errors.New(core.GenericErrorMessage)

// Collect drains events and returns the final answer.
func Collect(events <-chan core.Event) (string, error) {
	answer, failed, terminal := "", false, false
	for ev := range events {
		switch ev.Type {
		case core.EventFinal:
			answer, terminal = ev.Content, true
		case core.EventError:
			failed, terminal = true, true
		}
	}
	switch {
	case failed:
		return "", ErrRunFailed
	case !terminal:
		return "", errors.New("stream closed without a terminal event")
	}
	return answer, nil
}
