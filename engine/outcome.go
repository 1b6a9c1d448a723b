package engine

import "github.com/hupe1980/researchmesh/core"

type outcomeKind int

const (
	outcomeOk outcomeKind = iota
	outcomeFatal
	outcomeRetryable
)

// Delta is the state change a node asks the engine to apply.
type Delta struct {
	// Messages are appended to the thread history.
	Messages []core.Message
	// Update mutates the execution context. It may be nil.
	Update func(ec *core.ExecutionContext)
}

// Outcome is the result of running one node.
type Outcome struct {
	kind  outcomeKind
	Next  State
	Delta Delta
	Kind  core.ErrorKind
	Err   error
}

// Ok moves to next after applying d.
func Ok(next State, d Delta) Outcome {
	return Outcome{kind: outcomeOk, Next: next, Delta: d}
}

// Fatal aborts the run.
func Fatal(kind core.ErrorKind, err error) Outcome {
	return Outcome{kind: outcomeFatal, Kind: kind, Err: err}
}

// Retryable asks the engine to run the node again under its retry policy.
func Retryable(kind core.ErrorKind, err error) Outcome {
	return Outcome{kind: outcomeRetryable, Kind: kind, Err: err}
}

// IsOk reports whether the node succeeded.
func (o Outcome) IsOk() bool { return o.kind == outcomeOk }

// IsRetryable reports whether the failure may succeed on another attempt.
func (o Outcome) IsRetryable() bool { return o.kind == outcomeRetryable }

func (d Delta) apply(ec *core.ExecutionContext, h *core.History) {
	h.Append(d.Messages...)
	if d.Update != nil {
		d.Update(ec)
	}
}
