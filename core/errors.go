package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies orchestration failures.
type ErrorKind string

const (
	// KindMalformedOutput is model output that failed JSON parsing or validation.
	KindMalformedOutput ErrorKind = "malformed_output"
	// KindToolBinding is a tool catalog the model layer refused.
	KindToolBinding ErrorKind = "tool_binding"
	// KindToolExecution is a search or tool failure.
	KindToolExecution ErrorKind = "tool_execution"
	// KindInvariant is a violated engine invariant (unknown route, bad transition, turn 0 judge).
	KindInvariant ErrorKind = "invariant"
	// KindStepBudget is an exhausted transition budget.
	KindStepBudget ErrorKind = "step_budget"
	// KindTransport is a failed model or backend call.
	KindTransport ErrorKind = "transport"
	// KindCanceled is a run abandoned by its caller.
	KindCanceled ErrorKind = "canceled"
)

// GenericErrorMessage is the only failure text ever shown to callers.
const GenericErrorMessage = "Error: An error occurred while running the Agent."

// Error is a classified orchestration failure raised by a node.
type Error struct {
	Kind ErrorKind
	Node string
	Err  error
}

// NewError wraps err with a kind and the node that raised it.
func NewError(kind ErrorKind, node string, err error) *Error {
	return &Error{Kind: kind, Node: node, Err: err}
}

func (e *Error) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("%s error in %s: %v", e.Kind, e.Node, e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the classification of err, or KindTransport for unclassified errors.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindTransport
}
