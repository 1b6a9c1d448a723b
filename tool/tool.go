// Package tool implements the research capability registry. A tool is a pure
// function of (task, transcript) that returns text for the engine to append
// to the thread; tools never see or mutate plan or turn state.
package tool

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownTool is returned when a call names a tool that is not registered.
var ErrUnknownTool = errors.New("unknown tool")

// Input is everything a tool may read.
type Input struct {
	// Task is the plan task being researched.
	Task string
	// History is the rendered research history of the current turn.
	History string
	// Notify forwards a human-readable progress message to the caller. It
	// may be nil.
	Notify func(msg string)
}

// Progress calls Notify when it is set.
func (in Input) Progress(msg string) {
	if in.Notify != nil {
		in.Notify(msg)
	}
}

// Tool is a named research capability.
//
// Tool implementations should:
//   - Provide a clear description that tells the model when NOT to use it
//   - Return *SearchError (or any error, which the registry wraps) on failure
//   - Be safe for concurrent use
type Tool interface {
	// Name returns the unique identifier used in tool calls (snake_case).
	Name() string

	// Description is shown to the model in the tool catalog.
	Description() string

	// Parameters returns the JSON schema of the call arguments.
	Parameters() map[string]any

	// Call executes the tool.
	Call(ctx context.Context, in Input) (string, error)
}

// SearchError is the failure of a tool or its backend. It always carries
// the triggering cause.
type SearchError struct {
	Tool string
	Err  error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("search failed in %s: %v", e.Tool, e.Err)
}

func (e *SearchError) Unwrap() error { return e.Err }

// AsSearchError wraps err for tool unless it already is a SearchError.
func AsSearchError(tool string, err error) *SearchError {
	if err == nil {
		err = errors.New("unknown failure")
	}
	var se *SearchError
	if errors.As(err, &se) {
		return se
	}
	return &SearchError{Tool: tool, Err: err}
}
