package tool

import (
	"context"

	"github.com/hupe1980/researchmesh/internal/util"
)

// TaskArgs is the argument shape every research tool exposes to the model.
// The engine always passes the plan task itself, so the arguments only help
// the model make its selection.
type TaskArgs struct {
	Task string `json:"task" description:"The research task to perform"`
}

// FunctionTool is a generic adapter that exposes a plain Go function as a tool.
//
// Error Semantics:
//
//	*SearchError (returned directly) -> forwarded unchanged
//	other error                      -> wrapped in *SearchError
//
// A FunctionTool has no internal mutable state after construction and is safe
// for concurrent use by multiple goroutines.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	fn          func(ctx context.Context, in Input) (string, error)
}

// NewFunctionTool constructs a FunctionTool with the TaskArgs schema.
//
// Example:
//
//	echo := NewFunctionTool(
//	  "echo",
//	  "Repeat the task back. Never use for real research.",
//	  func(ctx context.Context, in Input) (string, error) { return in.Task, nil },
//	)
func NewFunctionTool(
	name, description string,
	fn func(ctx context.Context, in Input) (string, error),
) *FunctionTool {
	return &FunctionTool{
		name:        name,
		description: description,
		parameters:  util.CreateSchema(TaskArgs{}),
		fn:          fn,
	}
}

// Name returns the unique tool name used in tool calls.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the natural language description exposed to models.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the JSON schema describing expected arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Call invokes the underlying function.
func (t *FunctionTool) Call(ctx context.Context, in Input) (string, error) {
	out, err := t.fn(ctx, in)
	if err != nil {
		return "", AsSearchError(t.name, err)
	}
	return out, nil
}
