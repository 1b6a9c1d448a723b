package testutil

import (
	"fmt"

	"github.com/hupe1980/researchmesh/core"
)

// HistoryBuilder provides a fluent helper for constructing message logs in tests.
// Example:
//
//	msgs := NewHistoryBuilder().User("hi").TurnMarker().Task("t", "web_search").ToolResult("web_search", "r").Build()
//
// Task registers tool calls that subsequent ToolResult calls answer in order.
type HistoryBuilder struct {
	msgs    []core.Message
	pending []core.ToolCall
	seq     int
}

// NewHistoryBuilder creates an empty builder.
func NewHistoryBuilder() *HistoryBuilder { return &HistoryBuilder{} }

// User appends a user message (chainable).
func (b *HistoryBuilder) User(text string) *HistoryBuilder {
	b.msgs = append(b.msgs, core.NewUserMessage(text))
	return b
}

// Assistant appends a plain assistant message (chainable).
func (b *HistoryBuilder) Assistant(text string) *HistoryBuilder {
	b.msgs = append(b.msgs, core.NewAssistantMessage(text))
	return b
}

// TurnMarker appends a turn-boundary marker (chainable).
func (b *HistoryBuilder) TurnMarker() *HistoryBuilder {
	b.msgs = append(b.msgs, core.NewTurnMarker())
	return b
}

// Task appends a task marker calling the named tools (chainable).
func (b *HistoryBuilder) Task(task string, tools ...string) *HistoryBuilder {
	calls := make([]core.ToolCall, len(tools))
	for i, name := range tools {
		b.seq++
		calls[i] = core.ToolCall{ID: fmt.Sprintf("call-%d", b.seq), Name: name}
	}
	b.pending = append(b.pending, calls...)
	b.msgs = append(b.msgs, core.NewTaskMarker(task, calls))
	return b
}

// ToolResult appends a successful tool result (chainable).
func (b *HistoryBuilder) ToolResult(tool, content string) *HistoryBuilder {
	return b.result(tool, content, false)
}

// FailedToolResult appends a failed tool result (chainable).
func (b *HistoryBuilder) FailedToolResult(tool, content string) *HistoryBuilder {
	return b.result(tool, content, true)
}

func (b *HistoryBuilder) result(tool, content string, failed bool) *HistoryBuilder {
	call := core.ToolCall{Name: tool}
	for i, c := range b.pending {
		if c.Name == tool {
			call = c
			b.pending = append(b.pending[:i], b.pending[i+1:]...)
			break
		}
	}
	b.msgs = append(b.msgs, core.NewToolResultMessage(call, content, failed))
	return b
}

// Build returns the accumulated messages.
func (b *HistoryBuilder) Build() []core.Message {
	return append([]core.Message(nil), b.msgs...)
}
