package core

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkers(t *testing.T) {
	turn := NewTurnMarker()
	assert.True(t, turn.IsTurnMarker())
	assert.True(t, turn.IsStructured())
	assert.JSONEq(t, `{"type":"start_turn"}`, turn.Content)

	task := NewTaskMarker("find recent papers", []ToolCall{{ID: "c1", Name: "paper_search"}})
	assert.False(t, task.IsTurnMarker())
	text, ok := task.TaskText()
	require.True(t, ok)
	assert.Equal(t, "find recent papers", text)
	assert.Len(t, task.ToolCalls, 1)

	_, ok = NewAssistantMessage(`{"type":"plan_exec","plan_exec":"x"}`).TaskText()
	assert.False(t, ok, "plain content is never interpreted as a marker")
}

func TestStructuredMessage(t *testing.T) {
	m, err := NewStructuredMessage(map[string]any{"plan": []string{"a"}})
	require.NoError(t, err)
	assert.Equal(t, RoleAssistant, m.Role)
	assert.True(t, json.Valid([]byte(m.Content)))
	assert.False(t, m.IsTurnMarker())
}

func TestToolResultMessage(t *testing.T) {
	m := NewToolResultMessage(ToolCall{ID: "c1", Name: "web_search"}, "result", true)
	assert.Equal(t, RoleTool, m.Role)
	assert.Equal(t, "c1", m.ToolCallID)
	assert.Equal(t, "web_search", m.ToolName)
	assert.True(t, m.Failed)
}

func TestHistory_AppendAndClone(t *testing.T) {
	h := NewHistory("t1", NewUserMessage("hi"))
	h.Append(NewTaskMarker("task", []ToolCall{{ID: "1", Name: "x"}}))
	assert.Equal(t, 2, h.Len())

	c := h.Clone()
	c.Append(NewAssistantMessage("later"))
	assert.Equal(t, 2, h.Len())
	assert.Equal(t, 3, c.Len())

	msgs := h.Messages()
	msgs[0].Content = "changed"
	assert.Equal(t, "hi", h.Messages()[0].Content)

	last, ok := c.Last()
	require.True(t, ok)
	assert.Equal(t, "later", last.Content)
}

func TestStepLimiter(t *testing.T) {
	l := NewStepLimiter(2)
	assert.NoError(t, l.Increment())
	assert.NoError(t, l.Increment())
	assert.Error(t, l.Increment())
	assert.Equal(t, 3, l.Count())

	unlimited := NewStepLimiter(0)
	assert.Equal(t, -1, unlimited.Remaining())
	assert.NoError(t, unlimited.Increment())

	resumed := NewStepLimiter(5)
	resumed.Resume(4)
	assert.Equal(t, 1, resumed.Remaining())
}

func TestErrorKind(t *testing.T) {
	cause := errors.New("boom")
	err := NewError(KindInvariant, "ROUTE", cause)
	wrapped := errors.Join(errors.New("outer"), err)

	assert.Equal(t, KindInvariant, KindOf(wrapped))
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, KindTransport, KindOf(cause))
	assert.Contains(t, err.Error(), "ROUTE")
}

func TestCheckpointClone(t *testing.T) {
	cp := Checkpoint{
		ThreadKey: "t",
		Messages:  []Message{NewTaskMarker("a", []ToolCall{{ID: "1"}})},
		Next:      "SELECT_TOOL",
	}
	c := cp.Clone()
	c.Messages[0].ToolCalls[0].ID = "2"
	assert.Equal(t, "1", cp.Messages[0].ToolCalls[0].ID)
	assert.False(t, cp.Finished())
	assert.True(t, Checkpoint{Next: StateEnd}.Finished())
}
