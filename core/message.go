package core

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a Message.
type Role string

const (
	// RoleUser marks text typed by the end user.
	RoleUser Role = "user"
	// RoleAssistant marks model output, plan records and sentinel markers.
	RoleAssistant Role = "assistant"
	// RoleTool marks the result of a tool invocation.
	RoleTool Role = "tool"
)

// ContentKind tags how Content must be interpreted. Structured content holds
// exactly one JSON value and is never shown to models as conversation text.
type ContentKind string

const (
	// KindPlain is free text.
	KindPlain ContentKind = "plain"
	// KindStructured is a single JSON value.
	KindStructured ContentKind = "structured"
)

const (
	markerTurn = "start_turn"
	markerTask = "plan_exec"
)

// ToolCall is a tool invocation attached to an assistant message.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

// Message is one entry in a conversation thread. The Role together with the
// ContentKind forms a closed tagged union; use the constructors below rather
// than building values by hand.
type Message struct {
	ID         string      `json:"id"`
	Role       Role        `json:"role"`
	Kind       ContentKind `json:"kind"`
	Content    string      `json:"content"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
	ToolName   string      `json:"tool_name,omitempty"`
	Failed     bool        `json:"failed,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// NewID returns a random identifier for messages, runs and tool calls.
func NewID() string { return uuid.NewString() }

func newMessage(role Role, kind ContentKind, content string) Message {
	return Message{ID: NewID(), Role: role, Kind: kind, Content: content, Timestamp: time.Now().UTC()}
}

// NewUserMessage creates a plain user message.
func NewUserMessage(text string) Message { return newMessage(RoleUser, KindPlain, text) }

// NewAssistantMessage creates a plain assistant message.
func NewAssistantMessage(text string) Message { return newMessage(RoleAssistant, KindPlain, text) }

// NewStructuredMessage marshals v and stores it as structured assistant content.
func NewStructuredMessage(v any) (Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, err
	}
	return newMessage(RoleAssistant, KindStructured, string(data)), nil
}

// NewToolResultMessage records the output of one tool call.
func NewToolResultMessage(call ToolCall, content string, failed bool) Message {
	m := newMessage(RoleTool, KindPlain, content)
	m.ToolCallID = call.ID
	m.ToolName = call.Name
	m.Failed = failed
	return m
}

type markerPayload struct {
	Type     string `json:"type"`
	PlanExec string `json:"plan_exec,omitempty"`
}

// NewTurnMarker creates the sentinel that opens a new research turn.
func NewTurnMarker() Message {
	m, _ := NewStructuredMessage(markerPayload{Type: markerTurn})
	return m
}

// NewTaskMarker creates the assistant message announcing the task being
// executed together with the selected tool calls.
func NewTaskMarker(task string, calls []ToolCall) Message {
	m, _ := NewStructuredMessage(markerPayload{Type: markerTask, PlanExec: task})
	m.ToolCalls = append([]ToolCall(nil), calls...)
	return m
}

func (m Message) marker() (markerPayload, bool) {
	if m.Role != RoleAssistant || m.Kind != KindStructured {
		return markerPayload{}, false
	}
	var p markerPayload
	if err := json.Unmarshal([]byte(m.Content), &p); err != nil {
		return markerPayload{}, false
	}
	return p, p.Type != ""
}

// IsTurnMarker reports whether m opens a research turn.
func (m Message) IsTurnMarker() bool {
	p, ok := m.marker()
	return ok && p.Type == markerTurn
}

// TaskText returns the task announced by a task marker.
func (m Message) TaskText() (string, bool) {
	p, ok := m.marker()
	if !ok || p.Type != markerTask {
		return "", false
	}
	return p.PlanExec, true
}

// IsStructured reports whether the content is a JSON value.
func (m Message) IsStructured() bool { return m.Kind == KindStructured }
