package core

import "time"

// EventType is the caller-facing stream event tag.
type EventType string

const (
	// EventMessage carries one chunk of answer tokens.
	EventMessage EventType = "msg"
	// EventCustom carries a human-readable progress message.
	EventCustom EventType = "custom"
	// EventFinal carries the complete answer and terminates the stream.
	EventFinal EventType = "final_msg"
	// EventError carries a generic failure message and terminates the stream.
	EventError EventType = "error"
)

// Event is one entry of a run's output stream. Only Type and Content are
// part of the wire protocol; the remaining fields are for in-process callers.
type Event struct {
	Type      EventType `json:"type"`
	Content   string    `json:"content"`
	RunID     string    `json:"-"`
	Node      string    `json:"-"`
	Timestamp time.Time `json:"-"`
}

// NewEvent creates an event stamped with the current time.
func NewEvent(runID, node string, typ EventType, content string) Event {
	return Event{Type: typ, Content: content, RunID: runID, Node: node, Timestamp: time.Now().UTC()}
}

// IsTerminal reports whether the event ends a run's stream.
func (e Event) IsTerminal() bool { return e.Type == EventFinal || e.Type == EventError }
