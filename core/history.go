package core

import (
	"sync"
	"time"
)

// History is the append-only message log of a conversation thread. It is
// safe for concurrent access.
//
// Contract:
//   - Append never rewrites earlier entries
//   - Messages returns a defensive copy
//   - Clone performs a deep copy safe for independent mutation
type History struct {
	ThreadKey string    `json:"thread_key"`
	Created   time.Time `json:"created"`
	Updated   time.Time `json:"updated"`

	mu       sync.RWMutex
	messages []Message
}

// NewHistory creates an empty history for threadKey.
func NewHistory(threadKey string, msgs ...Message) *History {
	now := time.Now()
	h := &History{ThreadKey: threadKey, Created: now, Updated: now}
	h.messages = append(h.messages, msgs...)
	return h
}

// Append adds messages to the end of the log.
func (h *History) Append(msgs ...Message) {
	if len(msgs) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msgs...)
	h.Updated = time.Now()
}

// Messages returns a copy of the log in chronological order.
func (h *History) Messages() []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Len returns the number of messages.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// Last returns the most recent message.
func (h *History) Last() (Message, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.messages) == 0 {
		return Message{}, false
	}
	return h.messages[len(h.messages)-1], true
}

// Clone returns a deep copy of the history.
func (h *History) Clone() *History {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c := &History{ThreadKey: h.ThreadKey, Created: h.Created, Updated: h.Updated}
	c.messages = make([]Message, len(h.messages))
	for i, m := range h.messages {
		m.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
		c.messages[i] = m
	}
	return c
}
