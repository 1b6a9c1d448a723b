package core

import (
	"context"
	"time"

	"github.com/hupe1980/researchmesh/plan"
)

// ExecutionContext is the state the engine owns for one top-level request.
// Only the engine writes it; nodes receive a copy and return deltas.
type ExecutionContext struct {
	ThreadKey      string     `json:"thread_key"`
	RunID          string     `json:"run_id"`
	Route          string     `json:"route,omitempty"`
	RevisedRequest string     `json:"revised_request,omitempty"`
	RouteReason    string     `json:"route_reason,omitempty"`
	CurrentTask    string     `json:"current_task,omitempty"`
	Turn           int        `json:"turn"`
	Plan           *plan.Plan `json:"plan,omitempty"`
	PlanOver       bool       `json:"plan_over"`
	Answer         string     `json:"answer,omitempty"`
	Steps          int        `json:"steps"`
}

// Clone returns an independent copy.
func (c ExecutionContext) Clone() ExecutionContext {
	if c.Plan != nil {
		p := *c.Plan
		c.Plan = &p
	}
	return c
}

// StateEnd is the name of the terminal state stored in finished checkpoints.
const StateEnd = "END"

// Checkpoint is the persisted state of a thread after a transition.
type Checkpoint struct {
	ThreadKey string           `json:"thread_key"`
	Context   ExecutionContext `json:"context"`
	Messages  []Message        `json:"messages"`
	Next      string           `json:"next"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Finished reports whether the checkpointed run reached END.
func (c Checkpoint) Finished() bool { return c.Next == "" || c.Next == StateEnd }

// Clone returns a deep copy of the checkpoint.
func (c Checkpoint) Clone() Checkpoint {
	c.Context = c.Context.Clone()
	msgs := make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		m.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
		msgs[i] = m
	}
	c.Messages = msgs
	return c
}

// CheckpointStore persists thread checkpoints. Load returns (nil, nil) when
// the thread has never been saved.
type CheckpointStore interface {
	Load(ctx context.Context, threadKey string) (*Checkpoint, error)
	Save(ctx context.Context, threadKey string, cp Checkpoint) error
}
