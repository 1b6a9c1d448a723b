package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Status is the completion state of a single plan task.
type Status string

const (
	// StatusOpen marks a task that has not been researched yet.
	StatusOpen Status = "open"
	// StatusDone marks a task whose tool execution completed.
	StatusDone Status = "done"
)

// ErrInvalidPlan is returned when tasks and statuses cannot form a plan.
var ErrInvalidPlan = errors.New("invalid plan")

// Plan is an ordered list of research tasks with parallel statuses.
// A Plan value is never mutated in place; Advance returns a new value.
type Plan struct {
	tasks    []string
	statuses []Status
}

// New builds a plan, rejecting mismatched lengths and unknown statuses.
func New(tasks []string, statuses []Status) (Plan, error) {
	if len(tasks) != len(statuses) {
		return Plan{}, fmt.Errorf("%w: %d tasks but %d statuses", ErrInvalidPlan, len(tasks), len(statuses))
	}
	for i, s := range statuses {
		if s != StatusOpen && s != StatusDone {
			return Plan{}, fmt.Errorf("%w: unknown status %q at index %d", ErrInvalidPlan, s, i)
		}
	}
	return Plan{
		tasks:    append([]string(nil), tasks...),
		statuses: append([]Status(nil), statuses...),
	}, nil
}

// Open builds a plan where every task is open.
func Open(tasks ...string) Plan {
	statuses := make([]Status, len(tasks))
	for i := range statuses {
		statuses[i] = StatusOpen
	}
	return Plan{tasks: append([]string(nil), tasks...), statuses: statuses}
}

// Overflow is the single-task plan substituted when a generated plan is too long.
func Overflow(revisedRequest string) Plan {
	return Open(revisedRequest)
}

// Normalize applies the overflow policy to a freshly generated plan. When
// tasks exceed max the result is the overflow plan and overflow is true.
func Normalize(tasks []string, statuses []Status, max int, revisedRequest string) (p Plan, overflow bool, err error) {
	if max > 0 && len(tasks) > max {
		return Overflow(revisedRequest), true, nil
	}
	p, err = New(tasks, statuses)
	if err != nil {
		return Plan{}, false, err
	}
	return p, false, nil
}

// Len returns the number of tasks.
func (p Plan) Len() int { return len(p.tasks) }

// Tasks returns a copy of the task list.
func (p Plan) Tasks() []string { return append([]string(nil), p.tasks...) }

// Statuses returns a copy of the status list.
func (p Plan) Statuses() []Status { return append([]Status(nil), p.statuses...) }

// FirstOpen returns the first open task and its index.
func (p Plan) FirstOpen() (int, string, bool) {
	for i, s := range p.statuses {
		if s == StatusOpen {
			return i, p.tasks[i], true
		}
	}
	return -1, "", false
}

// HasOpen reports whether any task is still open.
func (p Plan) HasOpen() bool {
	_, _, ok := p.FirstOpen()
	return ok
}

// Advance flips the first open task to done. exhausted reports whether the
// returned plan has no open tasks left.
func (p Plan) Advance() (next Plan, exhausted bool) {
	next = Plan{tasks: p.Tasks(), statuses: p.Statuses()}
	if i, _, ok := next.FirstOpen(); ok {
		next.statuses[i] = StatusDone
	}
	return next, !next.HasOpen()
}

// Summary renders the plan as a bullet list for progress messages.
func (p Plan) Summary() string {
	var sb strings.Builder
	for i, t := range p.tasks {
		mark := " "
		if p.statuses[i] == StatusDone {
			mark = "x"
		}
		fmt.Fprintf(&sb, "- [%s] %s\n", mark, t)
	}
	return sb.String()
}

// record is the storage form shared with model output.
type record struct {
	Plan       []string `json:"plan"`
	PlanStatus []Status `json:"plan_status"`
}

// MarshalJSON encodes the plan in its storage form.
func (p Plan) MarshalJSON() ([]byte, error) {
	r := record{Plan: p.tasks, PlanStatus: p.statuses}
	if r.Plan == nil {
		r.Plan = []string{}
		r.PlanStatus = []Status{}
	}
	return json.Marshal(r)
}

// UnmarshalJSON decodes the storage form and validates it.
func (p *Plan) UnmarshalJSON(data []byte) error {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	np, err := New(r.Plan, r.PlanStatus)
	if err != nil {
		return err
	}
	*p = np
	return nil
}
