package testutil

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/model"
)

// Reply is one scripted gateway answer.
type Reply struct {
	Text  string
	Calls []core.ToolCall
	Err   error
}

// Text is shorthand for a plain text reply.
func Text(s string) Reply { return Reply{Text: s} }

// JSON is shorthand for a reply carrying v encoded as JSON.
func JSON(v any) Reply {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return Reply{Text: string(b)}
}

// Calls is shorthand for a tool selection naming tools in order.
func Calls(tools ...string) Reply {
	r := Reply{}
	for _, t := range tools {
		r.Calls = append(r.Calls, core.ToolCall{Name: t, Arguments: `{"task":""}`})
	}
	return r
}

// Fail is shorthand for a failing reply.
func Fail(err error) Reply { return Reply{Err: err} }

// ScriptedGateway answers prompts from per-name queues. When a queue runs
// dry its last reply repeats. It records every prompt it receives.
type ScriptedGateway struct {
	mu       sync.Mutex
	scripts  map[string][]Reply
	bindErrs []error
	prompts  []model.Prompt
	binds    int
}

var _ model.Gateway = (*ScriptedGateway)(nil)

// NewScriptedGateway creates an empty script.
func NewScriptedGateway() *ScriptedGateway {
	return &ScriptedGateway{scripts: map[string][]Reply{}}
}

// On queues replies for the prompt named name.
func (g *ScriptedGateway) On(name string, replies ...Reply) *ScriptedGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scripts[name] = append(g.scripts[name], replies...)
	return g
}

// FailBind queues errors for successive BindTools calls.
func (g *ScriptedGateway) FailBind(errs ...error) *ScriptedGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bindErrs = append(g.bindErrs, errs...)
	return g
}

// Prompts returns the prompts received so far.
func (g *ScriptedGateway) Prompts() []model.Prompt {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]model.Prompt(nil), g.prompts...)
}

// Count returns how often the prompt named name was received.
func (g *ScriptedGateway) Count(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, p := range g.prompts {
		if p.Name == name {
			n++
		}
	}
	return n
}

// Binds returns how often BindTools was called.
func (g *ScriptedGateway) Binds() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.binds
}

func (g *ScriptedGateway) next(p model.Prompt) Reply {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, p)
	q := g.scripts[p.Name]
	switch len(q) {
	case 0:
		return Reply{Text: "unscripted " + p.Name}
	case 1:
		return q[0]
	default:
		g.scripts[p.Name] = q[1:]
		return q[0]
	}
}

// Complete implements model.Gateway.
func (g *ScriptedGateway) Complete(_ context.Context, p model.Prompt) (string, error) {
	r := g.next(p)
	return r.Text, r.Err
}

// CompleteJSON implements model.Gateway.
func (g *ScriptedGateway) CompleteJSON(_ context.Context, p model.Prompt, schema []byte) (json.RawMessage, error) {
	r := g.next(p)
	if r.Err != nil {
		return nil, r.Err
	}
	raw, err := model.ExtractJSON(r.Text)
	if err != nil {
		return nil, err
	}
	if schema != nil {
		if err := model.Validate(schema, raw); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

// CompleteStreaming implements model.Gateway. The reply text is streamed
// one word at a time.
func (g *ScriptedGateway) CompleteStreaming(ctx context.Context, p model.Prompt) (<-chan string, <-chan error) {
	r := g.next(p)
	out := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		for _, chunk := range strings.SplitAfter(r.Text, " ") {
			if chunk == "" {
				continue
			}
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- chunk:
			}
		}
		if r.Err != nil {
			errCh <- r.Err
		}
	}()
	return out, errCh
}

// BindTools implements model.Gateway.
func (g *ScriptedGateway) BindTools([]model.ToolDefinition) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.binds++
	if len(g.bindErrs) == 0 {
		return nil
	}
	err := g.bindErrs[0]
	g.bindErrs = g.bindErrs[1:]
	return err
}

// SelectTool implements model.Gateway.
func (g *ScriptedGateway) SelectTool(_ context.Context, p model.Prompt, _ []model.ToolDefinition, _ bool) ([]core.ToolCall, error) {
	r := g.next(p)
	if r.Err != nil {
		return nil, r.Err
	}
	calls := make([]core.ToolCall, len(r.Calls))
	for i, c := range r.Calls {
		if c.ID == "" {
			c.ID = core.NewID()
		}
		calls[i] = c
	}
	return calls, nil
}
