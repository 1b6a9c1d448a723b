package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/logging"
	"github.com/tidwall/gjson"
	"github.com/xeipuuv/gojsonschema"
)

var (
	// ErrMalformedOutput marks model output that is not the requested JSON shape.
	ErrMalformedOutput = errors.New("malformed model output")
	// ErrToolBinding marks a tool catalog the gateway refused to bind.
	ErrToolBinding = errors.New("tool binding failed")
)

// Prompt is one rendered model invocation. Name identifies the catalog
// entry it was rendered from and is used for logging.
type Prompt struct {
	Name         string
	Instructions string
	Text         string
}

func (p Prompt) request() Request {
	return Request{
		Instructions: p.Instructions,
		Messages:     []Message{{Role: core.RoleUser, Content: p.Text}},
	}
}

// Gateway is the engine's only door to a language model.
type Gateway interface {
	// Complete returns the full text of a single completion.
	Complete(ctx context.Context, p Prompt) (string, error)
	// CompleteJSON returns one JSON object, validated against schema when
	// schema is non-nil. Invalid output yields ErrMalformedOutput.
	CompleteJSON(ctx context.Context, p Prompt, schema []byte) (json.RawMessage, error)
	// CompleteStreaming forwards text chunks in generation order. Both
	// channels are closed when the completion ends.
	CompleteStreaming(ctx context.Context, p Prompt) (<-chan string, <-chan error)
	// BindTools validates a tool catalog. Failures wrap ErrToolBinding.
	BindTools(defs []ToolDefinition) error
	// SelectTool asks the model which tools to call. With forced set the
	// model must call at least one.
	SelectTool(ctx context.Context, p Prompt, defs []ToolDefinition, forced bool) ([]core.ToolCall, error)
}

// GatewayOptions configures a ModelGateway.
type GatewayOptions struct {
	Logger logging.Logger
}

// ModelGateway implements Gateway on top of any Model.
type ModelGateway struct {
	model  Model
	logger logging.Logger
}

var _ Gateway = (*ModelGateway)(nil)

// NewGateway wraps m.
func NewGateway(m Model, optFns ...func(o *GatewayOptions)) *ModelGateway {
	opts := GatewayOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &ModelGateway{model: m, logger: opts.Logger}
}

// Complete implements Gateway.
func (g *ModelGateway) Complete(ctx context.Context, p Prompt) (string, error) {
	resp, err := g.generate(ctx, p.Name, p.request())
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// CompleteJSON implements Gateway.
func (g *ModelGateway) CompleteJSON(ctx context.Context, p Prompt, schema []byte) (json.RawMessage, error) {
	req := p.request()
	req.JSONMode = true
	resp, err := g.generate(ctx, p.Name, req)
	if err != nil {
		return nil, err
	}
	raw, err := ExtractJSON(resp.Text)
	if err != nil {
		return nil, err
	}
	if schema != nil {
		if err := Validate(schema, raw); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

// CompleteStreaming implements Gateway.
func (g *ModelGateway) CompleteStreaming(ctx context.Context, p Prompt) (<-chan string, <-chan error) {
	out := make(chan string)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		start := time.Now()
		req := p.request()
		req.Stream = true
		respCh, genErrCh := g.model.Generate(ctx, req)

		streamed := false
		send := func(s string) bool {
			select {
			case <-ctx.Done():
				return false
			case out <- s:
				return true
			}
		}
		for resp := range respCh {
			if resp.Partial {
				if resp.Text == "" {
					continue
				}
				streamed = true
				if !send(resp.Text) {
					break
				}
				continue
			}
			// Providers without streaming deliver everything in the final chunk.
			if !streamed && resp.Text != "" {
				if !send(resp.Text) {
					break
				}
			}
		}
		// Drain so the provider goroutine can exit.
		for range respCh {
		}

		err := <-genErrCh
		if err == nil {
			err = ctx.Err()
		}
		logging.LogModelCall(g.logger, g.model.Info().Name, p.Name, time.Since(start), err)
		if err != nil {
			errCh <- fmt.Errorf("model stream failed: %w", err)
		}
	}()

	return out, errCh
}

// BindTools implements Gateway by compiling every parameter schema.
func (g *ModelGateway) BindTools(defs []ToolDefinition) error {
	if len(defs) == 0 {
		return fmt.Errorf("%w: empty tool catalog", ErrToolBinding)
	}
	seen := make(map[string]bool, len(defs))
	for _, d := range defs {
		name := d.Function.Name
		if name == "" {
			return fmt.Errorf("%w: tool without name", ErrToolBinding)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate tool %q", ErrToolBinding, name)
		}
		seen[name] = true
		if _, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(d.Function.Parameters)); err != nil {
			return fmt.Errorf("%w: schema of %q: %v", ErrToolBinding, name, err)
		}
	}
	return nil
}

// SelectTool implements Gateway. Calls naming tools outside defs are dropped.
func (g *ModelGateway) SelectTool(ctx context.Context, p Prompt, defs []ToolDefinition, forced bool) ([]core.ToolCall, error) {
	req := p.request()
	req.Tools = defs
	req.ToolChoice = ToolChoiceAuto
	if forced {
		req.ToolChoice = ToolChoiceRequired
	}
	resp, err := g.generate(ctx, p.Name, req)
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(defs))
	for _, d := range defs {
		known[d.Function.Name] = true
	}
	calls := make([]core.ToolCall, 0, len(resp.ToolCalls))
	for _, c := range resp.ToolCalls {
		if !known[c.Name] {
			g.logger.Warn("Model selected unknown tool", "tool", c.Name, "prompt", p.Name)
			continue
		}
		if c.ID == "" {
			c.ID = core.NewID()
		}
		calls = append(calls, c)
	}
	return calls, nil
}

// generate drains a Generate call and returns the final response.
func (g *ModelGateway) generate(ctx context.Context, name string, req Request) (Response, error) {
	start := time.Now()
	respCh, errCh := g.model.Generate(ctx, req)

	var (
		final   Response
		partial strings.Builder
		got     bool
	)
	for resp := range respCh {
		if resp.Partial {
			partial.WriteString(resp.Text)
			continue
		}
		final, got = resp, true
	}
	err := <-errCh
	if err == nil && !got {
		err = errors.New("model returned no response")
	}
	logging.LogModelCall(g.logger, g.model.Info().Name, name, time.Since(start), err)
	if err != nil {
		return Response{}, fmt.Errorf("model call failed: %w", err)
	}
	if final.Text == "" {
		final.Text = partial.String()
	}
	return final, nil
}

// ExtractJSON pulls a single JSON object out of model text, tolerating code
// fences and surrounding prose.
func ExtractJSON(text string) (json.RawMessage, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if !gjson.Valid(s) {
		start, end := strings.Index(s, "{"), strings.LastIndex(s, "}")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("%w: no JSON object found", ErrMalformedOutput)
		}
		s = s[start : end+1]
	}
	if !gjson.Valid(s) || !gjson.Parse(s).IsObject() {
		return nil, fmt.Errorf("%w: invalid JSON object", ErrMalformedOutput)
	}
	return json.RawMessage(s), nil
}

// Validate checks raw against a JSON schema document.
func Validate(schema []byte, raw json.RawMessage) error {
	res, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrMalformedOutput, strings.Join(msgs, "; "))
	}
	return nil
}
