// Package directanswer provides the tool that answers a task from the
// model's own knowledge without any retrieval.
package directanswer

import (
	"context"
	"time"

	"github.com/hupe1980/researchmesh/internal/util"
	"github.com/hupe1980/researchmesh/model"
	"github.com/hupe1980/researchmesh/prompt"
	"github.com/hupe1980/researchmesh/tool"
)

// Name is the registered tool name.
const Name = "direct_answer"

// Tool answers with the model alone.
type Tool struct {
	gateway model.Gateway
	prompts *prompt.Catalog
	now     func() time.Time
}

var _ tool.Tool = (*Tool)(nil)

// New creates the direct answer tool.
func New(gw model.Gateway, prompts *prompt.Catalog) *Tool {
	return &Tool{gateway: gw, prompts: prompts, now: time.Now}
}

// Name implements tool.Tool.
func (t *Tool) Name() string { return Name }

// Description implements tool.Tool.
func (t *Tool) Description() string {
	return "Answers using general knowledge and reasoning, without searching. " +
		"Use it for summarizing, comparing or explaining results gathered so far. " +
		"Do not use it when up-to-date or company-internal facts are needed."
}

// Parameters implements tool.Tool.
func (t *Tool) Parameters() map[string]any { return util.CreateSchema(tool.TaskArgs{}) }

// Call implements tool.Tool.
func (t *Tool) Call(ctx context.Context, in tool.Input) (string, error) {
	p, err := t.prompts.Render(prompt.DirectAnswerTool, map[string]any{
		"Task":        in.Task,
		"TurnHistory": in.History,
		"Now":         t.now().Format("2006-01-02 15:04:05"),
	})
	if err != nil {
		return "", err
	}
	return t.gateway.Complete(ctx, p)
}
