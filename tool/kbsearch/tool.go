// Package kbsearch provides the knowledge base search tool. It only answers
// questions inside the knowledge base's domain.
package kbsearch

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/researchmesh/internal/util"
	"github.com/hupe1980/researchmesh/knowledge"
	"github.com/hupe1980/researchmesh/tool"
)

// Name is the registered tool name.
const Name = "knowledge_search"

// Retriever finds passages for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]knowledge.Result, error)
	Domain() string
}

// Options configures the tool.
type Options struct {
	TopK int
}

// Tool searches the domain knowledge base.
type Tool struct {
	retriever Retriever
	opts      Options
}

var _ tool.Tool = (*Tool)(nil)

// New creates the knowledge search tool.
func New(r Retriever, optFns ...func(o *Options)) *Tool {
	opts := Options{TopK: 3}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Tool{retriever: r, opts: opts}
}

// Name implements tool.Tool.
func (t *Tool) Name() string { return Name }

// Description implements tool.Tool.
func (t *Tool) Description() string {
	return fmt.Sprintf("Answers only from the internal knowledge base about %s. "+
		"It cannot answer anything outside that scope; use other tools for everything else.", t.retriever.Domain())
}

// Parameters implements tool.Tool.
func (t *Tool) Parameters() map[string]any { return util.CreateSchema(tool.TaskArgs{}) }

// Call implements tool.Tool.
func (t *Tool) Call(ctx context.Context, in tool.Input) (string, error) {
	results, err := t.retriever.Retrieve(ctx, in.Task, t.opts.TopK)
	if err != nil {
		return "", &tool.SearchError{Tool: Name, Err: err}
	}
	var sb strings.Builder
	for _, r := range results {
		fmt.Fprintf(&sb, "## Title: %s\n%s\n\n", r.Title, r.Text)
	}
	return sb.String(), nil
}
