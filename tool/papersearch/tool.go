// Package papersearch provides the scholarly paper search tool. The model
// first rewrites the plan task into an arXiv query, which is reported as
// progress before the search runs.
package papersearch

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/researchmesh/internal/util"
	"github.com/hupe1980/researchmesh/model"
	"github.com/hupe1980/researchmesh/prompt"
	"github.com/hupe1980/researchmesh/tool"
)

// Name is the registered tool name.
const Name = "paper_search"

const publishedLayout = "2006-01-02 15:04:05-07:00"

// Options configures the tool.
type Options struct {
	MaxResults int
}

// Tool searches arXiv.
type Tool struct {
	searcher Searcher
	gateway  model.Gateway
	prompts  *prompt.Catalog
	messages *prompt.Messages
	opts     Options
}

var _ tool.Tool = (*Tool)(nil)

// New creates the paper search tool.
func New(searcher Searcher, gw model.Gateway, prompts *prompt.Catalog, messages *prompt.Messages, optFns ...func(o *Options)) *Tool {
	opts := Options{MaxResults: 5}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Tool{searcher: searcher, gateway: gw, prompts: prompts, messages: messages, opts: opts}
}

// Name implements tool.Tool.
func (t *Tool) Name() string { return Name }

// Description implements tool.Tool.
func (t *Tool) Description() string {
	return "Searches scholarly articles on arXiv. Use only for physics, mathematics and computer science research. " +
		"Do not use it for news, products or company information."
}

// Parameters implements tool.Tool.
func (t *Tool) Parameters() map[string]any { return util.CreateSchema(tool.TaskArgs{}) }

// Call implements tool.Tool.
func (t *Tool) Call(ctx context.Context, in tool.Input) (string, error) {
	p, err := t.prompts.Render(prompt.PaperQuery, map[string]any{
		"Task":        in.Task,
		"TurnHistory": in.History,
	})
	if err != nil {
		return "", err
	}
	query, err := t.gateway.Complete(ctx, p)
	if err != nil {
		return "", err
	}
	query = strings.TrimSpace(query)
	in.Progress(t.messages.Format(prompt.MsgPaperQuery, map[string]any{"Query": query}))

	papers, err := t.searcher.Search(ctx, query, t.opts.MaxResults)
	if err != nil {
		return "", &tool.SearchError{Tool: Name, Err: err}
	}

	var sb strings.Builder
	for _, pp := range papers {
		fmt.Fprintf(&sb, "## Title: %s, Published: %s, Url: %s \n%s\n\n",
			pp.Title, pp.Published.Format(publishedLayout), pp.ID, pp.Summary)
	}
	return sb.String(), nil
}
