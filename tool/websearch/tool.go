// Package websearch provides the web search research tool backed by the
// Tavily API. Result text is repaired for mojibake and truncated to a display
// width budget before it is returned to the engine.
package websearch

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/researchmesh/internal/util"
	"github.com/hupe1980/researchmesh/tool"
)

// Name is the registered tool name.
const Name = "web_search"

// Options configures the tool.
type Options struct {
	MaxResults   int
	Depth        string
	MaxTextWidth int
}

// Tool searches the public web.
type Tool struct {
	searcher Searcher
	opts     Options
}

var _ tool.Tool = (*Tool)(nil)

// New creates the web search tool.
func New(searcher Searcher, optFns ...func(o *Options)) *Tool {
	opts := Options{MaxResults: 5, Depth: "basic", MaxTextWidth: 10000}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Tool{searcher: searcher, opts: opts}
}

// Name implements tool.Tool.
func (t *Tool) Name() string { return Name }

// Description implements tool.Tool.
func (t *Tool) Description() string {
	return "Searches the public web for current events, news, products and general facts. " +
		"Do not use it for academic papers or internal company information."
}

// Parameters implements tool.Tool.
func (t *Tool) Parameters() map[string]any { return util.CreateSchema(tool.TaskArgs{}) }

// Call implements tool.Tool.
func (t *Tool) Call(ctx context.Context, in tool.Input) (string, error) {
	results, err := t.searcher.Search(ctx, in.Task, t.opts.MaxResults, t.opts.Depth)
	if err != nil {
		return "", &tool.SearchError{Tool: Name, Err: err}
	}

	var sb strings.Builder
	for _, r := range results {
		title := RepairEncoding(r.Title)
		content := TruncateWidth(RepairEncoding(r.Content), t.opts.MaxTextWidth)
		fmt.Fprintf(&sb, "## Title: %s\n### URL:%s\n### Content:\n%s\n\n", title, r.URL, content)
	}
	return sb.String(), nil
}
