package papersearch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hupe1980/researchmesh/internal/testutil"
	"github.com/hupe1980/researchmesh/prompt"
	"github.com/hupe1980/researchmesh/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const atomFixture = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>ArXiv Query</title>
  <entry>
    <id>http://arxiv.org/abs/2401.00001v1</id>
    <published>2024-01-02T03:04:05Z</published>
    <title>Retrieval Augmented
      Generation at Scale</title>
    <summary>  We study retrieval.  </summary>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/2312.00002v2</id>
    <published>2023-12-01T00:00:00Z</published>
    <title>Agents</title>
    <summary>Planning agents.</summary>
  </entry>
</feed>`

func TestClient_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "all:rag", q.Get("search_query"))
		assert.Equal(t, "5", q.Get("max_results"))
		assert.Equal(t, "submittedDate", q.Get("sortBy"))
		_, _ = w.Write([]byte(atomFixture))
	}))
	defer srv.Close()

	c := NewClient(func(o *ClientOptions) { o.Endpoint = srv.URL })
	papers, err := c.Search(context.Background(), "all:rag", 5)
	require.NoError(t, err)
	require.Len(t, papers, 2)
	assert.Equal(t, "Retrieval Augmented Generation at Scale", papers[0].Title)
	assert.Equal(t, "We study retrieval.", papers[0].Summary)
	assert.Equal(t, "http://arxiv.org/abs/2401.00001v1", papers[0].ID)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), papers[0].Published.UTC())
}

type stubSearcher struct {
	papers []Paper
	err    error
	query  string
}

func (s *stubSearcher) Search(_ context.Context, query string, _ int) ([]Paper, error) {
	s.query = query
	return s.papers, s.err
}

func newTool(t *testing.T, s Searcher, gw *testutil.ScriptedGateway) *Tool {
	t.Helper()
	prompts, err := prompt.LoadCatalog("en", "")
	require.NoError(t, err)
	messages, err := prompt.LoadMessages("en", "")
	require.NoError(t, err)
	return New(s, gw, prompts, messages)
}

func TestTool_Call(t *testing.T) {
	gw := testutil.NewScriptedGateway().On(prompt.PaperQuery, testutil.Text("  all:agentic rag \n"))
	s := &stubSearcher{papers: []Paper{{
		ID:        "http://arxiv.org/abs/2401.00001v1",
		Title:     "RAG",
		Summary:   "Summary.",
		Published: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}}}
	pt := newTool(t, s, gw)

	var notes []string
	out, err := pt.Call(context.Background(), tool.Input{
		Task:    "Find recent agentic RAG papers",
		History: "AssistantMessage: earlier\nToolMessage: result\n",
		Notify:  func(m string) { notes = append(notes, m) },
	})
	require.NoError(t, err)

	assert.Equal(t, "all:agentic rag", s.query)
	assert.Equal(t, []string{"arXiv query: all:agentic rag"}, notes)
	assert.Equal(t,
		"## Title: RAG, Published: 2024-01-02 03:04:05+00:00, Url: http://arxiv.org/abs/2401.00001v1 \nSummary.\n\n",
		out)

	prompts := gw.Prompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0].Text, "Find recent agentic RAG papers")
	assert.Contains(t, prompts[0].Text, "ToolMessage: result")
}

func TestTool_SearchFailure(t *testing.T) {
	gw := testutil.NewScriptedGateway().On(prompt.PaperQuery, testutil.Text("q"))
	pt := newTool(t, &stubSearcher{err: errors.New("503")}, gw)

	_, err := pt.Call(context.Background(), tool.Input{Task: "x"})
	var se *tool.SearchError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, Name, se.Tool)
}
