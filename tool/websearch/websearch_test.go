package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hupe1980/researchmesh/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func latin1Mojibake(s string) string {
	rs := make([]rune, 0, len(s))
	for _, b := range []byte(s) {
		rs = append(rs, rune(b))
	}
	return string(rs)
}

func TestTruncateWidth(t *testing.T) {
	t.Run("fullwidth counts double", func(t *testing.T) {
		assert.Equal(t, "ＡＢＣ", TruncateWidth("ＡＢＣＤＥ", 6))
	})

	t.Run("ascii", func(t *testing.T) {
		assert.Equal(t, "hello", TruncateWidth("hello world", 5))
		assert.Equal(t, "short", TruncateWidth("short", 100))
	})

	t.Run("never splits a wide rune", func(t *testing.T) {
		assert.Equal(t, "a日", TruncateWidth("a日本", 4))
	})

	t.Run("zero", func(t *testing.T) {
		assert.Equal(t, "", TruncateWidth("abc", 0))
	})
}

func TestRepairEncoding(t *testing.T) {
	t.Run("utf-8 read as latin-1", func(t *testing.T) {
		broken := latin1Mojibake("日本語テキスト")
		require.NotEqual(t, "日本語テキスト", broken)
		assert.Equal(t, "日本語テキスト", RepairEncoding(broken))
	})

	t.Run("ascii unchanged", func(t *testing.T) {
		assert.Equal(t, "plain ascii text", RepairEncoding("plain ascii text"))
	})

	t.Run("correct japanese unchanged", func(t *testing.T) {
		assert.Equal(t, "テキスト", RepairEncoding("テキスト"))
	})
}

type stubSearcher struct {
	results []Result
	err     error
	query   string
}

func (s *stubSearcher) Search(_ context.Context, query string, _ int, _ string) ([]Result, error) {
	s.query = query
	return s.results, s.err
}

func TestTool_Call(t *testing.T) {
	s := &stubSearcher{results: []Result{
		{Title: "Go 1.24", URL: "https://go.dev/doc/go1.24", Content: "Release notes"},
		{Title: latin1Mojibake("テスト"), URL: "https://example.jp", Content: "ＡＢＣＤＥ"},
	}}
	wt := New(s, func(o *Options) { o.MaxTextWidth = 6 })

	out, err := wt.Call(context.Background(), tool.Input{Task: "latest go release"})
	require.NoError(t, err)
	assert.Equal(t, "latest go release", s.query)
	assert.Equal(t,
		"## Title: Go 1.24\n### URL:https://go.dev/doc/go1.24\n### Content:\nReleas\n\n"+
			"## Title: テスト\n### URL:https://example.jp\n### Content:\nＡＢＣ\n\n",
		out)
}

func TestTool_CallError(t *testing.T) {
	cause := errors.New("quota exceeded")
	wt := New(&stubSearcher{err: cause})

	_, err := wt.Call(context.Background(), tool.Input{Task: "x"})
	var se *tool.SearchError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, Name, se.Tool)
	assert.ErrorIs(t, err, cause)
}

func TestClient_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "key", req.APIKey)
		assert.Equal(t, "golang", req.Query)
		assert.Equal(t, 3, req.MaxResults)

		_ = json.NewEncoder(w).Encode(searchResponse{Results: []Result{{Title: "Go", URL: "https://go.dev", Content: "The Go language"}}})
	}))
	defer srv.Close()

	c := NewClient(func(o *ClientOptions) {
		o.Endpoint = srv.URL
		o.APIKey = "key"
	})
	res, err := c.Search(context.Background(), "golang", 3, "basic")
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "Go", res[0].Title)
}

func TestClient_SearchStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(func(o *ClientOptions) { o.Endpoint = srv.URL })
	_, err := c.Search(context.Background(), "golang", 3, "basic")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
