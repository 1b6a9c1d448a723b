package kbsearch

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/researchmesh/knowledge"
	"github.com/hupe1980/researchmesh/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type vecEmbedder struct {
	vec []float64
	err error
}

func (e vecEmbedder) Embed(context.Context, string) ([]float64, error) { return e.vec, e.err }

func newRetriever(t *testing.T, emb knowledge.Embedder) *knowledge.Retriever {
	t.Helper()
	idx := knowledge.NewInMemoryIndex()
	require.NoError(t, idx.Add(context.Background(),
		knowledge.Passage{ID: "1", Title: "Fic-GreenLife", Text: "Solar.", Vector: []float64{1, 0}},
		knowledge.Passage{ID: "2", Title: "Fic-NextFood", Text: "Food.", Vector: []float64{0, 1}},
		knowledge.Passage{ID: "3", Title: "Fic-TechFrontier", Text: "Chips.", Vector: []float64{0.7, 0.7}},
		knowledge.Passage{ID: "4", Title: "Other", Text: "Noise.", Vector: []float64{-1, 0}},
	))
	return knowledge.NewRetriever(emb, idx, "three fictitious companies")
}

func TestTool_Call(t *testing.T) {
	kt := New(newRetriever(t, vecEmbedder{vec: []float64{1, 0.1}}))

	assert.Contains(t, kt.Description(), "three fictitious companies")

	out, err := kt.Call(context.Background(), tool.Input{Task: "What is Fic-GreenLife?"})
	require.NoError(t, err)
	assert.Equal(t,
		"## Title: Fic-GreenLife\nSolar.\n\n## Title: Fic-TechFrontier\nChips.\n\n## Title: Fic-NextFood\nFood.\n\n",
		out)
}

func TestTool_CallError(t *testing.T) {
	kt := New(newRetriever(t, vecEmbedder{err: errors.New("embedding service down")}))
	_, err := kt.Call(context.Background(), tool.Input{Task: "x"})

	var se *tool.SearchError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, Name, se.Tool)
}
