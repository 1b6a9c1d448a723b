package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Retriever embeds a query and searches an index.
type Retriever struct {
	embedder Embedder
	index    Index
	domain   string
}

// NewRetriever creates a retriever. domain describes what the index covers.
func NewRetriever(embedder Embedder, index Index, domain string) *Retriever {
	return &Retriever{embedder: embedder, index: index, domain: domain}
}

// Domain returns the description of the indexed content.
func (r *Retriever) Domain() string { return r.domain }

// Retrieve returns the k passages closest to query.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]Result, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return r.index.Search(ctx, vec, k)
}

type fileFormat struct {
	Domain   string    `json:"domain"`
	Passages []Passage `json:"passages"`
}

// LoadFile reads a knowledge base file into a new in-memory index. Passages
// without vectors are embedded with embedder, which may be nil when every
// passage carries one.
func LoadFile(ctx context.Context, path string, embedder Embedder) (*InMemoryIndex, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, "", fmt.Errorf("decode %s: %w", path, err)
	}

	for i := range f.Passages {
		p := &f.Passages[i]
		if p.ID == "" {
			p.ID = fmt.Sprintf("passage-%d", i)
		}
		if len(p.Vector) > 0 {
			continue
		}
		if embedder == nil {
			return nil, "", fmt.Errorf("passage %q has no vector and no embedder is configured", p.ID)
		}
		vec, err := embedder.Embed(ctx, p.Title+"\n"+p.Text)
		if err != nil {
			return nil, "", fmt.Errorf("embed passage %q: %w", p.ID, err)
		}
		p.Vector = vec
	}

	idx := NewInMemoryIndex()
	if err := idx.Add(ctx, f.Passages...); err != nil {
		return nil, "", err
	}
	return idx, f.Domain, nil
}
