package knowledge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
)

// ErrDimension is returned when vectors of different lengths meet.
var ErrDimension = errors.New("vector dimension mismatch")

// Passage is one indexed document chunk.
type Passage struct {
	ID     string    `json:"id"`
	Title  string    `json:"title"`
	Text   string    `json:"text"`
	Vector []float64 `json:"vector,omitempty"`
}

// Result is a scored passage.
type Result struct {
	Passage
	Score float64
}

// Index stores passages and answers nearest-neighbour queries.
type Index interface {
	Add(ctx context.Context, passages ...Passage) error
	Search(ctx context.Context, vec []float64, k int) ([]Result, error)
	Len() int
}

// InMemoryIndex is a brute-force cosine index. Concurrency: protected by
// RWMutex. Equal scores keep insertion order.
type InMemoryIndex struct {
	mu       sync.RWMutex
	passages []Passage
	norms    []float64
	dim      int
}

var _ Index = (*InMemoryIndex)(nil)

// NewInMemoryIndex creates an empty index.
func NewInMemoryIndex() *InMemoryIndex {
	return &InMemoryIndex{}
}

// Add appends passages. All vectors must share one dimension.
func (x *InMemoryIndex) Add(_ context.Context, passages ...Passage) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, p := range passages {
		if len(p.Vector) == 0 {
			return fmt.Errorf("passage %q has no vector", p.ID)
		}
		if x.dim == 0 {
			x.dim = len(p.Vector)
		}
		if len(p.Vector) != x.dim {
			return fmt.Errorf("%w: passage %q has %d, index has %d", ErrDimension, p.ID, len(p.Vector), x.dim)
		}
		p.Vector = append([]float64(nil), p.Vector...)
		x.passages = append(x.passages, p)
		x.norms = append(x.norms, floats.Norm(p.Vector, 2))
	}
	return nil
}

// Search returns the k passages most similar to vec.
func (x *InMemoryIndex) Search(_ context.Context, vec []float64, k int) ([]Result, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if k <= 0 || len(x.passages) == 0 {
		return []Result{}, nil
	}
	if len(vec) != x.dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimension, len(vec), x.dim)
	}

	qn := floats.Norm(vec, 2)
	results := make([]Result, len(x.passages))
	for i, p := range x.passages {
		score := 0.0
		if qn > 0 && x.norms[i] > 0 {
			score = floats.Dot(vec, p.Vector) / (qn * x.norms[i])
		}
		results[i] = Result{Passage: p, Score: score}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Len returns the number of passages.
func (x *InMemoryIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.passages)
}
