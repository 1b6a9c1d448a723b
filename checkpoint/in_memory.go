package checkpoint

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/researchmesh/core"
)

// InMemoryStore is a volatile CheckpointStore keeping the latest checkpoint
// per thread in a process local map. It is safe for concurrent access.
// Checkpoints are cloned on the way in and out so callers never share
// message slices with the store.
type InMemoryStore struct {
	mu      sync.RWMutex
	threads map[string]core.Checkpoint
}

var _ core.CheckpointStore = (*InMemoryStore)(nil)

// NewInMemoryStore constructs an empty in-memory checkpoint store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{threads: make(map[string]core.Checkpoint)}
}

// Load returns a clone of the thread's checkpoint, or nil when none exists.
func (s *InMemoryStore) Load(_ context.Context, threadKey string) (*core.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.threads[threadKey]
	if !ok {
		return nil, nil
	}
	c := cp.Clone()
	return &c, nil
}

// Save replaces the thread's checkpoint.
func (s *InMemoryStore) Save(_ context.Context, threadKey string, cp core.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp = cp.Clone()
	cp.ThreadKey = threadKey
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	s.threads[threadKey] = cp
	return nil
}

// Threads lists the stored thread keys in lexical order.
func (s *InMemoryStore) Threads() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.threads))
	for k := range s.threads {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
