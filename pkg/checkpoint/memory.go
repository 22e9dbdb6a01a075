package checkpoint

import (
	"context"
	"fmt"
	"sync"

	"foundry/pkg/proto"
)

// MemoryStore keeps checkpoints in process memory. Useful for tests and for
// throwaway runs where durability does not matter.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]*proto.RunState
	seqs   map[string]int64
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[string]*proto.RunState),
		seqs:   make(map[string]int64),
	}
}

// Save stores a deep copy of the state and bumps the per-run sequence.
func (s *MemoryStore) Save(_ context.Context, st *proto.RunState) (int64, error) {
	if st == nil || st.RunID == "" {
		return 0, fmt.Errorf("state with run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seqs[st.RunID]++
	s.states[st.RunID] = st.Clone()
	return s.seqs[st.RunID], nil
}

// Load returns a deep copy of the last saved state for the run.
func (s *MemoryStore) Load(_ context.Context, runID string) (*proto.RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return st.Clone(), nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
