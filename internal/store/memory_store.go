package store

import (
	"context"
	"sync"

	"bloom/internal/domain"
)

// MemoryStore keeps the snapshot in process memory. Both Load and Save deep
// clone so callers can never mutate the stored state through a shared slice
// or pointer.
type MemoryStore struct {
	mu   sync.Mutex
	snap *domain.SessionSnapshot
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Load(_ context.Context) (*domain.SessionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snap == nil {
		return nil, nil
	}
	out := s.snap.Clone()
	return &out, nil
}

func (s *MemoryStore) Save(_ context.Context, snap *domain.SessionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap == nil {
		s.snap = nil
		return nil
	}
	clone := snap.Clone()
	s.snap = &clone
	return nil
}

var _ domain.SnapshotStore = (*MemoryStore)(nil)
