package cache

import (
	"context"
	"maps"
	"sync"
)

// MemoryStore keeps the snapshot in process memory. It backs the API views
// when persistence is disabled.
type MemoryStore struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Exists always reports false so every process start rebuilds from scratch.
func (s *MemoryStore) Exists(_ context.Context) (bool, error) {
	return false, nil
}

// Load returns a copy of the last saved snapshot.
func (s *MemoryStore) Load(_ context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.snap), nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	s.snap = maps.Clone(snap)
	s.mu.Unlock()
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
