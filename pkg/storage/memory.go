package storage

import (
	"context"
	"sync"
)

// MemoryStore keeps artifacts in a map. It is safe for concurrent use by
// multiple goroutines. Data is copied on the way in and out, so callers may
// reuse their buffers.
type MemoryStore struct {
	mu        sync.RWMutex
	artifacts map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		artifacts: make(map[string][]byte),
	}
}

// Put stores a copy of data under name.
func (s *MemoryStore) Put(ctx context.Context, name string, data []byte) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.artifacts[name] = append([]byte(nil), data...)
	return nil
}

// Get returns a copy of the artifact stored under name.
func (s *MemoryStore) Get(ctx context.Context, name string) ([]byte, bool, error) {
	if err := ValidateName(name); err != nil {
		return nil, false, err
	}

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, found := s.artifacts[name]
	if !found {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}
