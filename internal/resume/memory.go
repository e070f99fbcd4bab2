package resume

import (
	"context"
	"sync"
)

// MemoryStore keeps positions for the life of the process.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Position
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]Position)}
}

func (s *MemoryStore) Put(_ context.Context, p Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return errStoreClosed
	}
	s.data[p.ItemID] = p
	return nil
}

func (s *MemoryStore) Get(_ context.Context, itemID string) (Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.data[itemID]
	if !ok {
		return Position{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) Delete(_ context.Context, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, itemID)
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.data = nil
	s.mu.Unlock()
	return nil
}
