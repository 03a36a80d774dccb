package authlockout

import (
	"context"
	"sync"

	"certledger/internal/ratelimit/models"
)

// InMemoryStore holds lockout records per key.
type InMemoryStore struct {
	mu      sync.Mutex
	records map[string]*models.AuthLockout
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]*models.AuthLockout)}
}

// Get returns a copy, or nil when the key has no failures.
func (s *InMemoryStore) Get(_ context.Context, key string) (*models.AuthLockout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// Update applies mutate under the store lock, creating the record if needed.
func (s *InMemoryStore) Update(_ context.Context, key string, mutate func(*models.AuthLockout)) (*models.AuthLockout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		rec = &models.AuthLockout{Key: key}
		s.records[key] = rec
	}
	mutate(rec)
	cp := *rec
	return &cp, nil
}

func (s *InMemoryStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}
