package store

import (
	"context"
	"sort"
	"sync"

	"certledger/internal/saga"
	"certledger/pkg/platform/sentinel"
)

// InMemoryStore keeps saga records in process. Records are lost on restart,
// so recovery is only meaningful with the postgres store.
type InMemoryStore struct {
	mu    sync.RWMutex
	sagas map[string]*saga.Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sagas: make(map[string]*saga.Record)}
}

func (s *InMemoryStore) Create(_ context.Context, rec *saga.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sagas[rec.ID]; exists {
		return sentinel.ErrConflict
	}
	cp := *rec
	s.sagas[rec.ID] = &cp
	return nil
}

func (s *InMemoryStore) Save(_ context.Context, rec *saga.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sagas[rec.ID]; !exists {
		return sentinel.ErrNotFound
	}
	cp := *rec
	s.sagas[rec.ID] = &cp
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (*saga.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sagas[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// ListByState returns matching sagas oldest first.
func (s *InMemoryStore) ListByState(_ context.Context, state saga.State) ([]*saga.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*saga.Record, 0)
	for _, rec := range s.sagas {
		if rec.State == state {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}
