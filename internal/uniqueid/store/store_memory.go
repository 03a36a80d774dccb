package store

import (
	"context"
	"sort"
	"sync"

	"certledger/internal/uniqueid/models"
	"certledger/pkg/platform/sentinel"
)

// InMemoryStore keeps minted identifiers in process memory.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.UniqueIDRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]*models.UniqueIDRecord)}
}

func (s *InMemoryStore) Insert(_ context.Context, rec *models.UniqueIDRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.UniqueID]; exists {
		return sentinel.ErrConflict
	}
	cp := *rec
	s.records[rec.UniqueID] = &cp
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, uniqueID string) (*models.UniqueIDRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[uniqueID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// ListByInstitute returns the institute's identifiers, newest first.
func (s *InMemoryStore) ListByInstitute(_ context.Context, instituteID string) ([]*models.UniqueIDRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.UniqueIDRecord, 0)
	for _, rec := range s.records {
		if rec.InstituteID == instituteID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].GeneratedAt.After(out[j].GeneratedAt)
	})
	return out, nil
}
