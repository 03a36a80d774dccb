package store

import (
	"context"
	"sync"

	"certledger/internal/identity/models"
	"certledger/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu         sync.RWMutex
	institutes map[string]*models.Institute
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{institutes: make(map[string]*models.Institute)}
}

// Create fails with sentinel.ErrConflict when the institute id is taken.
func (s *InMemoryStore) Create(_ context.Context, inst *models.Institute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.institutes[inst.InstituteID]; exists {
		return sentinel.ErrConflict
	}
	cp := *inst
	s.institutes[inst.InstituteID] = &cp
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, instituteID string) (*models.Institute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.institutes[instituteID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *inst
	return &cp, nil
}

func (s *InMemoryStore) Update(_ context.Context, instituteID string, mutate func(*models.Institute) error) (*models.Institute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.institutes[instituteID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *inst
	if err := mutate(&cp); err != nil {
		return nil, err
	}
	s.institutes[instituteID] = &cp
	out := cp
	return &out, nil
}
