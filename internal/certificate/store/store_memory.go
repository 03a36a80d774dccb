package store

import (
	"context"
	"sort"
	"sync"

	"certledger/internal/certificate/models"
	"certledger/pkg/platform/sentinel"
)

type key struct {
	instituteID string
	identifier  string
}

// InMemoryStore keeps certificate records in process. A single mutex makes
// Insert exclusive per key and Update atomic per key.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[key]*models.CertificateRecord
	byHash  map[string]key
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[key]*models.CertificateRecord),
		byHash:  make(map[string]key),
	}
}

// Insert stores a new record. It fails with sentinel.ErrConflict when the
// (institute, identifier) key or the anchor hash is already taken.
func (s *InMemoryStore) Insert(_ context.Context, record *models.CertificateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{record.InstituteID, record.Identifier}
	if _, exists := s.records[k]; exists {
		return sentinel.ErrConflict
	}
	if _, exists := s.byHash[record.Hash]; exists {
		return sentinel.ErrConflict
	}
	s.records[k] = clone(record)
	s.byHash[record.Hash] = k
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, instituteID, identifier string) (*models.CertificateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.records[key{instituteID, identifier}]; ok {
		return clone(rec), nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) FindByHash(_ context.Context, hash string) (*models.CertificateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.byHash[hash]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return clone(s.records[k]), nil
}

// FindByIdentifier returns every institute's record carrying identifier.
func (s *InMemoryStore) FindByIdentifier(_ context.Context, identifier string) ([]*models.CertificateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.CertificateRecord
	for k, rec := range s.records {
		if k.identifier == identifier {
			out = append(out, clone(rec))
		}
	}
	return out, nil
}

// ListByInstitute returns the institute's records, newest first.
func (s *InMemoryStore) ListByInstitute(_ context.Context, instituteID string) ([]*models.CertificateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.CertificateRecord, 0)
	for k, rec := range s.records {
		if k.instituteID == instituteID {
			out = append(out, clone(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Update applies mutate to a copy of the record under the store lock and
// persists it only when mutate returns nil.
func (s *InMemoryStore) Update(_ context.Context, instituteID, identifier string, mutate func(*models.CertificateRecord) error) (*models.CertificateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{instituteID, identifier}
	rec, ok := s.records[k]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	working := clone(rec)
	if err := mutate(working); err != nil {
		return nil, err
	}
	s.records[k] = working
	return clone(working), nil
}

func (s *InMemoryStore) Delete(_ context.Context, instituteID, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{instituteID, identifier}
	rec, ok := s.records[k]
	if !ok {
		return sentinel.ErrNotFound
	}
	delete(s.byHash, rec.Hash)
	delete(s.records, k)
	return nil
}

func clone(rec *models.CertificateRecord) *models.CertificateRecord {
	c := *rec
	if rec.RevokedAt != nil {
		t := *rec.RevokedAt
		c.RevokedAt = &t
	}
	return &c
}
