package memory

import (
	"context"
	"sync"

	audit "certledger/pkg/platform/audit"
)

type InMemoryStore struct {
	mu     sync.RWMutex
	events []audit.Event
	seen   map[string]struct{}
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{seen: make(map[string]struct{})}
}

// Append records the event. Events redelivered with an ID already seen are
// ignored, so a consumer replaying a topic stays idempotent.
func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.ID != "" {
		if _, dup := s.seen[event.ID]; dup {
			return nil
		}
		s.seen[event.ID] = struct{}{}
	}
	s.events = append(s.events, event)
	return nil
}

func (s *InMemoryStore) ListByInstitute(_ context.Context, instituteID string) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Event, 0)
	for _, e := range s.events {
		if e.InstituteID == instituteID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListRecent returns up to limit events, newest last.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := max(len(s.events)-limit, 0)
	return append([]audit.Event{}, s.events[start:]...), nil
}
