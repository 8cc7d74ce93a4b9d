package audit

import (
	"context"
	"sort"
	"sync"

	"correlate/internal/correlation/audit"
	id "correlate/pkg/domain"
)

// InMemoryStore keeps the ledger in process memory. Used in tests and when
// no database is configured. It does not feed an outbox; without Kafka the
// relay has nothing to do anyway.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []audit.Event
	byKey  map[string]id.EventID
}

func NewMemory() *InMemoryStore {
	return &InMemoryStore{byKey: make(map[string]id.EventID)}
}

func (s *InMemoryStore) Append(_ context.Context, event *audit.Event) (id.EventID, error) {
	if err := event.Validate(); err != nil {
		return id.EventID{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byKey[event.IdempotencyKey]; ok {
		return existing, nil
	}

	stored := *event
	if stored.ID.IsNil() {
		stored.ID = id.NewEventID()
	}
	s.events = append(s.events, stored)
	s.byKey[stored.IdempotencyKey] = stored.ID
	return stored.ID, nil
}

func (s *InMemoryStore) Query(_ context.Context, filter audit.Filter) ([]*audit.Event, int, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*audit.Event, 0)
	for i := range s.events {
		e := s.events[i]
		if filter.Matches(&e) {
			copied := e
			matched = append(matched, &copied)
		}
	}
	// Newest first; event ID breaks created_at ties deterministically.
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})

	total := len(matched)
	start := (filter.Page - 1) * filter.PerPage
	if start >= total {
		return []*audit.Event{}, total, nil
	}
	end := start + filter.PerPage
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}
