package cases

import (
	"context"
	"sort"
	"sync"

	"correlate/internal/correlation/cases"
	id "correlate/pkg/domain"
	dErrors "correlate/pkg/domain-errors"
)

// InMemoryStore keeps cases in process memory. Used in tests and when no
// database is configured.
type InMemoryStore struct {
	mu    sync.RWMutex
	cases map[id.CaseID]cases.Case
}

func NewMemory() *InMemoryStore {
	return &InMemoryStore{cases: make(map[id.CaseID]cases.Case)}
}

func (s *InMemoryStore) Create(_ context.Context, c *cases.Case) error {
	if err := c.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cases[c.ID]; exists {
		return dErrors.New(dErrors.CodeConflict, "case already exists")
	}
	s.cases[c.ID] = *c
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, caseID id.CaseID) (*cases.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.cases[caseID]; ok {
		copied := c
		return &copied, nil
	}
	return nil, nil
}

func (s *InMemoryStore) Resolve(_ context.Context, caseID id.CaseID, res cases.Resolution) (*cases.Case, error) {
	if err := res.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cases[caseID]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "case not found")
	}
	if c.Status != cases.StatusPending {
		return nil, dErrors.New(dErrors.CodeConflict, "case already decided")
	}

	c.Status = cases.StatusDecided
	c.Verdict = res.Verdict
	actor := res.ActorID
	c.DecidedBy = &actor
	c.Reason = res.Reason
	decidedAt := res.DecidedAt
	c.DecidedAt = &decidedAt
	if !res.IdentityID.IsNil() {
		identity := res.IdentityID
		c.IdentityID = &identity
	}

	s.cases[caseID] = c
	copied := c
	return &copied, nil
}

func (s *InMemoryStore) ListPending(_ context.Context, connectorID id.ConnectorID) ([]*cases.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*cases.Case, 0)
	for _, c := range s.cases {
		if c.ConnectorID == connectorID && c.Status == cases.StatusPending {
			copied := c
			out = append(out, &copied)
		}
	}
	// Oldest first so reviewers work the backlog in arrival order.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}
