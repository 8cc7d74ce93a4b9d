package rule

import (
	"context"
	"sort"
	"sync"

	"correlate/internal/correlation/models"
	id "correlate/pkg/domain"
	dErrors "correlate/pkg/domain-errors"
)

// InMemoryRuleStore keeps rules and policies in process memory. Used in
// tests and when no database is configured.
type InMemoryRuleStore struct {
	mu       sync.RWMutex
	rules    map[id.RuleID]models.CorrelationRule
	policies map[id.ConnectorID]models.ConnectorPolicy
}

func NewMemory() *InMemoryRuleStore {
	return &InMemoryRuleStore{
		rules:    make(map[id.RuleID]models.CorrelationRule),
		policies: make(map[id.ConnectorID]models.ConnectorPolicy),
	}
}

func (s *InMemoryRuleStore) ListByConnector(_ context.Context, connectorID id.ConnectorID) ([]models.CorrelationRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.CorrelationRule, 0)
	for _, r := range s.rules {
		if r.ConnectorID == connectorID {
			out = append(out, r)
		}
	}
	// Stable listing order for the admin UI.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier < out[j].Tier
		}
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *InMemoryRuleStore) Get(_ context.Context, ruleID id.RuleID) (*models.CorrelationRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.rules[ruleID]; ok {
		copied := r
		return &copied, nil
	}
	return nil, nil
}

func (s *InMemoryRuleStore) Create(_ context.Context, rule *models.CorrelationRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.ID]; exists {
		return dErrors.New(dErrors.CodeConflict, "rule already exists")
	}
	s.rules[rule.ID] = *rule
	return nil
}

func (s *InMemoryRuleStore) Update(_ context.Context, rule *models.CorrelationRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.ID]; !exists {
		return dErrors.New(dErrors.CodeNotFound, "rule not found")
	}
	s.rules[rule.ID] = *rule
	return nil
}

func (s *InMemoryRuleStore) GetPolicy(_ context.Context, connectorID id.ConnectorID) (*models.ConnectorPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.policies[connectorID]; ok {
		copied := p
		return &copied, nil
	}
	return nil, nil
}

func (s *InMemoryRuleStore) PutPolicy(_ context.Context, policy *models.ConnectorPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.policies[policy.ConnectorID] = *policy
	return nil
}
