package directory

import (
	"context"
	"sync"

	"correlate/internal/correlation/models"
	"correlate/internal/correlation/normalize"
	id "correlate/pkg/domain"
)

// InMemoryDirectory is a process-local directory used in tests and when no
// directory URL is configured. Candidate lookup returns identities sharing
// at least one normalized attribute value with the account.
type InMemoryDirectory struct {
	mu         sync.RWMutex
	identities map[id.IdentityID]models.Candidate
}

func NewInMemory() *InMemoryDirectory {
	return &InMemoryDirectory{identities: make(map[id.IdentityID]models.Candidate)}
}

// Add seeds an identity.
func (d *InMemoryDirectory) Add(candidate models.Candidate) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.identities[candidate.ID] = candidate
}

func (d *InMemoryDirectory) FindCandidates(_ context.Context, _ id.ConnectorID, attributes map[string]any) ([]models.Candidate, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	wanted := make(map[string]bool, len(attributes))
	for _, v := range attributes {
		wanted[normalize.Apply(normalize.Value(v), true)] = true
	}

	out := make([]models.Candidate, 0)
	for _, candidate := range d.identities {
		for _, v := range candidate.Attributes {
			if wanted[normalize.Apply(normalize.Value(v), true)] {
				out = append(out, candidate)
				break
			}
		}
	}
	return out, nil
}

func (d *InMemoryDirectory) CreateIdentity(_ context.Context, _ id.ConnectorID, attributes map[string]any) (id.IdentityID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	identityID := id.NewIdentityID()
	d.identities[identityID] = models.Candidate{ID: identityID, Attributes: attributes}
	return identityID, nil
}
