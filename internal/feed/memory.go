package feed

import (
	"context"
	"sync"

	"correlate/internal/correlation/models"
	id "correlate/pkg/domain"
	dErrors "correlate/pkg/domain-errors"
)

// InMemoryFeed is a process-local account feed used in tests and when no
// feed URL is configured.
type InMemoryFeed struct {
	mu       sync.RWMutex
	accounts map[id.ConnectorID]map[id.AccountID]models.Account
}

func NewInMemory() *InMemoryFeed {
	return &InMemoryFeed{accounts: make(map[id.ConnectorID]map[id.AccountID]models.Account)}
}

// Add seeds an account.
func (f *InMemoryFeed) Add(account models.Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.accounts[account.ConnectorID] == nil {
		f.accounts[account.ConnectorID] = make(map[id.AccountID]models.Account)
	}
	f.accounts[account.ConnectorID][account.ID] = account
}

func (f *InMemoryFeed) FetchAccount(_ context.Context, connectorID id.ConnectorID, accountID id.AccountID) (*models.Account, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if account, ok := f.accounts[connectorID][accountID]; ok {
		copied := account
		return &copied, nil
	}
	return nil, dErrors.New(dErrors.CodeNotFound, "account not found")
}
