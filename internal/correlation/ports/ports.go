// Package ports defines shared interfaces for the correlation module.
// Interfaces live here when consumed by multiple services to avoid
// duplication and import cycles.
package ports

import (
	"context"

	"correlate/internal/correlation/audit"
	"correlate/internal/correlation/cases"
	"correlate/internal/correlation/models"
	id "correlate/pkg/domain"
)

// RuleStore manages correlation rules and connector policy.
type RuleStore interface {
	// ListByConnector returns all rules for a connector, active or not.
	ListByConnector(ctx context.Context, connectorID id.ConnectorID) ([]models.CorrelationRule, error)

	// Get retrieves a single rule. Returns nil, nil when absent.
	Get(ctx context.Context, ruleID id.RuleID) (*models.CorrelationRule, error)

	// Create persists a new rule.
	Create(ctx context.Context, rule *models.CorrelationRule) error

	// Update replaces an existing rule.
	Update(ctx context.Context, rule *models.CorrelationRule) error

	// GetPolicy retrieves a connector's decision policy. Returns nil, nil
	// when the connector has no stored policy (callers fall back to defaults).
	GetPolicy(ctx context.Context, connectorID id.ConnectorID) (*models.ConnectorPolicy, error)

	// PutPolicy creates or replaces a connector's decision policy.
	PutPolicy(ctx context.Context, policy *models.ConnectorPolicy) error
}

// AuditStore is the append-only decision ledger. There is deliberately no
// update or delete operation. The interface lives in the audit package so
// its service can depend on it without importing this one.
type AuditStore = audit.Store

// OutboxStore feeds the Kafka relay from rows written alongside Append.
// Only the postgres store implements it; without it the relay is idle.
type OutboxStore = audit.OutboxSource

// CaseStore manages manual-review cases. The interface lives in the cases
// package so its service can depend on it without importing this one.
type CaseStore = cases.Store

// DirectoryClient is the Identity Directory collaborator: candidate lookup
// plus identity provisioning for the create_identity outcome. Calls are
// synchronous; retry policy belongs to the orchestrator.
type DirectoryClient interface {
	// FindCandidates returns the plausible internal identities for an
	// external account's attributes.
	FindCandidates(ctx context.Context, connectorID id.ConnectorID, attributes map[string]any) ([]models.Candidate, error)

	// CreateIdentity provisions a new internal identity from account
	// attributes and returns its ID.
	CreateIdentity(ctx context.Context, connectorID id.ConnectorID, attributes map[string]any) (id.IdentityID, error)
}

// AccountSource is the Connector Account feed collaborator.
type AccountSource interface {
	// FetchAccount retrieves one external account's attributes.
	FetchAccount(ctx context.Context, connectorID id.ConnectorID, accountID id.AccountID) (*models.Account, error)
}
