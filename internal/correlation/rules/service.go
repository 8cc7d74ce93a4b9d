// Package rules manages the correlation rule catalog and produces the
// immutable snapshots the reconciliation run evaluates against.
package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"correlate/internal/correlation/match"
	"correlate/internal/correlation/models"
	"correlate/internal/correlation/ports"
	id "correlate/pkg/domain"
	dErrors "correlate/pkg/domain-errors"
	"correlate/pkg/requestcontext"
)

type Store = ports.RuleStore

// Service validates and persists correlation rules and connector policy.
// Expressions are compiled at save time so a malformed rule can never reach
// a reconciliation run.
type Service struct {
	store   Store
	exprEnv *match.ExprEnv
	logger  *slog.Logger
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// New constructs a Service.
func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("rule store is required")
	}
	exprEnv, err := match.NewExprEnv()
	if err != nil {
		return nil, fmt.Errorf("build expression environment: %w", err)
	}
	s := &Service{store: store, exprEnv: exprEnv, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create validates and stores a new rule.
func (s *Service) Create(ctx context.Context, rule *models.CorrelationRule) (*models.CorrelationRule, error) {
	if err := s.prepare(rule); err != nil {
		return nil, err
	}

	rule.ID = id.NewRuleID()
	now := requestcontext.Now(ctx)
	rule.CreatedAt = now
	rule.UpdatedAt = now

	if err := s.store.Create(ctx, rule); err != nil {
		if dErrors.HasCode(err, dErrors.CodeConflict) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create rule")
	}

	s.logger.InfoContext(ctx, "correlation rule created",
		"rule_id", rule.ID,
		"connector_id", rule.ConnectorID,
		"match_type", rule.MatchType,
		"tier", rule.Tier,
	)
	return rule, nil
}

// Update validates and replaces an existing rule. The connector a rule
// belongs to is fixed at creation.
func (s *Service) Update(ctx context.Context, ruleID id.RuleID, rule *models.CorrelationRule) (*models.CorrelationRule, error) {
	existing, err := s.store.Get(ctx, ruleID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load rule")
	}
	if existing == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "rule not found")
	}

	rule.ID = existing.ID
	rule.ConnectorID = existing.ConnectorID
	rule.CreatedAt = existing.CreatedAt
	if err := s.prepare(rule); err != nil {
		return nil, err
	}
	rule.UpdatedAt = requestcontext.Now(ctx)

	if err := s.store.Update(ctx, rule); err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "update rule")
	}

	s.logger.InfoContext(ctx, "correlation rule updated",
		"rule_id", rule.ID,
		"connector_id", rule.ConnectorID,
		"is_active", rule.IsActive,
	)
	return rule, nil
}

// Get retrieves one rule.
func (s *Service) Get(ctx context.Context, ruleID id.RuleID) (*models.CorrelationRule, error) {
	rule, err := s.store.Get(ctx, ruleID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load rule")
	}
	if rule == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "rule not found")
	}
	return rule, nil
}

// List returns all rules for a connector, active or not, in evaluation order.
func (s *Service) List(ctx context.Context, connectorID id.ConnectorID) ([]models.CorrelationRule, error) {
	rules, err := s.store.ListByConnector(ctx, connectorID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list rules")
	}
	return rules, nil
}

// ValidateExpression checks an expression without saving anything. When
// sample attributes are supplied the expression is also executed against
// them and the result returned.
func (s *Service) ValidateExpression(ctx context.Context, expression string, source, target map[string]any) (*bool, error) {
	if err := s.exprEnv.Validate(expression); err != nil {
		return nil, err
	}
	if source == nil && target == nil {
		return nil, nil
	}
	matched, err := s.exprEnv.DryRun(expression, source, target)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "expression failed against sample attributes")
	}
	return &matched, nil
}

// GetPolicy returns the connector's decision policy, falling back to the
// defaults when none has been stored.
func (s *Service) GetPolicy(ctx context.Context, connectorID id.ConnectorID) (*models.ConnectorPolicy, error) {
	policy, err := s.store.GetPolicy(ctx, connectorID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load policy")
	}
	if policy == nil {
		p := models.DefaultPolicy(connectorID)
		return &p, nil
	}
	return policy, nil
}

// PutPolicy validates and stores the connector's decision policy.
func (s *Service) PutPolicy(ctx context.Context, policy *models.ConnectorPolicy) (*models.ConnectorPolicy, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	policy.UpdatedAt = requestcontext.Now(ctx)
	if err := s.store.PutPolicy(ctx, policy); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "store policy")
	}
	s.logger.InfoContext(ctx, "connector policy updated",
		"connector_id", policy.ConnectorID,
		"auto_confirm_threshold", policy.AutoConfirmThreshold,
		"manual_review_threshold", policy.ManualReviewThreshold,
	)
	return policy, nil
}

func (s *Service) prepare(rule *models.CorrelationRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if rule.MatchType == models.MatchExpression {
		if err := s.exprEnv.Validate(rule.Expression); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot is the frozen rule set and policy one reconciliation run
// evaluates against. Rule edits during a run never affect it, and the JSON
// forms go verbatim into every audit event the run writes.
type Snapshot struct {
	ConnectorID    id.ConnectorID
	Rules          []*match.CompiledRule
	Policy         models.ConnectorPolicy
	RulesJSON      json.RawMessage
	ThresholdsJSON json.RawMessage
}

// Snapshot compiles the connector's active rules in evaluation order and
// captures the policy in effect.
func (s *Service) Snapshot(ctx context.Context, connectorID id.ConnectorID) (*Snapshot, error) {
	rules, err := s.store.ListByConnector(ctx, connectorID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list rules")
	}
	policy, err := s.GetPolicy(ctx, connectorID)
	if err != nil {
		return nil, err
	}

	compiled := make([]*match.CompiledRule, 0, len(rules))
	active := make([]models.CorrelationRule, 0, len(rules))
	for _, r := range rules {
		if !r.IsActive {
			continue
		}
		c, err := match.Compile(r, s.exprEnv)
		if err != nil {
			// A stored rule failing to compile means the catalog was
			// corrupted outside this service; refuse to run on it.
			return nil, dErrors.Wrap(err, dErrors.CodeInvariantViolation,
				fmt.Sprintf("compile rule %s", r.ID))
		}
		compiled = append(compiled, c)
		active = append(active, r)
	}

	rulesJSON, err := json.Marshal(active)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "marshal rules snapshot")
	}
	thresholdsJSON, err := json.Marshal(policy)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "marshal thresholds snapshot")
	}

	return &Snapshot{
		ConnectorID:    connectorID,
		Rules:          compiled,
		Policy:         *policy,
		RulesJSON:      rulesJSON,
		ThresholdsJSON: thresholdsJSON,
	}, nil
}
