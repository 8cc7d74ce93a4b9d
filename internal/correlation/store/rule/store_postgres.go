package rule

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"correlate/internal/correlation/models"
	id "correlate/pkg/domain"
	dErrors "correlate/pkg/domain-errors"
)

// PostgresRuleStore persists correlation rules and connector policy in
// PostgreSQL. Schema lives in migrations/001_correlation_rules.sql.
type PostgresRuleStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresRuleStore {
	return &PostgresRuleStore{db: db}
}

const ruleColumns = `
	id, connector_id, name, source_attribute, target_attribute,
	match_type, algorithm, threshold, weight, expression,
	tier, is_definitive, normalize, is_active, priority,
	created_at, updated_at
`

func (s *PostgresRuleStore) ListByConnector(ctx context.Context, connectorID id.ConnectorID) ([]models.CorrelationRule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM correlation_rules
		WHERE connector_id = $1
		ORDER BY tier ASC, priority DESC, name ASC
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(connectorID))
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []models.CorrelationRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return out, nil
}

func (s *PostgresRuleStore) Get(ctx context.Context, ruleID id.RuleID) (*models.CorrelationRule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM correlation_rules
		WHERE id = $1
	`
	row := s.db.QueryRowContext(ctx, query, uuid.UUID(ruleID))
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", err)
	}
	return r, nil
}

func (s *PostgresRuleStore) Create(ctx context.Context, rule *models.CorrelationRule) error {
	query := `
		INSERT INTO correlation_rules (` + ruleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(rule.ID),
		uuid.UUID(rule.ConnectorID),
		rule.Name,
		rule.SourceAttribute,
		rule.TargetAttribute,
		string(rule.MatchType),
		nullString(string(rule.Algorithm)),
		rule.Threshold,
		rule.Weight,
		nullString(rule.Expression),
		rule.Tier,
		rule.IsDefinitive,
		rule.Normalize,
		rule.IsActive,
		rule.Priority,
		rule.CreatedAt,
		rule.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return dErrors.New(dErrors.CodeConflict, "rule already exists")
		}
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

func (s *PostgresRuleStore) Update(ctx context.Context, rule *models.CorrelationRule) error {
	query := `
		UPDATE correlation_rules
		SET name = $2, source_attribute = $3, target_attribute = $4,
		    match_type = $5, algorithm = $6, threshold = $7, weight = $8,
		    expression = $9, tier = $10, is_definitive = $11, normalize = $12,
		    is_active = $13, priority = $14, updated_at = $15
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query,
		uuid.UUID(rule.ID),
		rule.Name,
		rule.SourceAttribute,
		rule.TargetAttribute,
		string(rule.MatchType),
		nullString(string(rule.Algorithm)),
		rule.Threshold,
		rule.Weight,
		nullString(rule.Expression),
		rule.Tier,
		rule.IsDefinitive,
		rule.Normalize,
		rule.IsActive,
		rule.Priority,
		rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update rule rows affected: %w", err)
	}
	if affected == 0 {
		return dErrors.New(dErrors.CodeNotFound, "rule not found")
	}
	return nil
}

func (s *PostgresRuleStore) GetPolicy(ctx context.Context, connectorID id.ConnectorID) (*models.ConnectorPolicy, error) {
	query := `
		SELECT connector_id, auto_confirm_threshold, manual_review_threshold,
		       min_margin, auto_provision, top_n, worker_limit, updated_at
		FROM connector_policies
		WHERE connector_id = $1
	`
	var p models.ConnectorPolicy
	var cid uuid.UUID
	err := s.db.QueryRowContext(ctx, query, uuid.UUID(connectorID)).Scan(
		&cid,
		&p.AutoConfirmThreshold,
		&p.ManualReviewThreshold,
		&p.MinMargin,
		&p.AutoProvision,
		&p.TopN,
		&p.WorkerLimit,
		&p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get policy: %w", err)
	}
	p.ConnectorID = id.ConnectorID(cid)
	return &p, nil
}

func (s *PostgresRuleStore) PutPolicy(ctx context.Context, policy *models.ConnectorPolicy) error {
	query := `
		INSERT INTO connector_policies (
			connector_id, auto_confirm_threshold, manual_review_threshold,
			min_margin, auto_provision, top_n, worker_limit, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (connector_id) DO UPDATE SET
			auto_confirm_threshold = EXCLUDED.auto_confirm_threshold,
			manual_review_threshold = EXCLUDED.manual_review_threshold,
			min_margin = EXCLUDED.min_margin,
			auto_provision = EXCLUDED.auto_provision,
			top_n = EXCLUDED.top_n,
			worker_limit = EXCLUDED.worker_limit,
			updated_at = EXCLUDED.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(policy.ConnectorID),
		policy.AutoConfirmThreshold,
		policy.ManualReviewThreshold,
		policy.MinMargin,
		policy.AutoProvision,
		policy.TopN,
		policy.WorkerLimit,
		policy.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert policy: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*models.CorrelationRule, error) {
	var r models.CorrelationRule
	var ruleID, connectorID uuid.UUID
	var matchType string
	var algorithm, expression sql.NullString

	err := row.Scan(
		&ruleID,
		&connectorID,
		&r.Name,
		&r.SourceAttribute,
		&r.TargetAttribute,
		&matchType,
		&algorithm,
		&r.Threshold,
		&r.Weight,
		&expression,
		&r.Tier,
		&r.IsDefinitive,
		&r.Normalize,
		&r.IsActive,
		&r.Priority,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.ID = id.RuleID(ruleID)
	r.ConnectorID = id.ConnectorID(connectorID)
	r.MatchType = models.MatchType(matchType)
	if algorithm.Valid {
		r.Algorithm = models.Algorithm(algorithm.String)
	}
	if expression.Valid {
		r.Expression = expression.String
	}
	return &r, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
