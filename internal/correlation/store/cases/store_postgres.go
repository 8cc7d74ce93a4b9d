package cases

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"correlate/internal/correlation/cases"
	"correlate/internal/correlation/models"
	id "correlate/pkg/domain"
	dErrors "correlate/pkg/domain-errors"
)

// PostgresStore persists manual-review cases in PostgreSQL. The candidate
// snapshot is stored as JSONB; it is read back verbatim for reviewers and
// never re-scored.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, c *cases.Case) error {
	if err := c.Validate(); err != nil {
		return err
	}

	candidates, err := json.Marshal(c.Candidates)
	if err != nil {
		return fmt.Errorf("marshal case candidates: %w", err)
	}

	query := `
		INSERT INTO correlation_cases (
			id, connector_id, account_id, candidates, opened_event_id,
			status, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.db.ExecContext(ctx, query,
		uuid.UUID(c.ID),
		uuid.UUID(c.ConnectorID),
		c.AccountID.String(),
		candidates,
		uuid.UUID(c.OpenedEventID),
		string(c.Status),
		c.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return dErrors.New(dErrors.CodeConflict, "case already exists")
		}
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, caseID id.CaseID) (*cases.Case, error) {
	query := caseSelect + ` WHERE id = $1`
	c, err := scanCase(s.db.QueryRowContext(ctx, query, uuid.UUID(caseID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get case: %w", err)
	}
	return c, nil
}

// Resolve flips a pending case to decided. The status guard in the WHERE
// clause makes the transition atomic: a second reviewer racing on the same
// case updates zero rows and gets a conflict.
func (s *PostgresStore) Resolve(ctx context.Context, caseID id.CaseID, res cases.Resolution) (*cases.Case, error) {
	if err := res.Validate(); err != nil {
		return nil, err
	}

	var identityID any
	if !res.IdentityID.IsNil() {
		identityID = uuid.UUID(res.IdentityID)
	}

	query := `
		UPDATE correlation_cases
		SET status = $2, verdict = $3, decided_by = $4, identity_id = $5,
		    reason = $6, decided_at = $7
		WHERE id = $1 AND status = $8
	`
	result, err := s.db.ExecContext(ctx, query,
		uuid.UUID(caseID),
		string(cases.StatusDecided),
		string(res.Verdict),
		uuid.UUID(res.ActorID),
		identityID,
		nullString(res.Reason),
		res.DecidedAt,
		string(cases.StatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("resolve case: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("resolve case rows affected: %w", err)
	}
	if affected == 0 {
		existing, err := s.Get(ctx, caseID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, dErrors.New(dErrors.CodeNotFound, "case not found")
		}
		return nil, dErrors.New(dErrors.CodeConflict, "case already decided")
	}
	return s.Get(ctx, caseID)
}

func (s *PostgresStore) ListPending(ctx context.Context, connectorID id.ConnectorID) ([]*cases.Case, error) {
	query := caseSelect + `
		WHERE connector_id = $1 AND status = $2
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(connectorID), string(cases.StatusPending))
	if err != nil {
		return nil, fmt.Errorf("list pending cases: %w", err)
	}
	defer rows.Close()

	out := make([]*cases.Case, 0)
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cases: %w", err)
	}
	return out, nil
}

const caseSelect = `
	SELECT id, connector_id, account_id, candidates, opened_event_id,
	       status, verdict, decided_by, identity_id, reason, decided_at,
	       created_at
	FROM correlation_cases
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (*cases.Case, error) {
	var c cases.Case
	var caseID, connectorID, openedEventID uuid.UUID
	var accountID, status string
	var candidates []byte
	var verdict, reason sql.NullString
	var decidedBy, identityID uuid.NullUUID
	var decidedAt sql.NullTime

	err := row.Scan(
		&caseID,
		&connectorID,
		&accountID,
		&candidates,
		&openedEventID,
		&status,
		&verdict,
		&decidedBy,
		&identityID,
		&reason,
		&decidedAt,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.ID = id.CaseID(caseID)
	c.ConnectorID = id.ConnectorID(connectorID)
	c.AccountID = id.AccountID(accountID)
	c.OpenedEventID = id.EventID(openedEventID)
	c.Status = cases.Status(status)
	if verdict.Valid {
		c.Verdict = cases.Verdict(verdict.String)
	}
	if decidedBy.Valid {
		actor := id.UserID(decidedBy.UUID)
		c.DecidedBy = &actor
	}
	if identityID.Valid {
		identity := id.IdentityID(identityID.UUID)
		c.IdentityID = &identity
	}
	if reason.Valid {
		c.Reason = reason.String
	}
	if decidedAt.Valid {
		t := decidedAt.Time
		c.DecidedAt = &t
	}

	if len(candidates) > 0 {
		if err := json.Unmarshal(candidates, &c.Candidates); err != nil {
			return nil, fmt.Errorf("unmarshal case candidates: %w", err)
		}
	} else {
		c.Candidates = []models.ScoredCandidate{}
	}
	return &c, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
