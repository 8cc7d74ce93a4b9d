package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"correlate/internal/correlation/audit"
	id "correlate/pkg/domain"
	txcontext "correlate/pkg/platform/tx"
)

// PostgresStore persists the ledger using the transactional outbox pattern:
// Append writes the event row and its outbox row in one transaction, and the
// relay worker drains the outbox to Kafka. A retry carrying the same
// idempotency key hits ON CONFLICT DO NOTHING and gets the stored event ID
// back instead of a duplicate.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, event *audit.Event) (id.EventID, error) {
	if err := event.Validate(); err != nil {
		return id.EventID{}, err
	}

	stored := *event
	if stored.ID.IsNil() {
		stored.ID = id.NewEventID()
	}

	payload, err := json.Marshal(&stored)
	if err != nil {
		return id.EventID{}, fmt.Errorf("marshal audit payload: %w", err)
	}

	if tx, ok := txcontext.From(ctx); ok {
		return s.append(ctx, tx, &stored, payload)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return id.EventID{}, fmt.Errorf("begin audit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	eventID, err := s.append(ctx, tx, &stored, payload)
	if err != nil {
		return id.EventID{}, err
	}
	if err := tx.Commit(); err != nil {
		return id.EventID{}, fmt.Errorf("commit audit tx: %w", err)
	}
	return eventID, nil
}

func (s *PostgresStore) append(ctx context.Context, tx *sql.Tx, event *audit.Event, payload []byte) (id.EventID, error) {
	insert := `
		INSERT INTO audit_events (
			id, connector_id, account_id, case_id, identity_id,
			event_type, outcome, confidence_score, candidate_count,
			candidates_summary, rules_snapshot, thresholds_snapshot,
			actor_type, actor_id, reason, idempotency_key, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (idempotency_key) DO NOTHING
	`
	res, err := tx.ExecContext(ctx, insert,
		uuid.UUID(event.ID),
		uuid.UUID(event.ConnectorID),
		event.AccountID.String(),
		nullUUID((*uuid.UUID)(event.CaseID)),
		nullUUID((*uuid.UUID)(event.IdentityID)),
		string(event.EventType),
		string(event.Outcome),
		event.ConfidenceScore,
		event.CandidateCount,
		nullJSON(event.CandidatesSummary),
		nullJSON(event.RulesSnapshot),
		nullJSON(event.ThresholdsSnapshot),
		string(event.ActorType),
		nullUUID((*uuid.UUID)(event.ActorID)),
		nullString(event.Reason),
		event.IdempotencyKey,
		event.CreatedAt,
	)
	if err != nil {
		return id.EventID{}, fmt.Errorf("insert audit event: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return id.EventID{}, fmt.Errorf("audit insert rows affected: %w", err)
	}
	if inserted == 0 {
		// Retry of an already-recorded decision; hand back the original ID.
		var existing uuid.UUID
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM audit_events WHERE idempotency_key = $1`,
			event.IdempotencyKey,
		).Scan(&existing)
		if err != nil {
			return id.EventID{}, fmt.Errorf("lookup existing audit event: %w", err)
		}
		return id.EventID(existing), nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO audit_outbox (event_id, payload) VALUES ($1, $2)`,
		uuid.UUID(event.ID), payload,
	)
	if err != nil {
		return id.EventID{}, fmt.Errorf("insert audit outbox: %w", err)
	}
	return event.ID, nil
}

func (s *PostgresStore) Query(ctx context.Context, filter audit.Filter) ([]*audit.Event, int, error) {
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}

	where := []string{"connector_id = $1"}
	args := []any{uuid.UUID(filter.ConnectorID)}
	if filter.EventType != "" {
		args = append(args, string(filter.EventType))
		where = append(where, fmt.Sprintf("event_type = $%d", len(args)))
	}
	if filter.Outcome != "" {
		args = append(args, string(filter.Outcome))
		where = append(where, fmt.Sprintf("outcome = $%d", len(args)))
	}
	if !filter.Start.IsZero() {
		args = append(args, filter.Start)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !filter.End.IsZero() {
		args = append(args, filter.End)
		where = append(where, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	countQuery := "SELECT COUNT(*) FROM audit_events WHERE " + cond
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit events: %w", err)
	}

	args = append(args, filter.PerPage, (filter.Page-1)*filter.PerPage)
	query := fmt.Sprintf(`
		SELECT id, connector_id, account_id, case_id, identity_id,
		       event_type, outcome, confidence_score, candidate_count,
		       candidates_summary, rules_snapshot, thresholds_snapshot,
		       actor_type, actor_id, reason, idempotency_key, created_at
		FROM audit_events
		WHERE %s
		ORDER BY created_at DESC, id ASC
		LIMIT $%d OFFSET $%d
	`, cond, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	out := make([]*audit.Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan audit event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate audit events: %w", err)
	}
	return out, total, nil
}

// NextBatch returns up to limit unpublished outbox entries, oldest first.
func (s *PostgresStore) NextBatch(ctx context.Context, limit int) ([]audit.OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_id, payload FROM audit_outbox ORDER BY id ASC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit outbox: %w", err)
	}
	defer rows.Close()

	var out []audit.OutboxEntry
	for rows.Next() {
		var entry audit.OutboxEntry
		var eventID uuid.UUID
		if err := rows.Scan(&entry.ID, &eventID, &entry.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entry.EventID = id.EventID(eventID)
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox entries: %w", err)
	}
	return out, nil
}

// MarkPublished removes entries acked by the broker. The events themselves
// stay in audit_events; only the relay bookkeeping is deleted.
func (s *PostgresStore) MarkPublished(ctx context.Context, entryIDs []int64) error {
	if len(entryIDs) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM audit_outbox WHERE id = ANY($1)`,
		pq.Array(entryIDs),
	)
	if err != nil {
		return fmt.Errorf("delete outbox entries: %w", err)
	}
	return nil
}

func scanEvent(rows *sql.Rows) (*audit.Event, error) {
	var e audit.Event
	var eventID, connectorID uuid.UUID
	var accountID string
	var caseID, identityID, actorID uuid.NullUUID
	var eventType, outcome, actorType string
	var reason sql.NullString
	var candidatesSummary, rulesSnapshot, thresholdsSnapshot []byte

	err := rows.Scan(
		&eventID,
		&connectorID,
		&accountID,
		&caseID,
		&identityID,
		&eventType,
		&outcome,
		&e.ConfidenceScore,
		&e.CandidateCount,
		&candidatesSummary,
		&rulesSnapshot,
		&thresholdsSnapshot,
		&actorType,
		&actorID,
		&reason,
		&e.IdempotencyKey,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.ID = id.EventID(eventID)
	e.ConnectorID = id.ConnectorID(connectorID)
	e.AccountID = id.AccountID(accountID)
	if caseID.Valid {
		cid := id.CaseID(caseID.UUID)
		e.CaseID = &cid
	}
	if identityID.Valid {
		iid := id.IdentityID(identityID.UUID)
		e.IdentityID = &iid
	}
	e.EventType = audit.EventType(eventType)
	e.Outcome = audit.Outcome(outcome)
	e.ActorType = audit.ActorType(actorType)
	if actorID.Valid {
		aid := id.UserID(actorID.UUID)
		e.ActorID = &aid
	}
	if reason.Valid {
		e.Reason = reason.String
	}
	e.CandidatesSummary = json.RawMessage(candidatesSummary)
	e.RulesSnapshot = json.RawMessage(rulesSnapshot)
	e.ThresholdsSnapshot = json.RawMessage(thresholdsSnapshot)
	return &e, nil
}

func nullUUID(u *uuid.UUID) any {
	if u == nil {
		return nil
	}
	return *u
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
