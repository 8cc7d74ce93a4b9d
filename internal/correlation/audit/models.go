// Package audit defines the correlation decision ledger. Events are
// append-only: every decision, human or automatic, adds a record; nothing
// ever updates or deletes one. Each event snapshots the rules and thresholds
// in effect at decision time so later rule edits cannot retroactively change
// how history reads.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	id "correlate/pkg/domain"
	dErrors "correlate/pkg/domain-errors"
)

// EventType classifies a ledger entry.
type EventType string

const (
	EventAutoConfirm    EventType = "auto_confirm"
	EventManualConfirm  EventType = "manual_confirm"
	EventReject         EventType = "reject"
	EventCreateIdentity EventType = "create_identity"
	EventReassign       EventType = "reassign"
)

// IsValid checks if the event type is one of the supported enum values.
func (t EventType) IsValid() bool {
	switch t {
	case EventAutoConfirm, EventManualConfirm, EventReject, EventCreateIdentity, EventReassign:
		return true
	}
	return false
}

// Outcome records whether the evaluation completed.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// IsValid checks if the outcome is one of the supported enum values.
func (o Outcome) IsValid() bool {
	return o == OutcomeSuccess || o == OutcomeFailure
}

// ActorType distinguishes automatic decisions from human ones.
type ActorType string

const (
	ActorSystem ActorType = "system"
	ActorUser   ActorType = "user"
)

// IsValid checks if the actor type is one of the supported enum values.
func (a ActorType) IsValid() bool {
	return a == ActorSystem || a == ActorUser
}

// Event is one immutable ledger entry.
type Event struct {
	ID                 id.EventID      `json:"id"`
	ConnectorID        id.ConnectorID  `json:"connector_id"`
	AccountID          id.AccountID    `json:"account_id"`
	CaseID             *id.CaseID      `json:"case_id,omitempty"`
	IdentityID         *id.IdentityID  `json:"identity_id,omitempty"`
	EventType          EventType       `json:"event_type"`
	Outcome            Outcome         `json:"outcome"`
	ConfidenceScore    *float64        `json:"confidence_score,omitempty"`
	CandidateCount     int             `json:"candidate_count"`
	CandidatesSummary  json.RawMessage `json:"candidates_summary,omitempty"`
	RulesSnapshot      json.RawMessage `json:"rules_snapshot,omitempty"`
	ThresholdsSnapshot json.RawMessage `json:"thresholds_snapshot,omitempty"`
	ActorType          ActorType       `json:"actor_type"`
	ActorID            *id.UserID      `json:"actor_id,omitempty"`
	Reason             string          `json:"reason,omitempty"`
	// IdempotencyKey makes retried writes safe: derived from the account and
	// the decision timestamp, so a retry after a failed ack cannot produce a
	// duplicate ledger entry.
	IdempotencyKey string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// Validate enforces the ledger invariants before an event is written.
func (e *Event) Validate() error {
	if e.ConnectorID.IsNil() {
		return dErrors.New(dErrors.CodeInvariantViolation, "connector_id is required")
	}
	if e.AccountID.IsEmpty() {
		return dErrors.New(dErrors.CodeInvariantViolation, "account_id is required")
	}
	if !e.EventType.IsValid() {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "invalid event_type %q", e.EventType)
	}
	if !e.Outcome.IsValid() {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "invalid outcome %q", e.Outcome)
	}
	if !e.ActorType.IsValid() {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "invalid actor_type %q", e.ActorType)
	}

	// actor_id is set iff actor_type = user.
	if e.ActorType == ActorUser && (e.ActorID == nil || e.ActorID.IsNil()) {
		return dErrors.New(dErrors.CodeInvariantViolation, "actor_id is required for user decisions")
	}
	if e.ActorType == ActorSystem && e.ActorID != nil {
		return dErrors.New(dErrors.CodeInvariantViolation, "actor_id must be empty for system decisions")
	}

	// reason is required for reject and reassign.
	if (e.EventType == EventReject || e.EventType == EventReassign) && e.Reason == "" {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "reason is required for %s events", e.EventType)
	}

	if e.ConfidenceScore != nil && (*e.ConfidenceScore < 0 || *e.ConfidenceScore > 1) {
		return dErrors.New(dErrors.CodeInvariantViolation, "confidence_score must be in [0,1]")
	}
	if e.CandidateCount < 0 {
		return dErrors.New(dErrors.CodeInvariantViolation, "candidate_count must be >= 0")
	}
	return nil
}

// Key derives the deterministic idempotency key for an event.
func Key(accountID id.AccountID, decidedAt time.Time) string {
	return fmt.Sprintf("%s:%d", accountID, decidedAt.UnixNano())
}

// Filter selects events for the paginated audit query.
type Filter struct {
	ConnectorID id.ConnectorID
	EventType   EventType // empty matches all
	Outcome     Outcome   // empty matches all
	Start       time.Time // zero means unbounded
	End         time.Time // zero means unbounded
	Page        int       // 1-based
	PerPage     int
}

// Validate normalizes pagination and checks enum filters.
func (f *Filter) Validate() error {
	if f.ConnectorID.IsNil() {
		return dErrors.New(dErrors.CodeBadRequest, "connector_id is required")
	}
	if f.EventType != "" && !f.EventType.IsValid() {
		return dErrors.Newf(dErrors.CodeBadRequest, "invalid event_type %q", f.EventType)
	}
	if f.Outcome != "" && !f.Outcome.IsValid() {
		return dErrors.Newf(dErrors.CodeBadRequest, "invalid outcome %q", f.Outcome)
	}
	if !f.Start.IsZero() && !f.End.IsZero() && f.End.Before(f.Start) {
		return dErrors.New(dErrors.CodeBadRequest, "end must not precede start")
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = 20
	}
	if f.PerPage > 100 {
		f.PerPage = 100
	}
	return nil
}

// Matches reports whether an event satisfies the filter (pagination aside).
// Shared by the memory store and store tests.
func (f *Filter) Matches(e *Event) bool {
	if e.ConnectorID != f.ConnectorID {
		return false
	}
	if f.EventType != "" && e.EventType != f.EventType {
		return false
	}
	if f.Outcome != "" && e.Outcome != f.Outcome {
		return false
	}
	if !f.Start.IsZero() && e.CreatedAt.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && e.CreatedAt.After(f.End) {
		return false
	}
	return true
}

// OutboxEntry is one pending relay record for the Kafka publisher.
type OutboxEntry struct {
	ID      int64
	EventID id.EventID
	Payload []byte
}
