// Package cases manages manual-review cases: the pending human-decision
// units opened when automatic confidence is too low to confirm but too high
// to reject outright.
package cases

import (
	"time"

	"correlate/internal/correlation/models"
	id "correlate/pkg/domain"
	dErrors "correlate/pkg/domain-errors"
)

// Status tracks a case's lifecycle. Cases transition pending -> decided
// exactly once; the decision itself lives in the audit ledger.
type Status string

const (
	StatusPending Status = "pending"
	StatusDecided Status = "decided"
)

// Verdict is the reviewer's resolution of a pending case.
type Verdict string

const (
	// VerdictAccept confirms the originally top-ranked candidate.
	VerdictAccept Verdict = "accept"
	// VerdictReject declines all candidates.
	VerdictReject Verdict = "reject"
	// VerdictReassign picks a different candidate than the top-ranked one.
	VerdictReassign Verdict = "reassign"
)

// IsValid checks if the verdict is one of the supported enum values.
func (v Verdict) IsValid() bool {
	switch v {
	case VerdictAccept, VerdictReject, VerdictReassign:
		return true
	}
	return false
}

// Case is one manual-review unit. Candidates carries the ranked snapshot
// from scoring time so reviewers see what the engine saw, even if rules
// changed since.
type Case struct {
	ID            id.CaseID                `json:"id"`
	ConnectorID   id.ConnectorID           `json:"connector_id"`
	AccountID     id.AccountID             `json:"account_id"`
	Candidates    []models.ScoredCandidate `json:"candidates"`
	OpenedEventID id.EventID               `json:"opened_event_id"`
	Status        Status                   `json:"status"`

	// Resolution fields, set once when the case is decided.
	Verdict    Verdict        `json:"verdict,omitempty"`
	DecidedBy  *id.UserID     `json:"decided_by,omitempty"`
	IdentityID *id.IdentityID `json:"identity_id,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	DecidedAt  *time.Time     `json:"decided_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the invariants of a newly opened case.
func (c *Case) Validate() error {
	if c.ConnectorID.IsNil() {
		return dErrors.New(dErrors.CodeInvariantViolation, "connector_id is required")
	}
	if c.AccountID.IsEmpty() {
		return dErrors.New(dErrors.CodeInvariantViolation, "account_id is required")
	}
	if c.Status != StatusPending {
		return dErrors.New(dErrors.CodeInvariantViolation, "new cases must be pending")
	}
	return nil
}

// Resolution is a reviewer's decision on a pending case.
type Resolution struct {
	Verdict    Verdict
	IdentityID id.IdentityID // required for accept/reassign
	Reason     string        // required for reject/reassign
	ActorID    id.UserID
	DecidedAt  time.Time
}

// Validate checks the resolution against the case semantics.
func (r *Resolution) Validate() error {
	if !r.Verdict.IsValid() {
		return dErrors.Newf(dErrors.CodeBadRequest, "invalid verdict %q", r.Verdict)
	}
	if r.ActorID.IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "case decisions require a human actor")
	}
	switch r.Verdict {
	case VerdictAccept, VerdictReassign:
		if r.IdentityID.IsNil() {
			return dErrors.Newf(dErrors.CodeBadRequest, "candidate_id is required for %s", r.Verdict)
		}
	}
	switch r.Verdict {
	case VerdictReject, VerdictReassign:
		if r.Reason == "" {
			return dErrors.Newf(dErrors.CodeBadRequest, "reason is required for %s", r.Verdict)
		}
	}
	return nil
}
