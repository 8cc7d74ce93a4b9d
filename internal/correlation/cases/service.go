package cases

import (
	"context"
	"fmt"
	"log/slog"

	"correlate/internal/correlation/audit"
	"correlate/internal/correlation/models"
	id "correlate/pkg/domain"
	dErrors "correlate/pkg/domain-errors"
)

// Store is the persistence contract for cases. Kept local to avoid an
// import cycle with ports; ports aliases it for consumers.
type Store interface {
	Create(ctx context.Context, c *Case) error
	Get(ctx context.Context, caseID id.CaseID) (*Case, error)
	Resolve(ctx context.Context, caseID id.CaseID, res Resolution) (*Case, error)
	ListPending(ctx context.Context, connectorID id.ConnectorID) ([]*Case, error)
}

// Recorder appends the follow-up audit event a human decision produces.
type Recorder interface {
	Record(ctx context.Context, event *audit.Event) (id.EventID, error)
}

// Service manages the manual-review workflow: opening cases when automatic
// confidence falls in the review band and turning reviewer verdicts into
// follow-up audit events.
type Service struct {
	store    Store
	recorder Recorder
	logger   *slog.Logger
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// New constructs a Service.
func New(store Store, recorder Recorder, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("case store is required")
	}
	if recorder == nil {
		return nil, fmt.Errorf("audit recorder is required")
	}
	s := &Service{store: store, recorder: recorder, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Open creates a pending case carrying the ranked candidate snapshot from
// scoring time.
func (s *Service) Open(ctx context.Context, c *Case) (*Case, error) {
	if c.ID.IsNil() {
		c.ID = id.NewCaseID()
	}
	c.Status = StatusPending
	if err := s.store.Create(ctx, c); err != nil {
		if dErrors.HasCode(err, dErrors.CodeConflict) || dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create case")
	}
	s.logger.InfoContext(ctx, "manual-review case opened",
		"case_id", c.ID,
		"connector_id", c.ConnectorID,
		"account_id", c.AccountID,
		"candidates", len(c.Candidates),
	)
	return c, nil
}

// Get retrieves one case.
func (s *Service) Get(ctx context.Context, caseID id.CaseID) (*Case, error) {
	c, err := s.store.Get(ctx, caseID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load case")
	}
	if c == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "case not found")
	}
	return c, nil
}

// ListPending returns a connector's open backlog, oldest first.
func (s *Service) ListPending(ctx context.Context, connectorID id.ConnectorID) ([]*Case, error) {
	pending, err := s.store.ListPending(ctx, connectorID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list pending cases")
	}
	return pending, nil
}

// Decide applies a reviewer's verdict to a pending case and appends the
// follow-up audit event. The case transition is the gate: a racing second
// reviewer gets a conflict and no duplicate event is written.
func (s *Service) Decide(ctx context.Context, caseID id.CaseID, res Resolution) (*Case, error) {
	if err := res.Validate(); err != nil {
		return nil, err
	}
	if res.Verdict == VerdictReassign {
		// Reassign means picking someone other than the original top
		// candidate; picking the same one is an accept.
		existing, err := s.Get(ctx, caseID)
		if err != nil {
			return nil, err
		}
		if len(existing.Candidates) > 0 && existing.Candidates[0].IdentityID == res.IdentityID {
			return nil, dErrors.New(dErrors.CodeBadRequest, "reassign must pick a different candidate than the top-ranked one")
		}
	}

	decided, err := s.store.Resolve(ctx, caseID, res)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) || dErrors.HasCode(err, dErrors.CodeConflict) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "resolve case")
	}

	event := s.followUpEvent(decided, res)
	if _, err := s.recorder.Record(ctx, event); err != nil {
		// The case is decided but the ledger write failed; surface it so
		// the operator retries, which is safe under the idempotency key.
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "record case decision")
	}

	s.logger.InfoContext(ctx, "case decided",
		"case_id", decided.ID,
		"verdict", res.Verdict,
		"actor_id", res.ActorID,
	)
	return decided, nil
}

func (s *Service) followUpEvent(decided *Case, res Resolution) *audit.Event {
	caseID := decided.ID
	actorID := res.ActorID
	event := &audit.Event{
		ConnectorID:    decided.ConnectorID,
		AccountID:      decided.AccountID,
		CaseID:         &caseID,
		Outcome:        audit.OutcomeSuccess,
		CandidateCount: len(decided.Candidates),
		ActorType:      audit.ActorUser,
		ActorID:        &actorID,
		Reason:         res.Reason,
		IdempotencyKey: audit.Key(decided.AccountID, res.DecidedAt),
		CreatedAt:      res.DecidedAt,
	}

	switch res.Verdict {
	case VerdictAccept:
		event.EventType = audit.EventManualConfirm
	case VerdictReject:
		event.EventType = audit.EventReject
	case VerdictReassign:
		event.EventType = audit.EventReassign
	}

	if !res.IdentityID.IsNil() {
		identity := res.IdentityID
		event.IdentityID = &identity
		if score := candidateScore(decided.Candidates, res.IdentityID); score != nil {
			event.ConfidenceScore = score
		}
	}
	return event
}

func candidateScore(candidates []models.ScoredCandidate, identityID id.IdentityID) *float64 {
	for _, c := range candidates {
		if c.IdentityID == identityID {
			score := c.Score
			return &score
		}
	}
	return nil
}
