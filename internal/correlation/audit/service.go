package audit

import (
	"context"
	"fmt"
	"log/slog"

	id "correlate/pkg/domain"
	dErrors "correlate/pkg/domain-errors"
)

// Store is the persistence contract for the ledger. Kept local to avoid an
// import cycle with ports; ports aliases it for consumers.
type Store interface {
	Append(ctx context.Context, event *Event) (id.EventID, error)
	Query(ctx context.Context, filter Filter) ([]*Event, int, error)
}

// Service records and queries correlation decisions.
type Service struct {
	store  Store
	logger *slog.Logger
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
		return nil, fmt.Errorf("audit store is required")
	}
	s := &Service{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Record appends one event to the ledger. Safe to retry: the idempotency
// key makes the second attempt return the first attempt's event ID.
func (s *Service) Record(ctx context.Context, event *Event) (id.EventID, error) {
	if event.IdempotencyKey == "" {
		return id.EventID{}, dErrors.New(dErrors.CodeInvariantViolation, "idempotency_key is required")
	}

	eventID, err := s.store.Append(ctx, event)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return id.EventID{}, err
		}
		return id.EventID{}, dErrors.Wrap(err, dErrors.CodeInternal, "append audit event")
	}

	s.logger.InfoContext(ctx, "audit event recorded",
		"event_id", eventID,
		"connector_id", event.ConnectorID,
		"account_id", event.AccountID,
		"event_type", event.EventType,
		"outcome", event.Outcome,
	)
	return eventID, nil
}

// Query returns one page of events matching the filter, newest first, plus
// the total match count.
func (s *Service) Query(ctx context.Context, filter Filter) ([]*Event, int, error) {
	events, total, err := s.store.Query(ctx, filter)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeBadRequest) {
			return nil, 0, err
		}
		return nil, 0, dErrors.Wrap(err, dErrors.CodeInternal, "query audit events")
	}
	return events, total, nil
}
