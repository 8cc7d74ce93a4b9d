//go:build integration

package audit_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"correlate/internal/correlation/audit"
	auditstore "correlate/internal/correlation/store/audit"
	id "correlate/pkg/domain"
	"correlate/pkg/testutil/containers"
)

type PostgresAuditStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *auditstore.PostgresStore
}

func TestPostgresAuditStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresAuditStoreSuite))
}

func (s *PostgresAuditStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = auditstore.NewPostgres(s.postgres.DB)
}

func (s *PostgresAuditStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "audit_outbox", "audit_events")
	s.Require().NoError(err)
}

func (s *PostgresAuditStoreSuite) testEvent(connectorID id.ConnectorID, account string, at time.Time) *audit.Event {
	score := 0.95
	identityID := id.NewIdentityID()
	return &audit.Event{
		ConnectorID:        connectorID,
		AccountID:          id.AccountID(account),
		IdentityID:         &identityID,
		EventType:          audit.EventAutoConfirm,
		Outcome:            audit.OutcomeSuccess,
		ConfidenceScore:    &score,
		CandidateCount:     2,
		CandidatesSummary:  json.RawMessage(`[{"identity_id":"x","score":0.95}]`),
		RulesSnapshot:      json.RawMessage(`[{"name":"email-exact"}]`),
		ThresholdsSnapshot: json.RawMessage(`{"auto_confirm":0.9}`),
		ActorType:          audit.ActorSystem,
		IdempotencyKey:     audit.Key(id.AccountID(account), at),
		CreatedAt:          at,
	}
}

func (s *PostgresAuditStoreSuite) TestAppendAndQueryRoundTrip() {
	ctx := context.Background()
	connectorID := id.NewConnectorID()
	at := time.Now().UTC().Truncate(time.Microsecond)

	eventID, err := s.store.Append(ctx, s.testEvent(connectorID, "acct-1", at))
	s.Require().NoError(err)
	s.False(eventID.IsNil())

	events, total, err := s.store.Query(ctx, audit.Filter{ConnectorID: connectorID, Page: 1, PerPage: 10})
	s.Require().NoError(err)
	s.Equal(1, total)
	s.Require().Len(events, 1)

	got := events[0]
	s.Equal(eventID, got.ID)
	s.Equal(audit.EventAutoConfirm, got.EventType)
	s.Equal(audit.OutcomeSuccess, got.Outcome)
	s.Require().NotNil(got.ConfidenceScore)
	s.InDelta(0.95, *got.ConfidenceScore, 1e-9)
	s.Equal(2, got.CandidateCount)
	s.JSONEq(`{"auto_confirm":0.9}`, string(got.ThresholdsSnapshot))
	s.Require().NotNil(got.IdentityID)
	s.Nil(got.CaseID)
	s.Nil(got.ActorID)
}

func (s *PostgresAuditStoreSuite) TestAppendIdempotent() {
	ctx := context.Background()
	connectorID := id.NewConnectorID()
	at := time.Now().UTC().Truncate(time.Microsecond)

	first, err := s.store.Append(ctx, s.testEvent(connectorID, "acct-1", at))
	s.Require().NoError(err)

	second, err := s.store.Append(ctx, s.testEvent(connectorID, "acct-1", at))
	s.Require().NoError(err)
	s.Equal(first, second)

	_, total, err := s.store.Query(ctx, audit.Filter{ConnectorID: connectorID, Page: 1, PerPage: 10})
	s.Require().NoError(err)
	s.Equal(1, total)

	// The duplicate must not enqueue a second outbox row either.
	batch, err := s.store.NextBatch(ctx, 10)
	s.Require().NoError(err)
	s.Len(batch, 1)
}

func (s *PostgresAuditStoreSuite) TestOutboxLifecycle() {
	ctx := context.Background()
	connectorID := id.NewConnectorID()
	base := time.Now().UTC().Truncate(time.Microsecond)

	var ids []id.EventID
	for i := 0; i < 3; i++ {
		eventID, err := s.store.Append(ctx, s.testEvent(connectorID, "acct-1", base.Add(time.Duration(i)*time.Second)))
		s.Require().NoError(err)
		ids = append(ids, eventID)
	}

	batch, err := s.store.NextBatch(ctx, 2)
	s.Require().NoError(err)
	s.Require().Len(batch, 2)
	// Oldest first.
	s.Equal(ids[0], batch[0].EventID)
	s.Equal(ids[1], batch[1].EventID)

	var decoded audit.Event
	s.Require().NoError(json.Unmarshal(batch[0].Payload, &decoded))
	s.Equal(ids[0], decoded.ID)

	s.Require().NoError(s.store.MarkPublished(ctx, []int64{batch[0].ID, batch[1].ID}))

	remaining, err := s.store.NextBatch(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(remaining, 1)
	s.Equal(ids[2], remaining[0].EventID)

	// Draining the outbox never touches the ledger itself.
	_, total, err := s.store.Query(ctx, audit.Filter{ConnectorID: connectorID, Page: 1, PerPage: 10})
	s.Require().NoError(err)
	s.Equal(3, total)
}

func (s *PostgresAuditStoreSuite) TestQueryFilters() {
	ctx := context.Background()
	connectorID := id.NewConnectorID()
	base := time.Now().UTC().Truncate(time.Microsecond)

	_, err := s.store.Append(ctx, s.testEvent(connectorID, "acct-1", base))
	s.Require().NoError(err)

	reject := s.testEvent(connectorID, "acct-2", base.Add(time.Minute))
	reject.EventType = audit.EventReject
	reject.Outcome = audit.OutcomeFailure
	reject.Reason = "no surviving candidates"
	_, err = s.store.Append(ctx, reject)
	s.Require().NoError(err)

	events, total, err := s.store.Query(ctx, audit.Filter{
		ConnectorID: connectorID,
		EventType:   audit.EventReject,
		Outcome:     audit.OutcomeFailure,
		Page:        1,
		PerPage:     10,
	})
	s.Require().NoError(err)
	s.Equal(1, total)
	s.Require().Len(events, 1)
	s.Equal("no surviving candidates", events[0].Reason)

	events, _, err = s.store.Query(ctx, audit.Filter{ConnectorID: connectorID, Page: 1, PerPage: 10})
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	// Newest first.
	s.Equal(audit.EventReject, events[0].EventType)
}
