package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"correlate/internal/correlation/audit"
	id "correlate/pkg/domain"
	dErrors "correlate/pkg/domain-errors"
)

func testEvent(connectorID id.ConnectorID, account string, at time.Time) *audit.Event {
	score := 0.95
	identityID := id.NewIdentityID()
	return &audit.Event{
		ConnectorID:     connectorID,
		AccountID:       id.AccountID(account),
		IdentityID:      &identityID,
		EventType:       audit.EventAutoConfirm,
		Outcome:         audit.OutcomeSuccess,
		ConfidenceScore: &score,
		CandidateCount:  1,
		ActorType:       audit.ActorSystem,
		IdempotencyKey:  audit.Key(id.AccountID(account), at),
		CreatedAt:       at,
	}
}

func TestInMemoryStore_AppendAssignsID(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	eventID, err := store.Append(ctx, testEvent(id.NewConnectorID(), "acct-1", time.Now()))
	require.NoError(t, err)
	assert.False(t, eventID.IsNil())
}

func TestInMemoryStore_AppendIdempotent(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	connectorID := id.NewConnectorID()
	at := time.Now()

	first, err := store.Append(ctx, testEvent(connectorID, "acct-1", at))
	require.NoError(t, err)

	// Same account and decision time therefore same idempotency key.
	second, err := store.Append(ctx, testEvent(connectorID, "acct-1", at))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	events, total, err := store.Query(ctx, audit.Filter{ConnectorID: connectorID, Page: 1, PerPage: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, events, 1)
}

func TestInMemoryStore_AppendRejectsInvalid(t *testing.T) {
	store := NewMemory()

	e := testEvent(id.NewConnectorID(), "acct-1", time.Now())
	e.EventType = audit.EventReject
	e.Reason = "" // reject without a reason violates the ledger invariant

	_, err := store.Append(context.Background(), e)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func TestInMemoryStore_QueryFiltersAndPaginates(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	connectorID := id.NewConnectorID()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		e := testEvent(connectorID, "acct-1", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, errFrom(store.Append(ctx, e)))
	}
	reject := testEvent(connectorID, "acct-2", base.Add(10*time.Minute))
	reject.EventType = audit.EventReject
	reject.Outcome = audit.OutcomeFailure
	reject.Reason = "account stale"
	require.NoError(t, errFrom(store.Append(ctx, reject)))

	// Other connectors never leak into results.
	require.NoError(t, errFrom(store.Append(ctx, testEvent(id.NewConnectorID(), "acct-9", base))))

	events, total, err := store.Query(ctx, audit.Filter{ConnectorID: connectorID, Page: 1, PerPage: 3})
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	require.Len(t, events, 3)
	// Newest first.
	assert.Equal(t, audit.EventReject, events[0].EventType)
	assert.True(t, events[1].CreatedAt.After(events[2].CreatedAt))

	events, total, err = store.Query(ctx, audit.Filter{ConnectorID: connectorID, Page: 2, PerPage: 3})
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	assert.Len(t, events, 3)

	events, total, err = store.Query(ctx, audit.Filter{
		ConnectorID: connectorID,
		EventType:   audit.EventReject,
		Page:        1,
		PerPage:     10,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, events, 1)
	assert.Equal(t, "account stale", events[0].Reason)

	events, total, err = store.Query(ctx, audit.Filter{
		ConnectorID: connectorID,
		Start:       base.Add(3 * time.Minute),
		End:         base.Add(5 * time.Minute),
		Page:        1,
		PerPage:     10,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, events, 2)
}

func TestInMemoryStore_QueryPageBeyondEnd(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	connectorID := id.NewConnectorID()

	require.NoError(t, errFrom(store.Append(ctx, testEvent(connectorID, "acct-1", time.Now()))))

	events, total, err := store.Query(ctx, audit.Filter{ConnectorID: connectorID, Page: 5, PerPage: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Empty(t, events)
}

func errFrom(_ id.EventID, err error) error { return err }
