package decide

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"correlate/internal/correlation/models"
	"correlate/internal/correlation/score"
	id "correlate/pkg/domain"
)

func policy() models.ConnectorPolicy {
	p := models.DefaultPolicy(id.NewConnectorID())
	p.AutoConfirmThreshold = 0.9
	p.ManualReviewThreshold = 0.6
	return p
}

func ranked(scores ...float64) score.Result {
	out := make([]models.ScoredCandidate, 0, len(scores))
	for _, s := range scores {
		out = append(out, models.ScoredCandidate{IdentityID: id.NewIdentityID(), Score: s})
	}
	return score.Result{Ranked: out, Considered: len(out)}
}

func TestDecide_NoCandidatesProvisions(t *testing.T) {
	d := New().Decide(context.Background(), policy(), score.Result{Ranked: []models.ScoredCandidate{}})
	assert.Equal(t, models.DecisionCreateIdentity, d.Type)
	assert.False(t, d.OpenCase)
	assert.Nil(t, d.Score)
}

func TestDecide_NoCandidatesWithoutAutoProvision(t *testing.T) {
	p := policy()
	p.AutoProvision = false

	d := New().Decide(context.Background(), p, score.Result{})
	assert.Equal(t, models.DecisionManualConfirm, d.Type)
	assert.True(t, d.OpenCase)
	assert.True(t, d.IdentityID.IsNil())
}

func TestDecide_AutoConfirmAboveThreshold(t *testing.T) {
	result := ranked(0.95, 0.4)

	d := New().Decide(context.Background(), policy(), result)
	assert.Equal(t, models.DecisionAutoConfirm, d.Type)
	assert.Equal(t, result.Ranked[0].IdentityID, d.IdentityID)
	require.NotNil(t, d.Score)
	assert.InDelta(t, 0.95, *d.Score, 1e-9)
}

func TestDecide_MarginTooSmallGoesToReview(t *testing.T) {
	p := policy()
	p.MinMargin = 0.05

	// Both clear the auto-confirm bar but only 0.02 apart.
	d := New().Decide(context.Background(), p, ranked(0.91, 0.89))
	assert.Equal(t, models.DecisionManualConfirm, d.Type)
	assert.True(t, d.OpenCase)
	assert.True(t, d.IdentityID.IsNil())
	require.NotNil(t, d.Score)
	assert.InDelta(t, 0.91, *d.Score, 1e-9)
}

func TestDecide_SufficientMarginAutoConfirms(t *testing.T) {
	p := policy()
	p.MinMargin = 0.05

	d := New().Decide(context.Background(), p, ranked(0.95, 0.85))
	assert.Equal(t, models.DecisionAutoConfirm, d.Type)
}

func TestDecide_SoleCandidateNeedsNoMargin(t *testing.T) {
	p := policy()
	p.MinMargin = 0.05

	d := New().Decide(context.Background(), p, ranked(0.92))
	assert.Equal(t, models.DecisionAutoConfirm, d.Type)
}

func TestDecide_ReviewBand(t *testing.T) {
	d := New().Decide(context.Background(), policy(), ranked(0.75, 0.4))
	assert.Equal(t, models.DecisionManualConfirm, d.Type)
	assert.True(t, d.OpenCase)
}

func TestDecide_BelowFloorRejects(t *testing.T) {
	d := New().Decide(context.Background(), policy(), ranked(0.3))
	assert.Equal(t, models.DecisionReject, d.Type)
	assert.Equal(t, ReasonNoConfidentCandidate, d.Reason)
	assert.False(t, d.OpenCase)
}

func TestDecide_DefinitiveSkipsThresholds(t *testing.T) {
	p := policy()
	p.AutoConfirmThreshold = 1.0 // even an impossible bar
	p.MinMargin = 0.5

	winner := models.ScoredCandidate{IdentityID: id.NewIdentityID(), Score: 1.0, Definitive: true}
	d := New().Decide(context.Background(), p, score.Result{
		Ranked:     []models.ScoredCandidate{winner},
		Considered: 4,
		Definitive: true,
	})
	assert.Equal(t, models.DecisionAutoConfirm, d.Type)
	assert.Equal(t, winner.IdentityID, d.IdentityID)
}

func TestDecide_ThresholdBoundariesAreInclusive(t *testing.T) {
	d := New().Decide(context.Background(), policy(), ranked(0.9))
	assert.Equal(t, models.DecisionAutoConfirm, d.Type)

	d = New().Decide(context.Background(), policy(), ranked(0.6))
	assert.Equal(t, models.DecisionManualConfirm, d.Type)
}
