//go:build integration

package rule_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"correlate/internal/correlation/models"
	"correlate/internal/correlation/store/rule"
	id "correlate/pkg/domain"
	dErrors "correlate/pkg/domain-errors"
	"correlate/pkg/testutil/containers"
)

type PostgresRuleStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *rule.PostgresRuleStore
}

func TestPostgresRuleStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresRuleStoreSuite))
}

func (s *PostgresRuleStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = rule.NewPostgres(s.postgres.DB)
}

func (s *PostgresRuleStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "correlation_rules", "connector_policies")
	s.Require().NoError(err)
}

func (s *PostgresRuleStoreSuite) testRule(connectorID id.ConnectorID, name string, tier, priority int) *models.CorrelationRule {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.CorrelationRule{
		ID:              id.NewRuleID(),
		ConnectorID:     connectorID,
		Name:            name,
		SourceAttribute: "email",
		TargetAttribute: "email",
		MatchType:       models.MatchExact,
		Weight:          1.0,
		Tier:            tier,
		Priority:        priority,
		Normalize:       true,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (s *PostgresRuleStoreSuite) TestCreateAndGet() {
	ctx := context.Background()
	r := s.testRule(id.NewConnectorID(), "email-exact", 1, 0)
	s.Require().NoError(s.store.Create(ctx, r))

	got, err := s.store.Get(ctx, r.ID)
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal(r.Name, got.Name)
	s.Equal(models.MatchExact, got.MatchType)
	s.Empty(string(got.Algorithm))
}

func (s *PostgresRuleStoreSuite) TestGetAbsent() {
	got, err := s.store.Get(context.Background(), id.NewRuleID())
	s.Require().NoError(err)
	s.Nil(got)
}

func (s *PostgresRuleStoreSuite) TestCreateDuplicateName() {
	ctx := context.Background()
	connectorID := id.NewConnectorID()
	s.Require().NoError(s.store.Create(ctx, s.testRule(connectorID, "email-exact", 1, 0)))

	err := s.store.Create(ctx, s.testRule(connectorID, "email-exact", 1, 0))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *PostgresRuleStoreSuite) TestUpdate() {
	ctx := context.Background()
	r := s.testRule(id.NewConnectorID(), "email-exact", 1, 0)
	s.Require().NoError(s.store.Create(ctx, r))

	r.MatchType = models.MatchFuzzy
	r.Algorithm = models.AlgorithmJaroWinkler
	r.Threshold = 0.85
	r.UpdatedAt = time.Now().UTC().Truncate(time.Microsecond)
	s.Require().NoError(s.store.Update(ctx, r))

	got, err := s.store.Get(ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(models.MatchFuzzy, got.MatchType)
	s.Equal(models.AlgorithmJaroWinkler, got.Algorithm)
	s.InDelta(0.85, got.Threshold, 1e-9)
}

func (s *PostgresRuleStoreSuite) TestUpdateMissing() {
	err := s.store.Update(context.Background(), s.testRule(id.NewConnectorID(), "ghost", 1, 0))
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *PostgresRuleStoreSuite) TestListOrdering() {
	ctx := context.Background()
	connectorID := id.NewConnectorID()

	s.Require().NoError(s.store.Create(ctx, s.testRule(connectorID, "b-low-priority", 2, 1)))
	s.Require().NoError(s.store.Create(ctx, s.testRule(connectorID, "a-name-tiebreak", 2, 5)))
	s.Require().NoError(s.store.Create(ctx, s.testRule(connectorID, "z-first-tier", 1, 0)))
	s.Require().NoError(s.store.Create(ctx, s.testRule(id.NewConnectorID(), "other-connector", 1, 0)))

	rules, err := s.store.ListByConnector(ctx, connectorID)
	s.Require().NoError(err)
	s.Require().Len(rules, 3)
	s.Equal("z-first-tier", rules[0].Name)
	s.Equal("a-name-tiebreak", rules[1].Name)
	s.Equal("b-low-priority", rules[2].Name)
}

func (s *PostgresRuleStoreSuite) TestPolicyUpsert() {
	ctx := context.Background()
	connectorID := id.NewConnectorID()

	got, err := s.store.GetPolicy(ctx, connectorID)
	s.Require().NoError(err)
	s.Nil(got)

	policy := models.DefaultPolicy(connectorID)
	policy.UpdatedAt = time.Now().UTC().Truncate(time.Microsecond)
	s.Require().NoError(s.store.PutPolicy(ctx, &policy))

	policy.AutoConfirmThreshold = 0.95
	policy.MinMargin = 0.05
	s.Require().NoError(s.store.PutPolicy(ctx, &policy))

	got, err = s.store.GetPolicy(ctx, connectorID)
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.InDelta(0.95, got.AutoConfirmThreshold, 1e-9)
	s.InDelta(0.05, got.MinMargin, 1e-9)
	s.Equal(connectorID, got.ConnectorID)
}
