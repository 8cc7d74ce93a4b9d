//go:build integration

package directory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"correlate/internal/correlation/models"
	"correlate/internal/directory"
	id "correlate/pkg/domain"
	"correlate/pkg/testutil/containers"
)

type countingInner struct {
	*directory.InMemoryDirectory
	lookups int
}

func (d *countingInner) FindCandidates(ctx context.Context, connectorID id.ConnectorID, attributes map[string]any) ([]models.Candidate, error) {
	d.lookups++
	return d.InMemoryDirectory.FindCandidates(ctx, connectorID, attributes)
}

type CachedClientSuite struct {
	suite.Suite

	redis       *containers.RedisContainer
	connectorID id.ConnectorID
	inner       *countingInner
	client      *directory.CachedClient
}

func TestCachedClientSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(CachedClientSuite))
}

func (s *CachedClientSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
}

func (s *CachedClientSuite) SetupTest() {
	s.Require().NoError(s.redis.Client.FlushAll(context.Background()).Err())
	s.connectorID = id.NewConnectorID()
	s.inner = &countingInner{InMemoryDirectory: directory.NewInMemory()}
	s.client = directory.NewCachedClient(s.inner, s.redis.Client, time.Minute, nil)
}

func (s *CachedClientSuite) TestSecondLookupHitsCache() {
	ctx := context.Background()
	s.inner.Add(models.Candidate{
		ID:         id.NewIdentityID(),
		Attributes: map[string]any{"email": "jane.doe@example.com"},
	})
	attrs := map[string]any{"email": "jane.doe@example.com"}

	first, err := s.client.FindCandidates(ctx, s.connectorID, attrs)
	s.Require().NoError(err)
	s.Require().Len(first, 1)
	s.Equal(1, s.inner.lookups)

	second, err := s.client.FindCandidates(ctx, s.connectorID, attrs)
	s.Require().NoError(err)
	s.Equal(first, second)
	s.Equal(1, s.inner.lookups)
}

func (s *CachedClientSuite) TestDistinctAttributeSetsDoNotCollide() {
	ctx := context.Background()
	s.inner.Add(models.Candidate{
		ID:         id.NewIdentityID(),
		Attributes: map[string]any{"email": "jane.doe@example.com"},
	})

	withMatch, err := s.client.FindCandidates(ctx, s.connectorID, map[string]any{"email": "jane.doe@example.com"})
	s.Require().NoError(err)
	s.Len(withMatch, 1)

	noMatch, err := s.client.FindCandidates(ctx, s.connectorID, map[string]any{"email": "someone.else@example.com"})
	s.Require().NoError(err)
	s.Empty(noMatch)
	s.Equal(2, s.inner.lookups)
}

func (s *CachedClientSuite) TestCreateIdentityInvalidatesCache() {
	ctx := context.Background()
	attrs := map[string]any{"email": "new.hire@example.com"}

	empty, err := s.client.FindCandidates(ctx, s.connectorID, attrs)
	s.Require().NoError(err)
	s.Empty(empty)

	created, err := s.client.CreateIdentity(ctx, s.connectorID, attrs)
	s.Require().NoError(err)
	s.False(created.IsNil())

	// The stale empty pool must not be served after provisioning.
	after, err := s.client.FindCandidates(ctx, s.connectorID, attrs)
	s.Require().NoError(err)
	s.Require().Len(after, 1)
	s.Equal(created, after[0].ID)
	s.Equal(2, s.inner.lookups)
}
