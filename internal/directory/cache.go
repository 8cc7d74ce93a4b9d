package directory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"correlate/internal/correlation/models"
	"correlate/internal/correlation/ports"
	id "correlate/pkg/domain"
)

const candidateKeyPrefix = "correlate:candidates:"

// CachedClient wraps a directory client with a Redis TTL cache on candidate
// lookup. Fresh connector syncs hit the same accounts repeatedly within
// minutes; the cache absorbs that without a directory round trip. Identity
// creation always goes straight through.
type CachedClient struct {
	inner  ports.DirectoryClient
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedClient decorates inner with a candidate-lookup cache.
func NewCachedClient(inner ports.DirectoryClient, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedClient {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedClient{inner: inner, client: client, ttl: ttl, logger: logger}
}

func (c *CachedClient) FindCandidates(ctx context.Context, connectorID id.ConnectorID, attributes map[string]any) ([]models.Candidate, error) {
	key, ok := cacheKey(connectorID, attributes)
	if ok {
		cached, err := c.client.Get(ctx, key).Bytes()
		if err == nil {
			var candidates []models.Candidate
			if err := json.Unmarshal(cached, &candidates); err == nil {
				return candidates, nil
			}
			// Corrupt entry; fall through and overwrite it.
		} else if !errors.Is(err, redis.Nil) {
			// Cache trouble must not fail the lookup.
			c.logger.WarnContext(ctx, "candidate cache read failed", "error", err)
		}
	}

	candidates, err := c.inner.FindCandidates(ctx, connectorID, attributes)
	if err != nil {
		return nil, err
	}

	if ok {
		if encoded, err := json.Marshal(candidates); err == nil {
			if err := c.client.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
				c.logger.WarnContext(ctx, "candidate cache write failed", "error", err)
			}
		}
	}
	return candidates, nil
}

func (c *CachedClient) CreateIdentity(ctx context.Context, connectorID id.ConnectorID, attributes map[string]any) (id.IdentityID, error) {
	identityID, err := c.inner.CreateIdentity(ctx, connectorID, attributes)
	if err != nil {
		return id.IdentityID{}, err
	}
	// A new identity changes what future lookups should return for these
	// attributes; drop the stale entry.
	if key, ok := cacheKey(connectorID, attributes); ok {
		if err := c.client.Del(ctx, key).Err(); err != nil {
			c.logger.WarnContext(ctx, "candidate cache invalidation failed", "error", err)
		}
	}
	return identityID, nil
}

// cacheKey hashes the attribute map into a stable key. json.Marshal sorts
// map keys, so identical attribute sets produce identical keys.
func cacheKey(connectorID id.ConnectorID, attributes map[string]any) (string, bool) {
	encoded, err := json.Marshal(attributes)
	if err != nil {
		return "", false
	}
	sum := sha256.Sum256(encoded)
	return candidateKeyPrefix + connectorID.String() + ":" + hex.EncodeToString(sum[:]), true
}
