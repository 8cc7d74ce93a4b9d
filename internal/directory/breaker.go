package directory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"correlate/internal/correlation/models"
	"correlate/internal/correlation/ports"
	id "correlate/pkg/domain"
	dErrors "correlate/pkg/domain-errors"
	"correlate/pkg/platform/circuit"
)

const defaultProbeInterval = 10 * time.Second

// BreakerClient guards candidate lookups with a circuit breaker. When the
// directory keeps failing, lookups fail fast with CodeUnavailable instead of
// stacking retries onto a struggling dependency; one probe per interval is
// let through so the breaker can close again.
type BreakerClient struct {
	inner         ports.DirectoryClient
	breaker       *circuit.Breaker
	probeInterval time.Duration
	logger        *slog.Logger

	mu        sync.Mutex
	lastProbe time.Time
}

// NewBreakerClient wraps a directory client with failure tracking.
func NewBreakerClient(inner ports.DirectoryClient, logger *slog.Logger) *BreakerClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &BreakerClient{
		inner: inner,
		breaker: circuit.New("directory",
			circuit.WithFailureThreshold(5),
			circuit.WithSuccessThreshold(2)),
		probeInterval: defaultProbeInterval,
		logger:        logger,
	}
}

// allowProbe reports whether an open breaker should let this call through.
func (c *BreakerClient) allowProbe() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.lastProbe) < c.probeInterval {
		return false
	}
	c.lastProbe = time.Now()
	return true
}

func (c *BreakerClient) FindCandidates(ctx context.Context, connectorID id.ConnectorID, attributes map[string]any) ([]models.Candidate, error) {
	if c.breaker.IsOpen() && !c.allowProbe() {
		return nil, dErrors.New(dErrors.CodeUnavailable, "candidate lookup circuit open")
	}

	candidates, err := c.inner.FindCandidates(ctx, connectorID, attributes)
	if err != nil {
		if isDependencyFailure(err) {
			if _, change := c.breaker.RecordFailure(); change.Opened {
				// Start the probe cooldown at the moment the breaker opens.
				c.mu.Lock()
				c.lastProbe = time.Now()
				c.mu.Unlock()
				c.logger.WarnContext(ctx, "directory circuit opened", "breaker", c.breaker.Name())
			}
		}
		return nil, err
	}

	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.InfoContext(ctx, "directory circuit closed", "breaker", c.breaker.Name())
	}
	return candidates, nil
}

func (c *BreakerClient) CreateIdentity(ctx context.Context, connectorID id.ConnectorID, attributes map[string]any) (id.IdentityID, error) {
	// Provisioning is rare and already retried by the orchestrator; only
	// the hot lookup path trips the breaker.
	return c.inner.CreateIdentity(ctx, connectorID, attributes)
}

// isDependencyFailure reports whether the error indicates a struggling
// directory rather than a bad request.
func isDependencyFailure(err error) bool {
	return dErrors.HasCode(err, dErrors.CodeUnavailable) || dErrors.HasCode(err, dErrors.CodeTimeout)
}
