package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutboxSource feeds the relay from rows written alongside Append.
type OutboxSource interface {
	// NextBatch returns up to limit unpublished entries, oldest first.
	NextBatch(ctx context.Context, limit int) ([]OutboxEntry, error)

	// MarkPublished removes entries that were acked by the broker.
	MarkPublished(ctx context.Context, entryIDs []int64) error
}

// Publisher hands event payloads to the broker. The Kafka producer
// satisfies it.
type Publisher interface {
	Publish(ctx context.Context, key string, payload []byte) error
}

const relayBatchSize = 100

// Relay drains the transactional outbox to the broker. Delivery is
// at-least-once: an entry is only deleted after the broker acks it, so a
// crash between publish and delete replays the event. Consumers dedupe on
// event ID.
type Relay struct {
	outbox    OutboxSource
	publisher Publisher
	interval  time.Duration
	logger    *slog.Logger
	published prometheus.Counter
}

// RelayOption configures optional relay behavior.
type RelayOption func(*Relay)

// WithPublishedCounter counts broker-acked events.
func WithPublishedCounter(c prometheus.Counter) RelayOption {
	return func(r *Relay) {
		r.published = c
	}
}

func NewRelay(outbox OutboxSource, publisher Publisher, interval time.Duration, logger *slog.Logger, opts ...RelayOption) *Relay {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Relay{outbox: outbox, publisher: publisher, interval: interval, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run drains the outbox on a fixed interval until the context is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Drain(ctx); err != nil {
				// Broker or database hiccups are retried next tick; the
				// entries stay queued.
				r.logger.WarnContext(ctx, "outbox drain failed", "error", err)
			}
		}
	}
}

// Drain publishes pending entries until the outbox is empty. Exported for
// tests and for a final flush during shutdown.
func (r *Relay) Drain(ctx context.Context) error {
	for {
		batch, err := r.outbox.NextBatch(ctx, relayBatchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		published := make([]int64, 0, len(batch))
		for _, entry := range batch {
			if err := r.publisher.Publish(ctx, entry.EventID.String(), entry.Payload); err != nil {
				// Keep ordering: stop at the first failure, ack what made
				// it, and retry the rest next round.
				if markErr := r.outbox.MarkPublished(ctx, published); markErr != nil {
					r.logger.ErrorContext(ctx, "failed to ack published outbox entries", "error", markErr)
				}
				return err
			}
			published = append(published, entry.ID)
			if r.published != nil {
				r.published.Inc()
			}
		}
		if err := r.outbox.MarkPublished(ctx, published); err != nil {
			return err
		}
		if len(batch) < relayBatchSize {
			return nil
		}
	}
}
