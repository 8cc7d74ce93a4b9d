package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the correlation module.
// Tracks decision outcomes and the hot-path durations of a reconciliation run.
type Metrics struct {
	Decisions       *prometheus.CounterVec
	AccountFailures prometheus.Counter
	AccountRequeues prometheus.Counter
	ScoreDuration   prometheus.Histogram
	AccountDuration prometheus.Histogram
	LookupRetries   prometheus.Counter
	CasesOpened     prometheus.Counter
	OutboxPublished prometheus.Counter
}

// New creates a new Metrics instance with all correlation module metrics registered.
func New() *Metrics {
	return &Metrics{
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "correlate_decisions_total",
			Help: "Total account decisions by terminal type",
		}, []string{"decision"}),
		AccountFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "correlate_account_failures_total",
			Help: "Total accounts whose evaluation ended in a failure audit event",
		}),
		AccountRequeues: promauto.NewCounter(prometheus.CounterOpts{
			Name: "correlate_account_requeues_total",
			Help: "Total accounts re-queued because the audit write could not be completed",
		}),
		ScoreDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "correlate_score_duration_seconds",
			Help:    "Duration of candidate scoring per account (pure CPU)",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		AccountDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "correlate_account_duration_seconds",
			Help:    "End-to-end duration of one account evaluation including collaborator I/O",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		LookupRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "correlate_candidate_lookup_retries_total",
			Help: "Total transient candidate-lookup retries",
		}),
		CasesOpened: promauto.NewCounter(prometheus.CounterOpts{
			Name: "correlate_cases_opened_total",
			Help: "Total manual-review cases opened",
		}),
		OutboxPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "correlate_outbox_published_total",
			Help: "Total audit events relayed to the broker",
		}),
	}
}

// IncrementDecision records one terminal decision.
func (m *Metrics) IncrementDecision(decision string) {
	m.Decisions.WithLabelValues(decision).Inc()
}

// ObserveScore records the duration of one scoring pass.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveScore(start time.Time) {
	m.ScoreDuration.Observe(time.Since(start).Seconds())
}

// ObserveAccount records the end-to-end duration of one account evaluation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveAccount(start time.Time) {
	m.AccountDuration.Observe(time.Since(start).Seconds())
}
