// Package orchestrator runs reconciliation batches: it freezes a rule
// snapshot, fans accounts out to bounded workers, and turns every completed
// evaluation into exactly one audit event.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"correlate/internal/correlation/audit"
	"correlate/internal/correlation/cases"
	"correlate/internal/correlation/decide"
	"correlate/internal/correlation/metrics"
	"correlate/internal/correlation/models"
	"correlate/internal/correlation/ports"
	"correlate/internal/correlation/rules"
	"correlate/internal/correlation/score"
	id "correlate/pkg/domain"
	dErrors "correlate/pkg/domain-errors"
)

const tracerName = "correlate/orchestrator"

// ResultStatus classifies what happened to one account in a batch.
type ResultStatus string

const (
	// StatusDecided means a terminal decision was made and its audit event
	// written.
	StatusDecided ResultStatus = "decided"
	// StatusFailed means evaluation could not complete; a failure-outcome
	// audit event was written.
	StatusFailed ResultStatus = "failed"
	// StatusRequeued means the audit write itself failed; the account must
	// be retried in a later batch because decisions without audit coverage
	// are not acceptable.
	StatusRequeued ResultStatus = "requeued"
	// StatusCanceled means the batch was cancelled before this account
	// finished; no audit event was written.
	StatusCanceled ResultStatus = "canceled"
)

// AccountResult is the outcome of one account's evaluation.
type AccountResult struct {
	AccountID id.AccountID        `json:"account_id"`
	Status    ResultStatus        `json:"status"`
	Decision  models.DecisionType `json:"decision,omitempty"`
	EventID   id.EventID          `json:"event_id,omitempty"`
	CaseID    *id.CaseID          `json:"case_id,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// BatchResult summarizes one reconciliation run.
type BatchResult struct {
	ConnectorID id.ConnectorID  `json:"connector_id"`
	Accounts    []AccountResult `json:"accounts"`
}

// Snapshotter freezes the rule set and policy for a batch.
type Snapshotter interface {
	Snapshot(ctx context.Context, connectorID id.ConnectorID) (*rules.Snapshot, error)
}

// Recorder appends audit events.
type Recorder interface {
	Record(ctx context.Context, event *audit.Event) (id.EventID, error)
}

// CaseOpener opens manual-review cases.
type CaseOpener interface {
	Open(ctx context.Context, c *cases.Case) (*cases.Case, error)
}

// Orchestrator coordinates reconciliation runs for connectors.
type Orchestrator struct {
	snapshotter Snapshotter
	feed        ports.AccountSource
	directory   ports.DirectoryClient
	scorer      *score.Scorer
	engine      *decide.Engine
	recorder    Recorder
	caseOpener  CaseOpener

	workerLimit    int
	accountTimeout time.Duration
	maxRetries     int

	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(o *Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithWorkerLimit sets the default per-connector worker bound, used when
// the connector policy does not set its own.
func WithWorkerLimit(limit int) Option {
	return func(o *Orchestrator) {
		if limit > 0 {
			o.workerLimit = limit
		}
	}
}

// WithAccountTimeout sets the per-account evaluation deadline.
func WithAccountTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.accountTimeout = timeout
		}
	}
}

// WithLookupRetries sets how many times transient collaborator failures are
// retried before the account is recorded as failed.
func WithLookupRetries(retries int) Option {
	return func(o *Orchestrator) {
		if retries >= 0 {
			o.maxRetries = retries
		}
	}
}

// New constructs an Orchestrator.
func New(snapshotter Snapshotter, feed ports.AccountSource, directory ports.DirectoryClient, recorder Recorder, caseOpener CaseOpener, opts ...Option) (*Orchestrator, error) {
	if snapshotter == nil || feed == nil || directory == nil || recorder == nil || caseOpener == nil {
		return nil, fmt.Errorf("all orchestrator collaborators are required")
	}
	o := &Orchestrator{
		snapshotter:    snapshotter,
		feed:           feed,
		directory:      directory,
		recorder:       recorder,
		caseOpener:     caseOpener,
		workerLimit:    8,
		accountTimeout: 30 * time.Second,
		maxRetries:     3,
		logger:         slog.Default(),
		tracer:         otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.scorer = score.New(score.WithLogger(o.logger))
	o.engine = decide.New(decide.WithLogger(o.logger))
	return o, nil
}

// Reconcile evaluates a batch of accounts against a single frozen rule
// snapshot. Rule edits made while the batch runs never affect it. Workers
// share nothing mutable: the snapshot is read-only and the ledger is
// append-only.
func (o *Orchestrator) Reconcile(ctx context.Context, connectorID id.ConnectorID, accountIDs []id.AccountID) (*BatchResult, error) {
	ctx, span := o.tracer.Start(ctx, "reconcile.batch", trace.WithAttributes(
		attribute.String("connector_id", connectorID.String()),
		attribute.Int("accounts", len(accountIDs)),
	))
	defer span.End()

	snapshot, err := o.snapshotter.Snapshot(ctx, connectorID)
	if err != nil {
		return nil, err
	}
	if len(snapshot.Rules) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "connector has no active correlation rules")
	}

	limit := o.workerLimit
	if snapshot.Policy.WorkerLimit > 0 {
		limit = snapshot.Policy.WorkerLimit
	}

	o.logger.InfoContext(ctx, "reconciliation batch started",
		"connector_id", connectorID,
		"accounts", len(accountIDs),
		"rules", len(snapshot.Rules),
		"workers", limit,
	)

	results := make([]AccountResult, len(accountIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, accountID := range accountIDs {
		g.Go(func() error {
			results[i] = o.processAccount(gctx, snapshot, accountID)
			return nil
		})
	}
	_ = g.Wait()

	decided, failed, requeued := 0, 0, 0
	for _, r := range results {
		switch r.Status {
		case StatusDecided:
			decided++
		case StatusFailed:
			failed++
		case StatusRequeued:
			requeued++
		}
	}
	o.logger.InfoContext(ctx, "reconciliation batch finished",
		"connector_id", connectorID,
		"decided", decided,
		"failed", failed,
		"requeued", requeued,
	)

	return &BatchResult{ConnectorID: connectorID, Accounts: results}, nil
}

func (o *Orchestrator) processAccount(ctx context.Context, snapshot *rules.Snapshot, accountID id.AccountID) AccountResult {
	if ctx.Err() != nil {
		// Cancelled before this account started; abandoned without an
		// audit event.
		return AccountResult{AccountID: accountID, Status: StatusCanceled}
	}

	start := time.Now()
	if o.metrics != nil {
		defer o.metrics.ObserveAccount(start)
	}

	ctx, cancel := context.WithTimeout(ctx, o.accountTimeout)
	defer cancel()

	ctx, span := o.tracer.Start(ctx, "reconcile.account", trace.WithAttributes(
		attribute.String("account_id", accountID.String()),
	))
	defer span.End()

	account, err := o.fetchAccount(ctx, snapshot.ConnectorID, accountID)
	if err != nil {
		return o.terminate(ctx, snapshot, accountID, err, fmt.Sprintf("account fetch failed: %v", err))
	}

	candidates, err := o.findCandidates(ctx, snapshot.ConnectorID, account.Attributes)
	if err != nil {
		return o.terminate(ctx, snapshot, accountID, err, fmt.Sprintf("candidate lookup failed: %v", err))
	}

	scoreStart := time.Now()
	result := o.scorer.Score(ctx, snapshot.Rules, account, candidates, snapshot.Policy.TopN)
	if o.metrics != nil {
		o.metrics.ObserveScore(scoreStart)
	}

	decision := o.engine.Decide(ctx, snapshot.Policy, result)
	return o.apply(ctx, snapshot, account, result, decision)
}

// terminate handles collaborator failures: cancellation is abandoned
// silently, everything else gets a failure-outcome audit event so the
// ledger has no gaps.
func (o *Orchestrator) terminate(ctx context.Context, snapshot *rules.Snapshot, accountID id.AccountID, cause error, reason string) AccountResult {
	if errors.Is(cause, context.Canceled) {
		return AccountResult{AccountID: accountID, Status: StatusCanceled}
	}

	if o.metrics != nil {
		o.metrics.AccountFailures.Inc()
	}
	event := &audit.Event{
		ConnectorID:        snapshot.ConnectorID,
		AccountID:          accountID,
		EventType:          audit.EventReject,
		Outcome:            audit.OutcomeFailure,
		RulesSnapshot:      snapshot.RulesJSON,
		ThresholdsSnapshot: snapshot.ThresholdsJSON,
		ActorType:          audit.ActorSystem,
		Reason:             reason,
	}
	// The per-account deadline may already have expired; the failure event
	// still has to reach the ledger, so the write runs detached from it.
	eventID, err := o.record(context.WithoutCancel(ctx), event)
	if err != nil {
		return o.requeue(ctx, accountID, err)
	}
	o.logger.WarnContext(ctx, "account evaluation failed",
		"account_id", accountID,
		"reason", reason,
	)
	return AccountResult{AccountID: accountID, Status: StatusFailed, EventID: eventID, Error: reason}
}

func (o *Orchestrator) apply(ctx context.Context, snapshot *rules.Snapshot, account *models.Account, result score.Result, decision models.Decision) AccountResult {
	accountID := account.ID
	summary, err := json.Marshal(result.Ranked)
	if err != nil {
		summary = nil
	}

	event := &audit.Event{
		ConnectorID:        snapshot.ConnectorID,
		AccountID:          accountID,
		Outcome:            audit.OutcomeSuccess,
		ConfidenceScore:    decision.Score,
		CandidateCount:     result.Considered,
		CandidatesSummary:  summary,
		RulesSnapshot:      snapshot.RulesJSON,
		ThresholdsSnapshot: snapshot.ThresholdsJSON,
		ActorType:          audit.ActorSystem,
		Reason:             decision.Reason,
	}

	res := AccountResult{AccountID: accountID, Status: StatusDecided, Decision: decision.Type}

	switch decision.Type {
	case models.DecisionAutoConfirm:
		event.EventType = audit.EventAutoConfirm
		identity := decision.IdentityID
		event.IdentityID = &identity

	case models.DecisionReject:
		event.EventType = audit.EventReject

	case models.DecisionCreateIdentity:
		identityID, err := o.createIdentity(ctx, snapshot.ConnectorID, account.Attributes)
		if err != nil {
			return o.terminate(ctx, snapshot, accountID, err, fmt.Sprintf("identity provisioning failed: %v", err))
		}
		event.EventType = audit.EventCreateIdentity
		event.IdentityID = &identityID

	case models.DecisionManualConfirm:
		// Pre-mint both IDs so the event can reference the case and the
		// case can reference the event.
		event.ID = id.NewEventID()
		caseID := id.NewCaseID()
		event.EventType = audit.EventManualConfirm
		event.CaseID = &caseID
		res.CaseID = &caseID
	}

	eventID, err := o.record(ctx, event)
	if err != nil {
		return o.requeue(ctx, accountID, err)
	}
	res.EventID = eventID

	if decision.OpenCase {
		if _, err := o.caseOpener.Open(ctx, &cases.Case{
			ID:            *event.CaseID,
			ConnectorID:   snapshot.ConnectorID,
			AccountID:     accountID,
			Candidates:    result.Ranked,
			OpenedEventID: eventID,
			CreatedAt:     event.CreatedAt,
		}); err != nil {
			return o.requeue(ctx, accountID, err)
		}
		if o.metrics != nil {
			o.metrics.CasesOpened.Inc()
		}
	}

	if o.metrics != nil {
		o.metrics.IncrementDecision(string(decision.Type))
	}
	o.logger.InfoContext(ctx, "account decided",
		"account_id", accountID,
		"decision", decision.Type,
		"candidates", result.Considered,
		"event_id", eventID,
	)
	return res
}

// record stamps the event and appends it, retrying transient write failures
// under the idempotency key.
func (o *Orchestrator) record(ctx context.Context, event *audit.Event) (id.EventID, error) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	event.IdempotencyKey = audit.Key(event.AccountID, event.CreatedAt)

	var eventID id.EventID
	operation := func() error {
		var err error
		eventID, err = o.recorder.Record(ctx, event)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.Retry(operation, o.backoffPolicy(ctx))
	return eventID, err
}

func (o *Orchestrator) fetchAccount(ctx context.Context, connectorID id.ConnectorID, accountID id.AccountID) (*models.Account, error) {
	var account *models.Account
	operation := func() error {
		var err error
		account, err = o.feed.FetchAccount(ctx, connectorID, accountID)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.Retry(operation, o.backoffPolicy(ctx))
	return account, err
}

func (o *Orchestrator) findCandidates(ctx context.Context, connectorID id.ConnectorID, attributes map[string]any) ([]models.Candidate, error) {
	var candidates []models.Candidate
	operation := func() error {
		var err error
		candidates, err = o.directory.FindCandidates(ctx, connectorID, attributes)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		if err != nil && o.metrics != nil {
			o.metrics.LookupRetries.Inc()
		}
		return err
	}
	err := backoff.Retry(operation, o.backoffPolicy(ctx))
	return candidates, err
}

func (o *Orchestrator) createIdentity(ctx context.Context, connectorID id.ConnectorID, attributes map[string]any) (id.IdentityID, error) {
	var identityID id.IdentityID
	operation := func() error {
		var err error
		identityID, err = o.directory.CreateIdentity(ctx, connectorID, attributes)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	err := backoff.Retry(operation, o.backoffPolicy(ctx))
	return identityID, err
}

func (o *Orchestrator) requeue(ctx context.Context, accountID id.AccountID, cause error) AccountResult {
	if errors.Is(cause, context.Canceled) {
		return AccountResult{AccountID: accountID, Status: StatusCanceled}
	}
	if o.metrics != nil {
		o.metrics.AccountRequeues.Inc()
	}
	o.logger.ErrorContext(ctx, "audit write failed, account re-queued",
		"account_id", accountID,
		"error", cause,
	)
	return AccountResult{AccountID: accountID, Status: StatusRequeued, Error: cause.Error()}
}

func (o *Orchestrator) backoffPolicy(ctx context.Context) backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 2 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(policy, uint64(o.maxRetries)), ctx)
}

// retryable reports whether an error is worth retrying: collaborator
// unavailability and timeouts, never validation or invariant failures.
func retryable(err error) bool {
	return dErrors.HasCode(err, dErrors.CodeUnavailable) || dErrors.HasCode(err, dErrors.CodeTimeout)
}
