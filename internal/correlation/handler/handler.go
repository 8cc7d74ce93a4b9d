// Package handler exposes the correlation engine over HTTP: rule and policy
// management, reconciliation triggers, the audit query surface, and
// manual-review case decisions.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"correlate/internal/correlation/audit"
	"correlate/internal/correlation/cases"
	"correlate/internal/correlation/models"
	"correlate/internal/correlation/orchestrator"
	id "correlate/pkg/domain"
	dErrors "correlate/pkg/domain-errors"
	"correlate/pkg/platform/httputil"
	authmw "correlate/pkg/platform/middleware/auth"
	"correlate/pkg/requestcontext"
)

// RuleService manages correlation rules and connector policies.
type RuleService interface {
	Create(ctx context.Context, rule *models.CorrelationRule) (*models.CorrelationRule, error)
	Update(ctx context.Context, ruleID id.RuleID, rule *models.CorrelationRule) (*models.CorrelationRule, error)
	Get(ctx context.Context, ruleID id.RuleID) (*models.CorrelationRule, error)
	List(ctx context.Context, connectorID id.ConnectorID) ([]models.CorrelationRule, error)
	ValidateExpression(ctx context.Context, expression string, source, target map[string]any) (*bool, error)
	GetPolicy(ctx context.Context, connectorID id.ConnectorID) (*models.ConnectorPolicy, error)
	PutPolicy(ctx context.Context, policy *models.ConnectorPolicy) (*models.ConnectorPolicy, error)
}

// CaseService manages manual-review cases.
type CaseService interface {
	Get(ctx context.Context, caseID id.CaseID) (*cases.Case, error)
	ListPending(ctx context.Context, connectorID id.ConnectorID) ([]*cases.Case, error)
	Decide(ctx context.Context, caseID id.CaseID, res cases.Resolution) (*cases.Case, error)
}

// AuditService reads the append-only decision ledger.
type AuditService interface {
	Query(ctx context.Context, filter audit.Filter) ([]*audit.Event, int, error)
}

// Reconciler runs reconciliation batches.
type Reconciler interface {
	Reconcile(ctx context.Context, connectorID id.ConnectorID, accountIDs []id.AccountID) (*orchestrator.BatchResult, error)
}

// Handler serves the correlation API.
type Handler struct {
	rules      RuleService
	cases      CaseService
	audit      AuditService
	reconciler Reconciler
	validator  authmw.TokenValidator
	logger     *slog.Logger
}

// New creates the correlation Handler.
func New(rules RuleService, caseSvc CaseService, auditSvc AuditService, reconciler Reconciler, validator authmw.TokenValidator, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		rules:      rules,
		cases:      caseSvc,
		audit:      auditSvc,
		reconciler: reconciler,
		validator:  validator,
		logger:     logger,
	}
}

// Register mounts the correlation routes. Reads are open to any caller on
// the internal network; everything that mutates state or decides a case
// requires an authenticated operator so the ledger can attribute the actor.
func (h *Handler) Register(r chi.Router) {
	requireOperator := authmw.RequireOperator(h.validator, h.logger)

	r.Route("/connectors/{connectorID}/correlation", func(r chi.Router) {
		r.Get("/rules", h.handleListRules)
		r.Get("/policy", h.handleGetPolicy)
		r.Get("/audit", h.handleQueryAudit)
		r.Get("/cases", h.handleListPendingCases)

		r.Group(func(r chi.Router) {
			r.Use(requireOperator)
			r.Post("/rules", h.handleCreateRule)
			r.Put("/rules/{ruleID}", h.handleUpdateRule)
			r.Post("/rules/validate-expression", h.handleValidateExpression)
			r.Put("/policy", h.handlePutPolicy)
			r.Post("/reconcile", h.handleReconcile)
		})
	})

	r.Route("/correlation/cases/{caseID}", func(r chi.Router) {
		r.Get("/", h.handleGetCase)
		r.With(requireOperator).Post("/decide", h.handleDecideCase)
	})
}

func (h *Handler) connectorID(w http.ResponseWriter, r *http.Request) (id.ConnectorID, bool) {
	connectorID, err := id.ParseConnectorID(chi.URLParam(r, "connectorID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid connector ID"))
		return id.ConnectorID{}, false
	}
	return connectorID, true
}

func (h *Handler) handleListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	connectorID, ok := h.connectorID(w, r)
	if !ok {
		return
	}

	rules, err := h.rules.List(ctx, connectorID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (h *Handler) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	connectorID, ok := h.connectorID(w, r)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[ruleRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	created, err := h.rules.Create(ctx, req.toModel(connectorID))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "correlation rule created",
		"request_id", requestID,
		"connector_id", connectorID,
		"rule_id", created.ID,
		"name", created.Name,
	)
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	connectorID, ok := h.connectorID(w, r)
	if !ok {
		return
	}
	ruleID, err := id.ParseRuleID(chi.URLParam(r, "ruleID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid rule ID"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[ruleRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	updated, err := h.rules.Update(ctx, ruleID, req.toModel(connectorID))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleValidateExpression(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[validateExpressionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.rules.ValidateExpression(ctx, req.Expression, req.Source, req.Target)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"valid":  true,
		"result": result,
	})
}

func (h *Handler) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	connectorID, ok := h.connectorID(w, r)
	if !ok {
		return
	}

	policy, err := h.rules.GetPolicy(ctx, connectorID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, policy)
}

func (h *Handler) handlePutPolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	connectorID, ok := h.connectorID(w, r)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[policyRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	stored, err := h.rules.PutPolicy(ctx, req.toModel(connectorID))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "connector policy updated",
		"request_id", requestID,
		"connector_id", connectorID,
		"actor_id", requestcontext.ActorID(ctx),
	)
	httputil.WriteJSON(w, http.StatusOK, stored)
}

func (h *Handler) handleQueryAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	connectorID, ok := h.connectorID(w, r)
	if !ok {
		return
	}

	filter, err := auditFilterFromQuery(r, connectorID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	events, total, err := h.audit.Query(ctx, filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"events":   events,
		"total":    total,
		"page":     filter.Page,
		"per_page": filter.PerPage,
	})
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	connectorID, ok := h.connectorID(w, r)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[reconcileRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.reconciler.Reconcile(ctx, connectorID, req.accountIDs())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "reconciliation batch requested",
		"request_id", requestID,
		"connector_id", connectorID,
		"accounts", len(req.AccountIDs),
		"actor_id", requestcontext.ActorID(ctx),
	)
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleListPendingCases(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	connectorID, ok := h.connectorID(w, r)
	if !ok {
		return
	}

	pending, err := h.cases.ListPending(ctx, connectorID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"cases": pending})
}

func (h *Handler) handleGetCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caseID, err := id.ParseCaseID(chi.URLParam(r, "caseID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid case ID"))
		return
	}

	c, err := h.cases.Get(ctx, caseID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) handleDecideCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	caseID, err := id.ParseCaseID(chi.URLParam(r, "caseID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid case ID"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[decideCaseRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	res := req.toResolution()
	res.ActorID = requestcontext.ActorID(ctx)
	res.DecidedAt = requestcontext.Now(ctx)

	decided, err := h.cases.Decide(ctx, caseID, res)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "case decided via API",
		"request_id", requestID,
		"case_id", caseID,
		"verdict", res.Verdict,
		"actor_id", res.ActorID,
	)
	httputil.WriteJSON(w, http.StatusOK, decided)
}

// auditFilterFromQuery parses the audit query parameters. Timestamps are
// RFC 3339; pagination falls back to the service defaults.
func auditFilterFromQuery(r *http.Request, connectorID id.ConnectorID) (audit.Filter, error) {
	q := r.URL.Query()
	filter := audit.Filter{
		ConnectorID: connectorID,
		EventType:   audit.EventType(q.Get("event_type")),
		Outcome:     audit.Outcome(q.Get("outcome")),
	}

	if raw := q.Get("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.Filter{}, dErrors.New(dErrors.CodeBadRequest, "start must be RFC 3339")
		}
		filter.Start = t
	}
	if raw := q.Get("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.Filter{}, dErrors.New(dErrors.CodeBadRequest, "end must be RFC 3339")
		}
		filter.End = t
	}
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return audit.Filter{}, dErrors.New(dErrors.CodeBadRequest, "page must be an integer")
		}
		filter.Page = n
	}
	if raw := q.Get("per_page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return audit.Filter{}, dErrors.New(dErrors.CodeBadRequest, "per_page must be an integer")
		}
		filter.PerPage = n
	}
	// Normalize pagination up front so the response echoes the effective
	// page and page size.
	if err := filter.Validate(); err != nil {
		return audit.Filter{}, err
	}
	return filter, nil
}
