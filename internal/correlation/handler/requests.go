package handler

import (
	"correlate/internal/correlation/cases"
	"correlate/internal/correlation/models"
	id "correlate/pkg/domain"
	dErrors "correlate/pkg/domain-errors"
)

// ruleRequest is the wire shape for creating or replacing a rule. Full
// semantic validation lives in the rules service; this only rejects bodies
// that cannot possibly become a rule.
type ruleRequest struct {
	Name            string  `json:"name"`
	SourceAttribute string  `json:"source_attribute"`
	TargetAttribute string  `json:"target_attribute"`
	MatchType       string  `json:"match_type"`
	Algorithm       string  `json:"algorithm,omitempty"`
	Threshold       float64 `json:"threshold"`
	Weight          float64 `json:"weight"`
	Expression      string  `json:"expression,omitempty"`
	Tier            int     `json:"tier"`
	IsDefinitive    bool    `json:"is_definitive"`
	Normalize       bool    `json:"normalize"`
	IsActive        bool    `json:"is_active"`
	Priority        int     `json:"priority"`
}

func (r *ruleRequest) Validate() error {
	if r.Name == "" {
		return dErrors.New(dErrors.CodeBadRequest, "name is required")
	}
	if r.MatchType == "" {
		return dErrors.New(dErrors.CodeBadRequest, "match_type is required")
	}
	return nil
}

func (r *ruleRequest) toModel(connectorID id.ConnectorID) *models.CorrelationRule {
	return &models.CorrelationRule{
		ConnectorID:     connectorID,
		Name:            r.Name,
		SourceAttribute: r.SourceAttribute,
		TargetAttribute: r.TargetAttribute,
		MatchType:       models.MatchType(r.MatchType),
		Algorithm:       models.Algorithm(r.Algorithm),
		Threshold:       r.Threshold,
		Weight:          r.Weight,
		Expression:      r.Expression,
		Tier:            r.Tier,
		IsDefinitive:    r.IsDefinitive,
		Normalize:       r.Normalize,
		IsActive:        r.IsActive,
		Priority:        r.Priority,
	}
}

// validateExpressionRequest checks an expression against optional sample
// attribute maps without persisting anything.
type validateExpressionRequest struct {
	Expression string         `json:"expression"`
	Source     map[string]any `json:"source,omitempty"`
	Target     map[string]any `json:"target,omitempty"`
}

func (r *validateExpressionRequest) Validate() error {
	if r.Expression == "" {
		return dErrors.New(dErrors.CodeBadRequest, "expression is required")
	}
	return nil
}

// policyRequest fully replaces the connector's decision policy.
type policyRequest struct {
	AutoConfirmThreshold  float64 `json:"auto_confirm_threshold"`
	ManualReviewThreshold float64 `json:"manual_review_threshold"`
	MinMargin             float64 `json:"min_margin"`
	AutoProvision         bool    `json:"auto_provision"`
	TopN                  int     `json:"top_n"`
	WorkerLimit           int     `json:"worker_limit"`
}

func (r *policyRequest) Validate() error {
	// Range checks live in the policy model so stores and handlers agree.
	return nil
}

func (r *policyRequest) toModel(connectorID id.ConnectorID) *models.ConnectorPolicy {
	return &models.ConnectorPolicy{
		ConnectorID:           connectorID,
		AutoConfirmThreshold:  r.AutoConfirmThreshold,
		ManualReviewThreshold: r.ManualReviewThreshold,
		MinMargin:             r.MinMargin,
		AutoProvision:         r.AutoProvision,
		TopN:                  r.TopN,
		WorkerLimit:           r.WorkerLimit,
	}
}

// reconcileRequest triggers a batch run over the listed accounts.
type reconcileRequest struct {
	AccountIDs []string `json:"account_ids"`
}

func (r *reconcileRequest) Validate() error {
	if len(r.AccountIDs) == 0 {
		return dErrors.New(dErrors.CodeBadRequest, "account_ids must not be empty")
	}
	for _, raw := range r.AccountIDs {
		if raw == "" {
			return dErrors.New(dErrors.CodeBadRequest, "account_ids must not contain empty entries")
		}
	}
	return nil
}

func (r *reconcileRequest) accountIDs() []id.AccountID {
	out := make([]id.AccountID, len(r.AccountIDs))
	for i, raw := range r.AccountIDs {
		out[i] = id.AccountID(raw)
	}
	return out
}

// decideCaseRequest resolves a pending manual-review case.
type decideCaseRequest struct {
	Verdict    string `json:"verdict"`
	IdentityID string `json:"identity_id,omitempty"`
	Reason     string `json:"reason,omitempty"`

	identityID id.IdentityID
}

func (r *decideCaseRequest) Validate() error {
	if r.Verdict == "" {
		return dErrors.New(dErrors.CodeBadRequest, "verdict is required")
	}
	if r.IdentityID != "" {
		parsed, err := id.ParseIdentityID(r.IdentityID)
		if err != nil {
			return dErrors.New(dErrors.CodeBadRequest, "identity_id must be a valid UUID")
		}
		r.identityID = parsed
	}
	return nil
}

func (r *decideCaseRequest) toResolution() cases.Resolution {
	return cases.Resolution{
		Verdict:    cases.Verdict(r.Verdict),
		IdentityID: r.identityID,
		Reason:     r.Reason,
	}
}
