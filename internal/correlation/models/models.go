// Package models defines the correlation domain: rules, connector policy,
// accounts, candidates, and decisions. Constructors enforce the rule
// invariants so configuration errors never reach evaluation.
package models

import (
	"time"

	id "correlate/pkg/domain"
	dErrors "correlate/pkg/domain-errors"
)

// MatchType selects the comparison strategy for a rule.
type MatchType string

const (
	MatchExact      MatchType = "exact"
	MatchFuzzy      MatchType = "fuzzy"
	MatchExpression MatchType = "expression"
)

// IsValid checks if the match type is one of the supported enum values.
func (m MatchType) IsValid() bool {
	switch m {
	case MatchExact, MatchFuzzy, MatchExpression:
		return true
	}
	return false
}

// Algorithm names a fuzzy similarity function.
type Algorithm string

const (
	AlgorithmJaroWinkler Algorithm = "jaro_winkler"
	AlgorithmLevenshtein Algorithm = "levenshtein"
)

// IsValid checks if the algorithm is one of the supported enum values.
func (a Algorithm) IsValid() bool {
	switch a {
	case AlgorithmJaroWinkler, AlgorithmLevenshtein:
		return true
	}
	return false
}

// CorrelationRule is one matching directive owned by a connector.
type CorrelationRule struct {
	ID              id.RuleID      `json:"id"`
	ConnectorID     id.ConnectorID `json:"connector_id"`
	Name            string         `json:"name"`
	SourceAttribute string         `json:"source_attribute"`
	TargetAttribute string         `json:"target_attribute"`
	MatchType       MatchType      `json:"match_type"`
	Algorithm       Algorithm      `json:"algorithm,omitempty"`
	Threshold       float64        `json:"threshold"`
	Weight          float64        `json:"weight"`
	Expression      string         `json:"expression,omitempty"`
	Tier            int            `json:"tier"`
	IsDefinitive    bool           `json:"is_definitive"`
	Normalize       bool           `json:"normalize"`
	IsActive        bool           `json:"is_active"`
	Priority        int            `json:"priority"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Validate enforces the rule invariants:
// threshold in [0,1], weight >= 0, algorithm iff fuzzy, expression iff
// expression, tier >= 1. Expression syntax is checked separately by the
// rules service because it needs the evaluator.
func (r *CorrelationRule) Validate() error {
	if r.ConnectorID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "connector_id is required")
	}
	if r.Name == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	if !r.MatchType.IsValid() {
		return dErrors.Newf(dErrors.CodeValidation, "invalid match_type %q", r.MatchType)
	}
	if r.Threshold < 0 || r.Threshold > 1 {
		return dErrors.New(dErrors.CodeValidation, "threshold must be in [0,1]")
	}
	if r.Weight < 0 {
		return dErrors.New(dErrors.CodeValidation, "weight must be >= 0")
	}
	if r.Tier < 1 {
		return dErrors.New(dErrors.CodeValidation, "tier must be >= 1")
	}

	switch r.MatchType {
	case MatchFuzzy:
		if r.Algorithm == "" {
			return dErrors.New(dErrors.CodeValidation, "algorithm is required for fuzzy rules")
		}
		if !r.Algorithm.IsValid() {
			return dErrors.Newf(dErrors.CodeValidation, "unknown algorithm %q", r.Algorithm)
		}
		if r.SourceAttribute == "" || r.TargetAttribute == "" {
			return dErrors.New(dErrors.CodeValidation, "source_attribute and target_attribute are required")
		}
	case MatchExact:
		if r.Algorithm != "" {
			return dErrors.New(dErrors.CodeValidation, "algorithm is only meaningful for fuzzy rules")
		}
		if r.Expression != "" {
			return dErrors.New(dErrors.CodeValidation, "expression is only meaningful for expression rules")
		}
		if r.SourceAttribute == "" || r.TargetAttribute == "" {
			return dErrors.New(dErrors.CodeValidation, "source_attribute and target_attribute are required")
		}
	case MatchExpression:
		if r.Expression == "" {
			return dErrors.New(dErrors.CodeValidation, "expression is required for expression rules")
		}
		if r.Algorithm != "" {
			return dErrors.New(dErrors.CodeValidation, "algorithm is only meaningful for fuzzy rules")
		}
	}
	if r.MatchType == MatchFuzzy && r.Expression != "" {
		return dErrors.New(dErrors.CodeValidation, "expression is only meaningful for expression rules")
	}
	return nil
}

// ConnectorPolicy is the connector-level decision policy, distinct from any
// single rule's threshold.
type ConnectorPolicy struct {
	ConnectorID           id.ConnectorID `json:"connector_id"`
	AutoConfirmThreshold  float64        `json:"auto_confirm_threshold"`
	ManualReviewThreshold float64        `json:"manual_review_threshold"`
	MinMargin             float64        `json:"min_margin"`
	AutoProvision         bool           `json:"auto_provision"`
	TopN                  int            `json:"top_n"`
	WorkerLimit           int            `json:"worker_limit"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

// DefaultPolicy returns the policy used when a connector has none stored.
func DefaultPolicy(connectorID id.ConnectorID) ConnectorPolicy {
	return ConnectorPolicy{
		ConnectorID:           connectorID,
		AutoConfirmThreshold:  0.9,
		ManualReviewThreshold: 0.6,
		MinMargin:             0,
		AutoProvision:         true,
		TopN:                  5,
		WorkerLimit:           0, // 0 means use the process-level default
	}
}

// Validate enforces policy invariants.
func (p *ConnectorPolicy) Validate() error {
	if p.ConnectorID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "connector_id is required")
	}
	if p.AutoConfirmThreshold < 0 || p.AutoConfirmThreshold > 1 {
		return dErrors.New(dErrors.CodeValidation, "auto_confirm_threshold must be in [0,1]")
	}
	if p.ManualReviewThreshold < 0 || p.ManualReviewThreshold > 1 {
		return dErrors.New(dErrors.CodeValidation, "manual_review_threshold must be in [0,1]")
	}
	if p.ManualReviewThreshold > p.AutoConfirmThreshold {
		return dErrors.New(dErrors.CodeValidation, "manual_review_threshold cannot exceed auto_confirm_threshold")
	}
	if p.MinMargin < 0 || p.MinMargin > 1 {
		return dErrors.New(dErrors.CodeValidation, "min_margin must be in [0,1]")
	}
	if p.TopN < 1 {
		return dErrors.New(dErrors.CodeValidation, "top_n must be >= 1")
	}
	if p.WorkerLimit < 0 {
		return dErrors.New(dErrors.CodeValidation, "worker_limit must be >= 0")
	}
	return nil
}

// Account is one external account discovered by a connector.
type Account struct {
	ID          id.AccountID   `json:"id"`
	ConnectorID id.ConnectorID `json:"connector_id"`
	Attributes  map[string]any `json:"attributes"`
}

// Candidate is an internal identity record considered as a possible match.
type Candidate struct {
	ID         id.IdentityID  `json:"id"`
	Attributes map[string]any `json:"attributes"`
}

// ScoredCandidate pairs a candidate with its aggregate confidence score.
type ScoredCandidate struct {
	IdentityID id.IdentityID `json:"identity_id"`
	Score      float64       `json:"score"`
	Definitive bool          `json:"definitive,omitempty"`
}

// DecisionType classifies the terminal outcome of one account evaluation.
type DecisionType string

const (
	DecisionAutoConfirm    DecisionType = "auto_confirm"
	DecisionManualConfirm  DecisionType = "manual_confirm"
	DecisionReject         DecisionType = "reject"
	DecisionCreateIdentity DecisionType = "create_identity"
)

// Decision is the Decision Engine's classification for one account.
type Decision struct {
	Type       DecisionType
	IdentityID id.IdentityID // winning candidate; nil unless auto_confirm
	Score      *float64      // top candidate score; nil when no ranked candidate
	Reason     string        // populated for reject
	OpenCase   bool          // true when a manual-review case must be opened
}
