// Package decide classifies a scored candidate pool into a terminal outcome:
// auto_confirm, manual_confirm (open a case), reject, or create_identity.
// One pass, no I/O, no retries; transient-failure handling belongs to the
// orchestrator.
package decide

import (
	"context"
	"log/slog"

	"correlate/internal/correlation/models"
	"correlate/internal/correlation/score"
)

// ReasonNoConfidentCandidate is the reject reason when nothing clears the
// manual-review floor.
const ReasonNoConfidentCandidate = "no candidate met minimum confidence"

// Engine applies connector policy to scoring results.
type Engine struct {
	logger *slog.Logger
}

type Option func(e *Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New constructs an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide maps one scoring result to a terminal decision.
//
// The margin guard compares the top two scores: even a top candidate above
// the auto-confirm threshold goes to manual review when the runner-up is
// within min_margin, because a near-tie means the rules cannot tell the two
// identities apart.
func (e *Engine) Decide(ctx context.Context, policy models.ConnectorPolicy, result score.Result) models.Decision {
	if len(result.Ranked) == 0 {
		if policy.AutoProvision {
			return models.Decision{Type: models.DecisionCreateIdentity}
		}
		// Provisioning is disabled; a human gets the account instead.
		return models.Decision{Type: models.DecisionManualConfirm, OpenCase: true}
	}

	top := result.Ranked[0]
	topScore := top.Score

	if top.Definitive {
		e.logger.InfoContext(ctx, "definitive match auto-confirmed",
			"identity_id", top.IdentityID,
		)
		return models.Decision{
			Type:       models.DecisionAutoConfirm,
			IdentityID: top.IdentityID,
			Score:      &topScore,
		}
	}

	if topScore >= policy.AutoConfirmThreshold {
		margin := topScore
		if len(result.Ranked) > 1 {
			margin = topScore - result.Ranked[1].Score
		}
		if margin >= policy.MinMargin {
			return models.Decision{
				Type:       models.DecisionAutoConfirm,
				IdentityID: top.IdentityID,
				Score:      &topScore,
			}
		}
		e.logger.InfoContext(ctx, "margin too small for auto-confirm",
			"top_score", topScore,
			"margin", margin,
			"min_margin", policy.MinMargin,
		)
		return models.Decision{
			Type:     models.DecisionManualConfirm,
			Score:    &topScore,
			OpenCase: true,
		}
	}

	if topScore >= policy.ManualReviewThreshold {
		return models.Decision{
			Type:     models.DecisionManualConfirm,
			Score:    &topScore,
			OpenCase: true,
		}
	}

	return models.Decision{
		Type:   models.DecisionReject,
		Score:  &topScore,
		Reason: ReasonNoConfidentCandidate,
	}
}
