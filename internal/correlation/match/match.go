// Package match implements the comparison strategies behind correlation
// rules: exact equality, fuzzy string similarity, and sandboxed boolean
// expressions over the source and target attribute maps.
//
// A rule is compiled once when the per-batch rule snapshot is built; the
// compiled form carries its matcher so scoring never dispatches on match_type
// per comparison.
package match

import (
	"context"
	"log/slog"

	"correlate/internal/correlation/models"
	"correlate/internal/correlation/normalize"
	dErrors "correlate/pkg/domain-errors"
)

// Outcome is the result of running one rule against one candidate.
type Outcome struct {
	// Score is the raw rule score in [0,1], before weighting.
	Score float64
	// Evaluated is false when the rule could not run (missing attribute,
	// expression runtime failure). Unevaluated rules are excluded from the
	// weight normalization so they don't silently deflate the aggregate.
	Evaluated bool
}

// CompiledRule is a rule bound to its matcher, built once per snapshot.
type CompiledRule struct {
	Rule models.CorrelationRule

	similarity similarityFunc // fuzzy only
	program    *compiledExpr  // expression only
}

// Compile selects and binds the matcher for a rule. Rules are validated at
// save time, so a compile failure here means the store holds a rule that
// predates a validation rule; it is surfaced, not silently skipped.
func Compile(rule models.CorrelationRule, env *ExprEnv) (*CompiledRule, error) {
	c := &CompiledRule{Rule: rule}

	switch rule.MatchType {
	case models.MatchExact:
		// No state needed; Eval handles it inline.
	case models.MatchFuzzy:
		fn, err := similarityFor(rule.Algorithm)
		if err != nil {
			return nil, err
		}
		c.similarity = fn
	case models.MatchExpression:
		prog, err := env.compile(rule.Expression)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, "expression does not compile")
		}
		c.program = prog
	default:
		return nil, dErrors.Newf(dErrors.CodeValidation, "invalid match_type %q", rule.MatchType)
	}

	return c, nil
}

// Eval runs the rule against one (account, candidate) attribute pair.
// Evaluation errors never propagate: they degrade to a logged non-match so a
// single bad rule or sparse record cannot abort a scoring pass.
func (c *CompiledRule) Eval(ctx context.Context, source, target map[string]any, logger *slog.Logger) Outcome {
	switch c.Rule.MatchType {
	case models.MatchExpression:
		return c.evalExpression(ctx, source, target, logger)
	default:
		return c.evalAttributes(ctx, source, target, logger)
	}
}

func (c *CompiledRule) evalAttributes(ctx context.Context, source, target map[string]any, logger *slog.Logger) Outcome {
	srcRaw, ok := normalize.Attribute(source, c.Rule.SourceAttribute)
	if !ok {
		c.logSkip(ctx, logger, "source attribute missing", c.Rule.SourceAttribute)
		return Outcome{}
	}
	tgtRaw, ok := normalize.Attribute(target, c.Rule.TargetAttribute)
	if !ok {
		c.logSkip(ctx, logger, "target attribute missing", c.Rule.TargetAttribute)
		return Outcome{}
	}

	src := normalize.Apply(srcRaw, c.Rule.Normalize)
	tgt := normalize.Apply(tgtRaw, c.Rule.Normalize)

	switch c.Rule.MatchType {
	case models.MatchExact:
		if src == tgt {
			return Outcome{Score: 1.0, Evaluated: true}
		}
		return Outcome{Score: 0.0, Evaluated: true}
	case models.MatchFuzzy:
		sim := c.similarity(src, tgt)
		// Sub-threshold similarity never contributes.
		if sim < c.Rule.Threshold {
			return Outcome{Score: 0.0, Evaluated: true}
		}
		return Outcome{Score: sim, Evaluated: true}
	}
	return Outcome{}
}

func (c *CompiledRule) evalExpression(ctx context.Context, source, target map[string]any, logger *slog.Logger) Outcome {
	matched, err := c.program.eval(source, target)
	if err != nil {
		if logger != nil {
			logger.WarnContext(ctx, "expression evaluation failed",
				"rule_id", c.Rule.ID,
				"rule_name", c.Rule.Name,
				"error", err,
			)
		}
		return Outcome{}
	}
	if matched {
		return Outcome{Score: 1.0, Evaluated: true}
	}
	return Outcome{Score: 0.0, Evaluated: true}
}

func (c *CompiledRule) logSkip(ctx context.Context, logger *slog.Logger, reason, attribute string) {
	if logger == nil {
		return
	}
	logger.DebugContext(ctx, "rule skipped",
		"rule_id", c.Rule.ID,
		"rule_name", c.Rule.Name,
		"reason", reason,
		"attribute", attribute,
	)
}
