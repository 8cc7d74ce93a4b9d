// Package score aggregates per-rule match outcomes into a ranked confidence
// score per candidate. Scoring is pure CPU over an immutable rule snapshot:
// no I/O, no shared state, safe to run from many workers at once.
package score

import (
	"context"
	"log/slog"
	"sort"

	"correlate/internal/correlation/match"
	"correlate/internal/correlation/models"
)

// DefaultTopN caps the ranked output kept for audit snapshots.
const DefaultTopN = 5

// Result is the scored, ranked candidate pool for one account.
type Result struct {
	// Ranked is sorted by score descending, candidate ID ascending, and
	// capped to top-N.
	Ranked []models.ScoredCandidate
	// Considered is the full pool size before the top-N cap. Audit events
	// record this, not the truncated length.
	Considered int
	// Definitive is true when a definitive rule matched exactly one
	// candidate and short-circuited the remaining tiers.
	Definitive bool
}

// Scorer evaluates rule snapshots against candidate pools.
type Scorer struct {
	logger *slog.Logger
}

type Option func(s *Scorer)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scorer) {
		s.logger = logger
	}
}

// New constructs a Scorer.
func New(opts ...Option) *Scorer {
	s := &Scorer{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type accumulator struct {
	candidate   models.Candidate
	weightedSum float64
	weightSum   float64
}

// Score runs every rule in the snapshot against every candidate and returns
// the ranked result. Rules must already be in evaluation order (tier
// ascending, priority descending, name ascending); the snapshot builder
// guarantees that.
//
// A definitive rule that fully matches exactly one candidate ends scoring
// immediately: that candidate wins with score 1.0 and later tiers cannot
// change the outcome. A definitive rule matching several candidates is
// ambiguous and falls through to weighted scoring.
func (s *Scorer) Score(ctx context.Context, rules []*match.CompiledRule, account *models.Account, candidates []models.Candidate, topN int) Result {
	if topN <= 0 {
		topN = DefaultTopN
	}
	result := Result{Considered: len(candidates)}
	if len(candidates) == 0 {
		result.Ranked = []models.ScoredCandidate{}
		return result
	}

	accs := make([]*accumulator, len(candidates))
	for i, c := range candidates {
		accs[i] = &accumulator{candidate: c}
	}

	for _, rule := range rules {
		var fullMatches []*accumulator
		for _, acc := range accs {
			outcome := rule.Eval(ctx, account.Attributes, acc.candidate.Attributes, s.logger)
			if !outcome.Evaluated {
				continue
			}
			acc.weightedSum += outcome.Score * rule.Rule.Weight
			acc.weightSum += rule.Rule.Weight
			if rule.Rule.IsDefinitive && outcome.Score == 1.0 {
				fullMatches = append(fullMatches, acc)
			}
		}

		if rule.Rule.IsDefinitive {
			switch len(fullMatches) {
			case 1:
				winner := fullMatches[0]
				s.logger.InfoContext(ctx, "definitive rule matched",
					"rule", rule.Rule.Name,
					"account_id", account.ID,
					"identity_id", winner.candidate.ID,
				)
				result.Definitive = true
				result.Ranked = []models.ScoredCandidate{{
					IdentityID: winner.candidate.ID,
					Score:      1.0,
					Definitive: true,
				}}
				return result
			default:
				if len(fullMatches) > 1 {
					s.logger.WarnContext(ctx, "definitive rule matched multiple candidates, falling back to weighted scoring",
						"rule", rule.Rule.Name,
						"account_id", account.ID,
						"matches", len(fullMatches),
					)
				}
			}
		}
	}

	ranked := make([]models.ScoredCandidate, 0, len(accs))
	for _, acc := range accs {
		score := 0.0
		if acc.weightSum > 0 {
			score = acc.weightedSum / acc.weightSum
		}
		ranked = append(ranked, models.ScoredCandidate{
			IdentityID: acc.candidate.ID,
			Score:      score,
		})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].IdentityID.String() < ranked[j].IdentityID.String()
	})
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	result.Ranked = ranked
	return result
}
