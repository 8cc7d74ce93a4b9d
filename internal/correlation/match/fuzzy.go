package match

import (
	"github.com/agnivade/levenshtein"
	"github.com/xrash/smetrics"

	"correlate/internal/correlation/models"
	dErrors "correlate/pkg/domain-errors"
)

// similarityFunc computes string similarity in [0,1].
type similarityFunc func(a, b string) float64

// similarityFor resolves an algorithm name to its implementation. Unknown
// names are a configuration error caught at rule-save time; hitting one here
// means a rule bypassed validation.
func similarityFor(algorithm models.Algorithm) (similarityFunc, error) {
	switch algorithm {
	case models.AlgorithmJaroWinkler:
		return jaroWinkler, nil
	case models.AlgorithmLevenshtein:
		return levenshteinSimilarity, nil
	default:
		return nil, dErrors.Newf(dErrors.CodeValidation, "unknown algorithm %q", algorithm)
	}
}

// jaroWinkler uses the standard boost threshold 0.7 and prefix length 4.
func jaroWinkler(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}
	return smetrics.JaroWinkler(a, b, 0.7, 4)
}

// levenshteinSimilarity converts edit distance to a [0,1] similarity:
// 1 - distance/max(len). Lengths are counted in runes, matching the
// distance's unit.
func levenshteinSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	aLen := len([]rune(a))
	bLen := len([]rune(b))
	longest := aLen
	if bLen > longest {
		longest = bLen
	}
	if longest == 0 {
		return 1.0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(longest)
}
