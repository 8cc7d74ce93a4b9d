// Package normalize conditions attribute values before comparison. Connector
// feeds disagree on case, spacing, and Unicode forms; normalization makes
// exact and fuzzy comparisons well-defined across them.
package normalize

import (
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	platformstrings "correlate/pkg/platform/strings"
)

var folder = cases.Fold()

// Apply normalizes s when enabled: NFKC Unicode normalization, whitespace
// trim, then case fold. When disabled the value passes through unchanged.
// Idempotent: Apply(Apply(s)) == Apply(s).
func Apply(s string, enabled bool) string {
	if !enabled {
		return s
	}
	s = norm.NFKC.String(s)
	s = strings.TrimSpace(s)
	return folder.String(s)
}

// Value stringifies an attribute value with a stable format so non-string
// connector attributes compare deterministically:
//   - strings pass through
//   - integers and floats render without trailing zeros (1.50 -> "1.5")
//   - booleans render as "true"/"false"
//   - lists render as their deduplicated elements joined by a space, so
//     multi-valued connector attributes compare by set content
//   - nil renders as the empty string
func Value(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case float64:
		// JSON decoding hands us float64 for all numbers; -1 precision drops
		// trailing zeros so 42.0 and 42 stringify identically.
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []string:
		return strings.Join(platformstrings.DedupeAndTrim(t), " ")
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, Value(item))
		}
		return strings.Join(platformstrings.DedupeAndTrim(parts), " ")
	default:
		return ""
	}
}

// Attribute looks up and stringifies an attribute from a map, reporting
// whether it was present. Missing attributes are distinct from empty ones:
// a missing attribute means the rule cannot run.
func Attribute(attrs map[string]any, name string) (string, bool) {
	v, ok := attrs[name]
	if !ok || v == nil {
		return "", false
	}
	return Value(v), true
}
