package match

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"correlate/internal/correlation/models"
	id "correlate/pkg/domain"
	dErrors "correlate/pkg/domain-errors"
)

func exprEnv(t *testing.T) *ExprEnv {
	t.Helper()
	env, err := NewExprEnv()
	require.NoError(t, err)
	return env
}

func baseRule(matchType models.MatchType) models.CorrelationRule {
	return models.CorrelationRule{
		ID:              id.NewRuleID(),
		ConnectorID:     id.NewConnectorID(),
		Name:            "test-rule",
		SourceAttribute: "email",
		TargetAttribute: "email",
		MatchType:       matchType,
		Weight:          1,
		Tier:            1,
		IsActive:        true,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
}

func TestExactMatcher(t *testing.T) {
	ctx := context.Background()

	t.Run("identical values score 1.0", func(t *testing.T) {
		rule := baseRule(models.MatchExact)
		compiled, err := Compile(rule, nil)
		require.NoError(t, err)

		out := compiled.Eval(ctx, map[string]any{"email": "a@x.com"}, map[string]any{"email": "a@x.com"}, nil)
		assert.True(t, out.Evaluated)
		assert.Equal(t, 1.0, out.Score)
	})

	t.Run("self-match after normalization for any string", func(t *testing.T) {
		rule := baseRule(models.MatchExact)
		rule.Normalize = true
		compiled, err := Compile(rule, nil)
		require.NoError(t, err)

		for _, v := range []string{"a@x.com", "  A@X.COM ", "straße", "ＡBC"} {
			out := compiled.Eval(ctx, map[string]any{"email": v}, map[string]any{"email": v}, nil)
			assert.Equal(t, 1.0, out.Score, "value %q should self-match", v)
		}
	})

	t.Run("normalization bridges case and whitespace differences", func(t *testing.T) {
		rule := baseRule(models.MatchExact)
		rule.Normalize = true
		compiled, err := Compile(rule, nil)
		require.NoError(t, err)

		out := compiled.Eval(ctx, map[string]any{"email": " A@X.COM "}, map[string]any{"email": "a@x.com"}, nil)
		assert.Equal(t, 1.0, out.Score)
	})

	t.Run("different values score 0 but count as evaluated", func(t *testing.T) {
		rule := baseRule(models.MatchExact)
		compiled, err := Compile(rule, nil)
		require.NoError(t, err)

		out := compiled.Eval(ctx, map[string]any{"email": "a@x.com"}, map[string]any{"email": "b@x.com"}, nil)
		assert.True(t, out.Evaluated)
		assert.Equal(t, 0.0, out.Score)
	})

	t.Run("missing attribute means the rule did not run", func(t *testing.T) {
		rule := baseRule(models.MatchExact)
		compiled, err := Compile(rule, nil)
		require.NoError(t, err)

		out := compiled.Eval(ctx, map[string]any{}, map[string]any{"email": "a@x.com"}, nil)
		assert.False(t, out.Evaluated)
		assert.Equal(t, 0.0, out.Score)
	})

	t.Run("non-string attributes compare via stable stringification", func(t *testing.T) {
		rule := baseRule(models.MatchExact)
		rule.SourceAttribute = "employee_number"
		rule.TargetAttribute = "employee_number"
		compiled, err := Compile(rule, nil)
		require.NoError(t, err)

		// JSON feeds decode numbers as float64; directory records may carry ints.
		out := compiled.Eval(ctx, map[string]any{"employee_number": 1042.0}, map[string]any{"employee_number": 1042}, nil)
		assert.Equal(t, 1.0, out.Score)
	})
}

func TestFuzzyMatcher(t *testing.T) {
	ctx := context.Background()

	t.Run("jaro_winkler above threshold contributes similarity", func(t *testing.T) {
		rule := baseRule(models.MatchFuzzy)
		rule.SourceAttribute = "display_name"
		rule.TargetAttribute = "full_name"
		rule.Algorithm = models.AlgorithmJaroWinkler
		rule.Threshold = 0.8
		compiled, err := Compile(rule, nil)
		require.NoError(t, err)

		out := compiled.Eval(ctx,
			map[string]any{"display_name": "Jon Smith"},
			map[string]any{"full_name": "John Smith"}, nil)
		assert.True(t, out.Evaluated)
		assert.GreaterOrEqual(t, out.Score, 0.8)
		assert.InDelta(t, 0.93, out.Score, 0.05)
	})

	t.Run("jaro_winkler below threshold contributes zero", func(t *testing.T) {
		rule := baseRule(models.MatchFuzzy)
		rule.SourceAttribute = "display_name"
		rule.TargetAttribute = "full_name"
		rule.Algorithm = models.AlgorithmJaroWinkler
		rule.Threshold = 0.8
		compiled, err := Compile(rule, nil)
		require.NoError(t, err)

		out := compiled.Eval(ctx,
			map[string]any{"display_name": "Jon Smith"},
			map[string]any{"full_name": "Alice Jones"}, nil)
		assert.True(t, out.Evaluated)
		assert.Equal(t, 0.0, out.Score)
	})

	t.Run("levenshtein similarity is edit-distance based", func(t *testing.T) {
		rule := baseRule(models.MatchFuzzy)
		rule.Algorithm = models.AlgorithmLevenshtein
		rule.Threshold = 0.5
		compiled, err := Compile(rule, nil)
		require.NoError(t, err)

		// "kitten" -> "sitten" is 1 edit over 6 runes: similarity 5/6.
		out := compiled.Eval(ctx, map[string]any{"email": "kitten"}, map[string]any{"email": "sitten"}, nil)
		assert.InDelta(t, 5.0/6.0, out.Score, 1e-9)
	})

	t.Run("identical strings score exactly 1.0", func(t *testing.T) {
		for _, alg := range []models.Algorithm{models.AlgorithmJaroWinkler, models.AlgorithmLevenshtein} {
			rule := baseRule(models.MatchFuzzy)
			rule.Algorithm = alg
			rule.Threshold = 0.9
			compiled, err := Compile(rule, nil)
			require.NoError(t, err)

			out := compiled.Eval(ctx, map[string]any{"email": "same"}, map[string]any{"email": "same"}, nil)
			assert.Equal(t, 1.0, out.Score, "algorithm %s", alg)
		}
	})

	t.Run("unknown algorithm fails at compile time", func(t *testing.T) {
		rule := baseRule(models.MatchFuzzy)
		rule.Algorithm = "soundex"
		_, err := Compile(rule, nil)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func TestExpressionMatcher(t *testing.T) {
	ctx := context.Background()
	env := exprEnv(t)

	compile := func(t *testing.T, expression string) *CompiledRule {
		t.Helper()
		rule := baseRule(models.MatchExpression)
		rule.SourceAttribute = ""
		rule.TargetAttribute = ""
		rule.Expression = expression
		compiled, err := Compile(rule, env)
		require.NoError(t, err)
		return compiled
	}

	t.Run("equality over source and target", func(t *testing.T) {
		compiled := compile(t, `source.email == target.email`)

		out := compiled.Eval(ctx, map[string]any{"email": "a@x.com"}, map[string]any{"email": "a@x.com"}, nil)
		assert.Equal(t, 1.0, out.Score)

		out = compiled.Eval(ctx, map[string]any{"email": "a@x.com"}, map[string]any{"email": "b@x.com"}, nil)
		assert.True(t, out.Evaluated)
		assert.Equal(t, 0.0, out.Score)
	})

	t.Run("membership and string predicates", func(t *testing.T) {
		compiled := compile(t, `source.dept in ["engineering", "platform"] && target.email.startsWith("eng-")`)

		out := compiled.Eval(ctx,
			map[string]any{"dept": "platform"},
			map[string]any{"email": "eng-jdoe@x.com"}, nil)
		assert.Equal(t, 1.0, out.Score)
	})

	t.Run("contains with logical not", func(t *testing.T) {
		compiled := compile(t, `!(source.status.contains("disabled")) || target.vip == true`)

		out := compiled.Eval(ctx,
			map[string]any{"status": "active"},
			map[string]any{"vip": false}, nil)
		assert.Equal(t, 1.0, out.Score)
	})

	t.Run("runtime error degrades to a non-match, not a crash", func(t *testing.T) {
		compiled := compile(t, `source.missing_key == "x"`)

		out := compiled.Eval(ctx, map[string]any{}, map[string]any{}, nil)
		assert.False(t, out.Evaluated)
		assert.Equal(t, 0.0, out.Score)
	})
}

func TestValidateExpression(t *testing.T) {
	env := exprEnv(t)

	t.Run("accepts the supported operator set", func(t *testing.T) {
		valid := []string{
			`source.email == target.email`,
			`source.dept in ["a", "b"]`,
			`source.name.startsWith("J") && target.active == true`,
			`source.email.contains("@corp.com") || !(source.type == "service")`,
			`source["employee id"] == target.employee_id`,
		}
		for _, expression := range valid {
			assert.NoError(t, env.Validate(expression), "expression %q", expression)
		}
	})

	t.Run("rejects syntax errors", func(t *testing.T) {
		err := env.Validate(`source.email ==`)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("rejects identifiers beyond source and target", func(t *testing.T) {
		err := env.Validate(`request.user == "admin"`)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("rejects functions outside the operator set", func(t *testing.T) {
		for _, expression := range []string{
			`source.name.matches("^J.*")`,
			`size(source.name) == 3`,
			`source.a + target.b == "ab"`,
		} {
			err := env.Validate(expression)
			require.Error(t, err, "expression %q", expression)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		}
	})

	t.Run("rejects comprehension macros", func(t *testing.T) {
		err := env.Validate(`["a", "b"].exists(x, x == source.dept)`)
		require.Error(t, err)
	})

	t.Run("rejects empty expression", func(t *testing.T) {
		err := env.Validate("")
		require.Error(t, err)
	})
}

func TestDryRun(t *testing.T) {
	env := exprEnv(t)

	result, err := env.DryRun(`source.email == target.email`,
		map[string]any{"email": "a@x.com"},
		map[string]any{"email": "a@x.com"})
	require.NoError(t, err)
	assert.True(t, result)

	result, err = env.DryRun(`source.email == target.email`,
		map[string]any{"email": "a@x.com"},
		map[string]any{"email": "b@x.com"})
	require.NoError(t, err)
	assert.False(t, result)

	_, err = env.DryRun(`bogus(`, nil, nil)
	require.Error(t, err)
}
