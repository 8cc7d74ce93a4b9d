package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApply(t *testing.T) {
	t.Run("trims and casefolds", func(t *testing.T) {
		assert.Equal(t, "jane.doe@example.com", Apply("  Jane.Doe@Example.COM ", true))
	})

	t.Run("NFKC collapses compatibility forms", func(t *testing.T) {
		// U+FF21 FULLWIDTH LATIN CAPITAL LETTER A normalizes to "A", then folds.
		assert.Equal(t, "a", Apply("Ａ", true))
	})

	t.Run("disabled passes through unchanged", func(t *testing.T) {
		assert.Equal(t, "  Jane Doe ", Apply("  Jane Doe ", false))
	})

	t.Run("idempotent", func(t *testing.T) {
		inputs := []string{"  MiXeD Case  ", "straße", "ＡBC", "", "already normal"}
		for _, in := range inputs {
			once := Apply(in, true)
			assert.Equal(t, once, Apply(once, true), "normalize(normalize(%q)) != normalize(%q)", in, in)
		}
	})
}

func TestValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"string passes through", "hello", "hello"},
		{"bool true", true, "true"},
		{"bool false", false, "false"},
		{"int", 42, "42"},
		{"int64", int64(9007199254740993), "9007199254740993"},
		{"float drops trailing zeros", 1.50, "1.5"},
		{"whole float matches int rendering", 42.0, "42"},
		{"nil is empty", nil, ""},
		{"string list dedupes and joins", []string{" eng ", "sales", "eng"}, "eng sales"},
		{"mixed list stringifies elements", []any{"a", 2, "a"}, "a 2"},
		{"unsupported type is empty", struct{}{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Value(tt.in))
		})
	}
}

func TestAttribute(t *testing.T) {
	attrs := map[string]any{
		"email": "A@X.COM",
		"age":   30.0,
		"blank": nil,
	}

	v, ok := Attribute(attrs, "email")
	assert.True(t, ok)
	assert.Equal(t, "A@X.COM", v)

	v, ok = Attribute(attrs, "age")
	assert.True(t, ok)
	assert.Equal(t, "30", v)

	_, ok = Attribute(attrs, "missing")
	assert.False(t, ok)

	// nil-valued attributes count as missing; the rule cannot run on them.
	_, ok = Attribute(attrs, "blank")
	assert.False(t, ok)
}
