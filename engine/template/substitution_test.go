package template_test

import (
	"testing"

	"github.com/compozy/orchestra/engine/template"
	"github.com/stretchr/testify/assert"
)

func TestExpand(t *testing.T) {
	ctx := map[string]any{
		"trigger": map[string]any{"n": float64(42), "name": "acme"},
		"s1":      map[string]any{"text": "hello"},
		"items":   []any{map[string]any{"id": float64(7)}},
	}

	t.Run("Should preserve raw type when the string is exactly one token", func(t *testing.T) {
		out := template.Expand(map[string]any{"x": "${trigger.n}"}, ctx)

		m := out.(map[string]any)
		assert.Equal(t, float64(42), m["x"])
	})

	t.Run("Should splice a stringified value when other text surrounds the token", func(t *testing.T) {
		out := template.Expand(map[string]any{"x": "v=${trigger.n}"}, ctx)

		m := out.(map[string]any)
		assert.Equal(t, "v=42", m["x"])
	})

	t.Run("Should resolve nested step output paths", func(t *testing.T) {
		out := template.Expand("${s1.text}", ctx)

		assert.Equal(t, "hello", out)
	})

	t.Run("Should resolve array index segments", func(t *testing.T) {
		out := template.Expand("${items[0].id}", ctx)

		assert.Equal(t, float64(7), out)
	})

	t.Run("Should yield empty string for a missing path in text splicing mode", func(t *testing.T) {
		out := template.Expand("got: ${trigger.missing}", ctx)

		assert.Equal(t, "got: ", out)
	})

	t.Run("Should yield nil for a missing path in raw mode", func(t *testing.T) {
		out := template.Expand("${trigger.missing}", ctx)

		assert.Nil(t, out)
	})

	t.Run("Should recurse into nested objects and arrays", func(t *testing.T) {
		input := map[string]any{
			"nested": map[string]any{"a": []any{"${trigger.name}"}},
		}

		out := template.Expand(input, ctx)

		m := out.(map[string]any)
		nested := m["nested"].(map[string]any)
		arr := nested["a"].([]any)
		assert.Equal(t, "acme", arr[0])
	})
}

func TestHasTemplate(t *testing.T) {
	t.Run("Should detect a template token", func(t *testing.T) {
		assert.True(t, template.HasTemplate("hello ${trigger.n}"))
	})

	t.Run("Should report false for plain text", func(t *testing.T) {
		assert.False(t, template.HasTemplate("hello world"))
	})
}
