package schema_test

import (
	"testing"

	"github.com/compozy/orchestra/engine/schema"
	"github.com/stretchr/testify/assert"
)

func TestSchema_Validate(t *testing.T) {
	t.Run("Should accept an object schema with properties", func(t *testing.T) {
		s := schema.Schema{"type": "object", "properties": map[string]any{}}
		assert.NoError(t, s.Validate())
	})

	t.Run("Should reject a non-object schema", func(t *testing.T) {
		s := schema.Schema{"type": "string"}
		assert.Error(t, s.Validate())
	})

	t.Run("Should reject a schema missing properties", func(t *testing.T) {
		s := schema.Schema{"type": "object"}
		assert.Error(t, s.Validate())
	})

	t.Run("Should treat a nil schema as valid (no constraint)", func(t *testing.T) {
		var s schema.Schema
		assert.NoError(t, s.Validate())
	})
}

func TestValidateAgainst(t *testing.T) {
	s := schema.Schema{
		"type":       "object",
		"properties": map[string]any{"name": map[string]any{"type": "string"}},
		"required":   []string{"name"},
	}

	t.Run("Should accept input satisfying the schema", func(t *testing.T) {
		err := schema.ValidateAgainst(s, map[string]any{"name": "acme"})
		assert.NoError(t, err)
	})

	t.Run("Should reject input missing a required field", func(t *testing.T) {
		err := schema.ValidateAgainst(s, map[string]any{})
		assert.Error(t, err)
	})
}

func TestParamsValidator_Validate(t *testing.T) {
	s := schema.Schema{
		"type":       "object",
		"properties": map[string]any{"code": map[string]any{"type": "string"}},
		"required":   []string{"code"},
	}

	t.Run("Should pass valid params", func(t *testing.T) {
		v := schema.NewParamsValidator(map[string]any{"code": "abc"}, &s, "agent-1")
		assert.NoError(t, v.Validate(t.Context()))
	})

	t.Run("Should fail invalid params and name the validator", func(t *testing.T) {
		v := schema.NewParamsValidator(map[string]any{}, &s, "agent-1")
		err := v.Validate(t.Context())
		assert.Error(t, err)
	})

	t.Run("Should always pass when schema is nil", func(t *testing.T) {
		v := schema.NewParamsValidator[map[string]any](nil, nil, "agent-1")
		assert.NoError(t, v.Validate(t.Context()))
	})
}
