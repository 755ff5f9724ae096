package condition_test

import (
	"testing"

	"github.com/compozy/orchestra/engine/condition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEvaluator(t *testing.T) *condition.Evaluator {
	t.Helper()
	e, err := condition.NewCELEvaluator()
	require.NoError(t, err)
	return e
}

func TestEvaluator_Evaluate(t *testing.T) {
	e := newEvaluator(t)
	ctx := t.Context()

	t.Run("Should evaluate a simple numeric comparison", func(t *testing.T) {
		ok, err := e.Evaluate(ctx, "42 == 42", nil)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("Should evaluate boolean comparisons", func(t *testing.T) {
		ok, err := e.Evaluate(ctx, "true == false", nil)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Should combine comparisons with && and ||", func(t *testing.T) {
		ok, err := e.Evaluate(ctx, "(1 < 2) && (3 >= 3) || false", nil)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("Should treat an empty expression as true", func(t *testing.T) {
		ok, err := e.Evaluate(ctx, "", nil)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("Should fail unparseable expressions with InvalidCondition", func(t *testing.T) {
		_, err := e.Evaluate(ctx, "this is not valid ==", nil)
		require.Error(t, err)
	})

	t.Run("Should reject expressions that do not evaluate to a boolean", func(t *testing.T) {
		_, err := e.Evaluate(ctx, "1 + 1", nil)
		require.Error(t, err)
	})
}

func TestEvaluator_EvaluateTemplated(t *testing.T) {
	e := newEvaluator(t)
	ctx := t.Context()
	data := map[string]any{"s1": map[string]any{"ok": true}}

	t.Run("Should expand template references before evaluating", func(t *testing.T) {
		ok, err := e.EvaluateTemplated(ctx, "${s1.ok} == false", data)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Should quote a resolved string value so it remains a valid CEL literal", func(t *testing.T) {
		withStatus := map[string]any{"s1": map[string]any{"status": "active"}}
		ok, err := e.EvaluateTemplated(ctx, `${s1.status} == "active"`, withStatus)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = e.EvaluateTemplated(ctx, `${s1.status} == "done"`, withStatus)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
