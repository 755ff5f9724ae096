package core_test

import (
	"errors"
	"testing"

	"github.com/compozy/orchestra/engine/core"
	"github.com/stretchr/testify/assert"
)

func TestError_AsMap(t *testing.T) {
	t.Run("Should include code, message, and details", func(t *testing.T) {
		err := core.NewError(errors.New("boom"), core.CodeToolExecutionFailed, map[string]any{"tool": "x"})

		m := err.AsMap()

		assert.Equal(t, "TOOL_EXECUTION_FAILED", m["code"])
		assert.Equal(t, "boom", m["message"])
		assert.Equal(t, map[string]any{"tool": "x"}, m["details"])
	})

	t.Run("Should omit details when empty", func(t *testing.T) {
		err := core.NewErrorf(core.CodeNotFound, "agent %s not found", "a1")

		m := err.AsMap()

		_, ok := m["details"]
		assert.False(t, ok)
	})

	t.Run("Should return nil for a nil error", func(t *testing.T) {
		var err *core.Error
		assert.Nil(t, err.AsMap())
	})
}

func TestError_Unwrap(t *testing.T) {
	t.Run("Should expose the wrapped cause to errors.Is", func(t *testing.T) {
		cause := errors.New("network down")
		err := core.NewError(cause, core.CodeTransient, nil)

		assert.True(t, errors.Is(err, cause))
	})
}

func TestError_IsRetryable(t *testing.T) {
	t.Run("Should mark transient and timeout errors retryable", func(t *testing.T) {
		assert.True(t, core.NewErrorf(core.CodeTransient, "x").IsRetryable())
		assert.True(t, core.NewErrorf(core.CodeStepTimeout, "x").IsRetryable())
	})

	t.Run("Should not mark validation errors retryable", func(t *testing.T) {
		assert.False(t, core.NewErrorf(core.CodeValidation, "x").IsRetryable())
	})
}
