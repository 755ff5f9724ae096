package agent_test

import (
	"testing"

	"github.com/compozy/orchestra/engine/agent"
	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	t.Run("Should default to active with sane sampling parameters", func(t *testing.T) {
		a := agent.New("support-bot", "anthropic", "claude-sonnet")

		assert.True(t, a.Active)
		assert.False(t, a.ID.IsZero())
		assert.Equal(t, 1.0, a.Temperature)
		assert.Equal(t, 4096, a.MaxTokens)
	})
}

func TestAgent_Validate(t *testing.T) {
	t.Run("Should accept a well-formed agent", func(t *testing.T) {
		a := agent.New("support-bot", "anthropic", "claude-sonnet")
		assert.NoError(t, a.Validate())
	})

	t.Run("Should reject a missing name", func(t *testing.T) {
		a := agent.New("", "anthropic", "claude-sonnet")
		assert.Error(t, a.Validate())
	})

	t.Run("Should reject temperature outside 0..2", func(t *testing.T) {
		a := agent.New("bot", "anthropic", "claude-sonnet")
		a.Temperature = 3
		assert.Error(t, a.Validate())
	})

	t.Run("Should reject a non-positive max_tokens", func(t *testing.T) {
		a := agent.New("bot", "anthropic", "claude-sonnet")
		a.MaxTokens = 0
		assert.Error(t, a.Validate())
	})
}

func TestAgent_EnsureActive(t *testing.T) {
	t.Run("Should fail AgentInactive when deactivated", func(t *testing.T) {
		a := agent.New("bot", "anthropic", "claude-sonnet")
		a.Active = false

		err := a.EnsureActive()

		assert.Error(t, err)
	})
}
