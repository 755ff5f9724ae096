package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_Load(t *testing.T) {
	t.Run("Should load defaults when given only the default provider", func(t *testing.T) {
		m := NewManager(nil)
		cfg, err := m.Load(context.Background(), NewDefaultProvider())
		require.NoError(t, err)
		assert.Equal(t, 8080, cfg.Server.Port)
	})

	t.Run("Should let a later provider override an earlier one", func(t *testing.T) {
		m := NewManager(nil)
		cfg, err := m.Load(
			context.Background(),
			NewDefaultProvider(),
			NewCLIProvider(map[string]any{"port": 9090}),
		)
		require.NoError(t, err)
		assert.Equal(t, 9090, cfg.Server.Port)
	})

	t.Run("Should panic on Get before Load", func(t *testing.T) {
		m := NewManager(nil)
		assert.Panics(t, func() { m.Get() })
	})
}

func TestManager_OnChange(t *testing.T) {
	t.Run("Should invoke listeners after Reload", func(t *testing.T) {
		m := NewManager(nil)
		_, err := m.Load(context.Background(), NewDefaultProvider())
		require.NoError(t, err)
		var got *Config
		m.OnChange(func(c *Config) { got = c })
		require.NoError(t, m.Reload(context.Background()))
		assert.NotNil(t, got)
	})
}
