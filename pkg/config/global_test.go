package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobalConfig(t *testing.T) {
	t.Run("Should panic when accessing uninitialized config", func(t *testing.T) {
		resetForTest()
		assert.Panics(t, func() { Get() })
	})

	t.Run("Should initialize global config successfully", func(t *testing.T) {
		resetForTest()
		err := Initialize(context.Background(), nil, NewDefaultProvider())
		require.NoError(t, err)
		cfg := Get()
		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	})

	t.Run("Should only initialize once", func(t *testing.T) {
		resetForTest()
		require.NoError(t, Initialize(context.Background(), nil, NewDefaultProvider()))
		cfg1 := Get()
		require.NoError(t, Initialize(context.Background(), nil, NewCLIProvider(map[string]any{"port": 9090})))
		cfg2 := Get()
		assert.Equal(t, cfg1.Server.Port, cfg2.Server.Port)
	})
}
