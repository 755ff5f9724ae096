package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Default(t *testing.T) {
	t.Run("Should return valid default configuration", func(t *testing.T) {
		cfg := Default()
		require.NotNil(t, cfg)
		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, "localhost", cfg.Database.Host)
		assert.Equal(t, "orchestra", cfg.Database.DBName)
		assert.Equal(t, 5, cfg.Limits.MaxAgentIterations)
	})

	t.Run("Should pass validation", func(t *testing.T) {
		assert.NoError(t, Default().Validate())
	})
}

func TestConfig_Validation(t *testing.T) {
	t.Run("Should reject an out-of-range port", func(t *testing.T) {
		cfg := Default()
		cfg.Server.Port = 70000
		assert.Error(t, cfg.Validate())
	})

	t.Run("Should reject a missing redis address", func(t *testing.T) {
		cfg := Default()
		cfg.Redis.Addr = ""
		assert.Error(t, cfg.Validate())
	})
}
