package core_test

import (
	"testing"

	"github.com/compozy/orchestra/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID(t *testing.T) {
	t.Run("Should generate unique non-zero ids", func(t *testing.T) {
		a := core.NewID()
		b := core.NewID()

		assert.False(t, a.IsZero())
		assert.NotEqual(t, a, b)
	})
}

func TestParseID(t *testing.T) {
	t.Run("Should round-trip a valid id", func(t *testing.T) {
		original := core.NewID()

		parsed, err := core.ParseID(original.String())

		require.NoError(t, err)
		assert.Equal(t, original, parsed)
	})

	t.Run("Should reject an empty id", func(t *testing.T) {
		_, err := core.ParseID("")

		assert.Error(t, err)
	})

	t.Run("Should reject a malformed id", func(t *testing.T) {
		_, err := core.ParseID("not-a-ksuid")

		assert.Error(t, err)
	})
}

func TestID_Scan(t *testing.T) {
	t.Run("Should scan a string value", func(t *testing.T) {
		var id core.ID
		require.NoError(t, id.Scan("abc"))
		assert.Equal(t, core.ID("abc"), id)
	})

	t.Run("Should scan a nil value as zero", func(t *testing.T) {
		var id core.ID = "preexisting"
		require.NoError(t, id.Scan(nil))
		assert.True(t, id.IsZero())
	})

	t.Run("Should reject unsupported types", func(t *testing.T) {
		var id core.ID
		assert.Error(t, id.Scan(42))
	})
}
