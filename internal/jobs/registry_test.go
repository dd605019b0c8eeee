package jobs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(context.Context, map[string]any) (map[string]any, error) {
	return nil, nil
}

func TestRegistry_Register(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register("embed_document", noop))
	require.NoError(t, registry.Register("process_outreach", noop))

	t.Run("duplicate type", func(t *testing.T) {
		err := registry.Register("embed_document", noop)
		assert.Error(t, err)
	})

	t.Run("empty type", func(t *testing.T) {
		err := registry.Register("", noop)
		assert.ErrorIs(t, err, ErrEmptyJobType)
	})

	t.Run("nil handler", func(t *testing.T) {
		err := registry.Register("research_lead", nil)
		assert.Error(t, err)
	})

	assert.Equal(t, []string{"embed_document", "process_outreach"}, registry.Types())
}

func TestRegistry_Lookup(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register("embed_document", noop))

	h, ok := registry.Lookup("embed_document")
	assert.True(t, ok)
	assert.NotNil(t, h)

	_, ok = registry.Lookup("missing")
	assert.False(t, ok)
}
