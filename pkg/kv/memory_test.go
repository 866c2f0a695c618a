package kv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	m := NewMemory()

	_, ok, err := m.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set("a", "1"))
	require.NoError(t, m.Set("a", "2"))
	v, ok, err := m.Get("a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2", v)
	assert.Equal(t, 1, m.Len())

	require.NoError(t, m.Remove("a"))
	require.NoError(t, m.Remove("a"), "removing an absent key is not an error")
	_, ok, _ = m.Get("a")
	assert.False(t, ok)

	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.Set("b", "x"), ErrClosed)
	_, _, err = m.Get("b")
	assert.ErrorIs(t, err, ErrClosed)
}
