package stopsignal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarker_Lifecycle(t *testing.T) {
	m := New(t.TempDir(), JobMarkerName)
	assert.False(t, m.Requested())

	require.NoError(t, m.Set())
	assert.True(t, m.Requested())

	// idempotent
	require.NoError(t, m.Set())
	assert.True(t, m.Requested())

	require.NoError(t, m.Clear())
	assert.False(t, m.Requested())

	require.NoError(t, m.Clear(), "clearing an absent marker is a no-op")
}
