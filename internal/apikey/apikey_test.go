package apikey

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	b, err := Generate()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a.Raw, "al_"))
	assert.Len(t, a.Prefix, PrefixLen)
	assert.Equal(t, a.Raw[:PrefixLen], a.Prefix)
	assert.NotEqual(t, a.Raw, b.Raw)

	assert.True(t, Matches(a.Hash, a.Raw))
	assert.False(t, Matches(a.Hash, b.Raw))
	assert.NotContains(t, a.Hash, a.Raw)
}

func TestNew(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	key, raw, err := New("  dashboard ", []string{"read", "write", "read"}, now)
	require.NoError(t, err)
	assert.Equal(t, "dashboard", key.Name)
	assert.Equal(t, []string{"read", "write"}, key.Scopes)
	assert.Equal(t, raw[:PrefixLen], key.KeyPrefix)
	assert.True(t, Matches(key.KeyHash, raw))
	assert.Equal(t, now, key.CreatedAt)
	assert.NotEqual(t, uuid.Nil, key.ID)
}

func TestNew_DefaultsToRead(t *testing.T) {
	key, _, err := New("cli", nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{"read"}, key.Scopes)
}

func TestNew_Rejects(t *testing.T) {
	_, _, err := New("", nil, time.Now())
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, _, err = New("ops", []string{"superuser"}, time.Now())
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.Contains(t, err.Error(), "superuser")
}
