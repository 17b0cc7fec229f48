package filestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON_ReadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "doc.json")

	in := map[string]int{"total_runs": 3}
	require.NoError(t, WriteJSON(path, in))

	var out map[string]int
	require.NoError(t, ReadJSON(path, &out))
	assert.Equal(t, in, out)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not be left behind")
}

func TestReadJSON_Missing(t *testing.T) {
	var out map[string]int
	err := ReadJSON(filepath.Join(t.TempDir(), "absent.json"), &out)
	require.Error(t, err)
	assert.True(t, IsNotExist(err))
}

func TestReadJSON_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	var out map[string]int
	err := ReadJSON(path, &out)
	require.Error(t, err)
	assert.False(t, IsNotExist(err))
}

func TestAcquireRunLock_BlocksConcurrentAcquire(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireRunLock(dir)
	require.NoError(t, err)

	_, err = AcquireRunLock(dir)
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, lock.Release())

	lock2, err := AcquireRunLock(dir)
	require.NoError(t, err)
	require.NoError(t, lock2.Release())
}

func TestAcquireRunLock_ReclaimsStaleOwner(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireRunLock(dir)
	require.NoError(t, err)
	// A pid that cannot exist marks the lock as abandoned.
	require.NoError(t, lock.Claim(1<<30, "run-1"))

	lock2, err := AcquireRunLock(dir)
	require.NoError(t, err, "stale lock should be reclaimed")
	require.NoError(t, lock2.Release())
}

func TestLiveOwner(t *testing.T) {
	dir := t.TempDir()

	_, ok := LiveOwner(dir)
	assert.False(t, ok)

	lock, err := AcquireRunLock(dir)
	require.NoError(t, err)
	defer lock.Release()

	require.NoError(t, lock.Claim(os.Getpid(), "run-2"))
	owner, ok := LiveOwner(dir)
	require.True(t, ok)
	assert.Equal(t, os.Getpid(), owner.PID)
	assert.Equal(t, "run-2", owner.RunID)
}

func TestRelease_Unacquired(t *testing.T) {
	assert.NoError(t, RunLock{}.Release())
}
