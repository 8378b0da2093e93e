package resume

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_AbsentFileStartsFresh(t *testing.T) {
	root := t.TempDir()
	state, discarded, err := Load(root, "src-fp", "dst-fp", "opts-digest")
	require.NoError(t, err)
	assert.True(t, discarded)
	assert.False(t, state.IsComplete("a.txt", 10, time.Now()))
}

func TestFlushThenLoad_RoundTripsCompletions(t *testing.T) {
	root := t.TempDir()
	state, _, err := Load(root, "src-fp", "dst-fp", "opts-digest")
	require.NoError(t, err)

	mtime := time.Unix(1_700_000_000, 0)
	state.RecordCompletion("a.txt", 10, mtime, "deadbeef")
	require.NoError(t, state.Flush())

	reloaded, discarded, err := Load(root, "src-fp", "dst-fp", "opts-digest")
	require.NoError(t, err)
	assert.False(t, discarded)
	assert.True(t, reloaded.IsComplete("a.txt", 10, mtime))
}

func TestLoad_FingerprintMismatchDiscards(t *testing.T) {
	root := t.TempDir()
	state, _, err := Load(root, "src-fp", "dst-fp", "opts-digest")
	require.NoError(t, err)
	state.RecordCompletion("a.txt", 10, time.Now(), "deadbeef")
	require.NoError(t, state.Flush())

	_, discarded, err := Load(root, "different-src-fp", "dst-fp", "opts-digest")
	require.NoError(t, err)
	assert.True(t, discarded, "changed source fingerprint should invalidate the record")
}

func TestRemove_DeletesStateFile(t *testing.T) {
	root := t.TempDir()
	state, _, err := Load(root, "src-fp", "dst-fp", "opts-digest")
	require.NoError(t, err)
	state.RecordCompletion("a.txt", 10, time.Now(), "deadbeef")
	require.NoError(t, state.Flush())
	require.NoError(t, state.Remove())

	_, discarded, err := Load(root, "src-fp", "dst-fp", "opts-digest")
	require.NoError(t, err)
	assert.True(t, discarded)
}

func TestCache_StoreAndLookup(t *testing.T) {
	root := t.TempDir()
	cache, err := OpenCache(root)
	require.NoError(t, err)
	defer cache.Close()

	mtime := time.Unix(1_700_000_000, 0)
	require.NoError(t, cache.Store("a.txt", 10, mtime, 0xdeadbeef, "sha-abc"))

	fast, strong, ok, err := cache.Lookup("a.txt", 10, mtime)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(0xdeadbeef), fast)
	assert.Equal(t, "sha-abc", strong)
}

func TestCache_ClearRemovesRows(t *testing.T) {
	root := t.TempDir()
	cache, err := OpenCache(root)
	require.NoError(t, err)
	defer cache.Close()

	mtime := time.Unix(1_700_000_000, 0)
	require.NoError(t, cache.Store("a.txt", 10, mtime, 1, "x"))
	require.NoError(t, cache.Clear())

	_, _, ok, err := cache.Lookup("a.txt", 10, mtime)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClearCacheFile_RemovesDatabaseFile(t *testing.T) {
	root := t.TempDir()
	cache, err := OpenCache(root)
	require.NoError(t, err)
	require.NoError(t, cache.Close())

	require.NoError(t, ClearCacheFile(root))
	_, statErr := os.Stat(filepath.Join(root, cacheFileName))
	assert.True(t, os.IsNotExist(statErr))
}
