package transport

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDual_RoutesLongestPrefixFirst(t *testing.T) {
	defaultRoot := t.TempDir()
	specialRoot := t.TempDir()
	d := NewDual(NewLocal(defaultRoot)).Route("special/", NewLocal(specialRoot))
	ctx := context.Background()

	h, err := d.OpenWrite(ctx, "special/file.txt")
	require.NoError(t, err)
	_, err = h.WriteAt([]byte("routed"), 0)
	require.NoError(t, err)
	require.NoError(t, h.Commit(ctx))

	data, err := os.ReadFile(filepath.Join(specialRoot, "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "routed", string(data))

	_, err = os.Stat(filepath.Join(defaultRoot, "special/file.txt"))
	assert.True(t, os.IsNotExist(err))

	h2, err := d.OpenWrite(ctx, "other/file.txt")
	require.NoError(t, err)
	require.NoError(t, h2.Commit(ctx))
	_, err = os.Stat(filepath.Join(defaultRoot, "other/file.txt"))
	require.NoError(t, err)
}

func TestDual_AbsPathDelegatesToAddressableRoute(t *testing.T) {
	defaultRoot := t.TempDir()
	d := NewDual(NewLocal(defaultRoot))

	abs, ok := d.AbsPath("a/b.txt")
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(defaultRoot, "a/b.txt"), abs)
}

func TestDual_AbsPathFalseForNonAddressableRoute(t *testing.T) {
	clientConn, _ := newPipePair()
	d := NewDual(NewRemote(clientConn))

	_, ok := d.AbsPath("anything")
	assert.False(t, ok)
	clientConn.Close()
}
