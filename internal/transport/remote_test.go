package transport

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nijaru/sy/internal/delta"
)

// pipeConn adapts a pair of io.Pipe ends into one io.ReadWriteCloser per
// side, so Remote and Serve can talk over an in-memory duplex channel
// without any real network or process boundary.
type pipeConn struct {
	io.Reader
	io.Writer
}

func (pipeConn) Close() error { return nil }

func newPipePair() (client, server io.ReadWriteCloser) {
	cr, sw := io.Pipe()
	sr, cw := io.Pipe()
	return pipeConn{Reader: cr, Writer: cw}, pipeConn{Reader: sr, Writer: sw}
}

func startServer(t *testing.T, root string) (*Remote, func()) {
	t.Helper()
	clientConn, serverConn := newPipePair()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Serve(ctx, serverConn, NewLocal(root))
	}()
	return NewRemote(clientConn), func() {
		cancel()
		clientConn.Close()
		<-done
	}
}

func TestRemote_CreateDirAndOpenWriteCommit(t *testing.T) {
	root := t.TempDir()
	r, stop := startServer(t, root)
	defer stop()
	ctx := context.Background()

	require.NoError(t, r.CreateDir(ctx, "sub", 0o755))
	h, err := r.OpenWrite(ctx, "sub/file.txt")
	require.NoError(t, err)
	_, err = h.WriteAt([]byte("hello remote"), 0)
	require.NoError(t, err)
	require.NoError(t, h.Commit(ctx))

	data, err := os.ReadFile(filepath.Join(root, "sub/file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello remote", string(data))
}

func TestRemote_DiscardLeavesNoFinalFile(t *testing.T) {
	root := t.TempDir()
	r, stop := startServer(t, root)
	defer stop()
	ctx := context.Background()

	h, err := r.OpenWrite(ctx, "leftover.txt")
	require.NoError(t, err)
	_, err = h.WriteAt([]byte("x"), 0)
	require.NoError(t, err)
	h.Discard()

	_, err = os.Stat(filepath.Join(root, "leftover.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestRemote_OpenReadFetchesChunks(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "data.bin"), []byte("0123456789"), 0o644))
	r, stop := startServer(t, root)
	defer stop()
	ctx := context.Background()

	rc, err := r.OpenRead(ctx, "data.bin")
	require.NoError(t, err)
	defer rc.Close()

	buf := make([]byte, 4)
	n, err := rc.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "0123", string(buf[:n]))

	_, err = rc.(io.Seeker).Seek(7, io.SeekStart)
	require.NoError(t, err)
	n, err = rc.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "789", string(buf[:n]))
}

func TestRemote_SymlinkHardlinkRemove(t *testing.T) {
	root := t.TempDir()
	r, stop := startServer(t, root)
	defer stop()
	ctx := context.Background()

	h, err := r.OpenWrite(ctx, "primary.txt")
	require.NoError(t, err)
	_, _ = h.WriteAt([]byte("data"), 0)
	require.NoError(t, h.Commit(ctx))

	require.NoError(t, r.Hardlink(ctx, "secondary.txt", "primary.txt"))
	data, err := os.ReadFile(filepath.Join(root, "secondary.txt"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))

	require.NoError(t, r.Symlink(ctx, "link.txt", "primary.txt"))
	target, err := os.Readlink(filepath.Join(root, "link.txt"))
	require.NoError(t, err)
	assert.Equal(t, "primary.txt", target)

	require.NoError(t, r.Remove(ctx, "secondary.txt"))
	_, ok, err := r.Stat(ctx, "secondary.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemote_ApplyDeltaReconstructsAgainstRemoteOldFile(t *testing.T) {
	root := t.TempDir()
	old := []byte("the quick brown fox jumps over the lazy dog")
	require.NoError(t, os.WriteFile(filepath.Join(root, "f.txt"), old, 0o644))

	r, stop := startServer(t, root)
	defer stop()
	ctx := context.Background()

	blockSize := 8
	sig, err := delta.BuildSignatureTable(
		io.NewSectionReader(bytesReaderAt(old), 0, int64(len(old))), int64(len(old)), blockSize)
	require.NoError(t, err)

	newContent := []byte("the quick brown FOX jumps over the lazy dog")
	d, err := delta.Generate(newReaderSeeker(newContent), sig)
	require.NoError(t, err)

	h, err := r.OpenWrite(ctx, "f.txt")
	require.NoError(t, err)
	applier, ok := h.(interface {
		ApplyDelta(ctx context.Context, d *delta.Delta) (int64, uint64, error)
	})
	require.True(t, ok)

	written, _, err := applier.ApplyDelta(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, int64(len(newContent)), written)
	require.NoError(t, h.Commit(ctx))

	got, err := os.ReadFile(filepath.Join(root, "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, newContent, got)
}

type bytesReaderAt []byte

func (b bytesReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func newReaderSeeker(b []byte) io.ReadSeeker { return io.NewSectionReader(bytesReaderAt(b), 0, int64(len(b))) }
