// Package transport realizes spec §4.3: a uniform interface the
// Scheduler drives, with a local filesystem implementation, a remote
// stub over any io.ReadWriteCloser, and a dual dispatcher that routes
// each path to whichever realization owns it.
package transport

import (
	"context"
	"io"

	"github.com/nijaru/sy/internal/delta"
	"github.com/nijaru/sy/internal/entry"
)

// Transport is the uniform surface the Scheduler drives, independent of
// whether the destination lives on the local filesystem or across a
// remote channel.
type Transport interface {
	// CreateDir ensures relPath exists as a directory at the destination,
	// with the given permission bits.
	CreateDir(ctx context.Context, relPath string, mode uint32) error

	// OpenWrite returns a handle to stage relPath's new contents. Writes
	// land in a temporary location; Commit makes them visible atomically.
	OpenWrite(ctx context.Context, relPath string) (WriteHandle, error)

	// OpenRead opens relPath's current destination contents for delta
	// signature generation or same-host lock-step reads. Returns
	// os.ErrNotExist (wrapped) if absent.
	OpenRead(ctx context.Context, relPath string) (io.ReadSeekCloser, error)

	// Symlink creates relPath as a symlink pointing at target.
	Symlink(ctx context.Context, relPath, target string) error

	// Hardlink creates relPath as a hard link to the already-materialized
	// primaryRelPath.
	Hardlink(ctx context.Context, relPath, primaryRelPath string) error

	// Remove deletes relPath (file, symlink, or directory together with
	// its contents).
	Remove(ctx context.Context, relPath string) error

	// Stat returns the destination-side entry for relPath, or ok=false if
	// it doesn't exist.
	Stat(ctx context.Context, relPath string) (e entry.Entry, ok bool, err error)

	// ApplyMetadata sets mode/uid/gid/mtime/xattrs on an already-written
	// relPath, per the -p/-t/-o/-g/-X/-A flags.
	ApplyMetadata(ctx context.Context, relPath string, want entry.Entry, opts MetadataOptions) error
}

// Addressable is implemented by a Transport whose files live on the
// machine running the sync and so can be opened by ordinary path-based
// I/O outside the Transport interface itself. The Delta engine uses
// this to pick the same-host lock-step regime (no rolling hash needed)
// over the cross-host signature/Generate/Apply protocol, which stays
// reserved for a destination reached over a Remote channel.
type Addressable interface {
	// AbsPath returns the on-disk path backing relPath, and whether this
	// realization can address it directly at all.
	AbsPath(relPath string) (string, bool)
}

// MetadataOptions mirrors the rsync-style per-attribute flags: which
// attributes ApplyMetadata should actually touch.
type MetadataOptions struct {
	Perms   bool // -p
	Times   bool // -t
	Owner   bool // -o
	Group   bool // -g
	Xattrs  bool // -X
	ACL     bool // -A
	Devices bool // -D
}

// WriteHandle stages a file's contents before making them visible.
type WriteHandle interface {
	io.WriterAt
	io.Closer

	// TryCloneFrom attempts a copy-on-write reflink of the full contents
	// of src into the staged file, returning false (not an error) if the
	// underlying filesystem can't do it.
	TryCloneFrom(src string) (bool, error)

	// Commit makes the staged contents visible at the final path,
	// atomically with respect to concurrent readers.
	Commit(ctx context.Context) error

	// Discard abandons the staged contents, cleaning up any temp file.
	Discard()
}

// DeltaApplier is implemented by a WriteHandle whose backing Transport
// can apply a *delta.Delta against its own copy of the old file, rather
// than having the driver reconstruct the new file locally and stream
// every byte back over WriteAt. A Remote destination implements this so
// the wire only ever carries the (small) op stream, not the Copy-range
// bytes it already holds; Local has no need for it since WriteAt
// against a local file is already as cheap as applying in place.
type DeltaApplier interface {
	ApplyDelta(ctx context.Context, d *delta.Delta) (written int64, digest uint64, err error)
}
