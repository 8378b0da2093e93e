package transport

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/nijaru/sy/internal/entry"
	"github.com/nijaru/sy/internal/fsprobe"
	"github.com/nijaru/sy/internal/synerr"
)

// Local realizes Transport against a directory on the machine running
// the sync, staging writes into a sibling temp file before an atomic
// rename, the way azcopy's downloader stages into ".azDownload-*"
// before renaming into place (see ste/sourceInfoProvider patterns).
type Local struct {
	Root   string
	Prober *fsprobe.Prober
}

func NewLocal(root string) *Local {
	return &Local{Root: root, Prober: fsprobe.New()}
}

func (l *Local) abs(relPath string) string { return filepath.Join(l.Root, relPath) }

// AbsPath reports the on-disk path backing relPath, satisfying
// Addressable: a Local realization is always directly addressable by
// the machine running the sync, which is what lets the Delta engine's
// same-host lock-step regime apply instead of the cross-host
// rolling-hash protocol.
func (l *Local) AbsPath(relPath string) (string, bool) { return l.abs(relPath), true }

func (l *Local) CreateDir(ctx context.Context, relPath string, mode uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := l.abs(relPath)
	if err := os.MkdirAll(path, os.FileMode(mode)|0o700); err != nil {
		return synerr.Permission(relPath, err)
	}
	return nil
}

func (l *Local) OpenWrite(ctx context.Context, relPath string) (WriteHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	finalPath := l.abs(relPath)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return nil, synerr.Permission(relPath, err)
	}
	tempPath := finalPath + ".sy-tmp-" + uuid.NewString()[:8]
	f, err := os.OpenFile(tempPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		if os.IsPermission(err) {
			return nil, synerr.Permission(relPath, err)
		}
		return nil, errors.Wrapf(err, "stage %s", relPath)
	}
	return &localWriteHandle{file: f, tempPath: tempPath, finalPath: finalPath}, nil
}

func (l *Local) OpenRead(ctx context.Context, relPath string) (io.ReadSeekCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(l.abs(relPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, synerr.NotFound(relPath, err)
		}
		return nil, errors.Wrapf(err, "open %s", relPath)
	}
	return f, nil
}

func (l *Local) Symlink(ctx context.Context, relPath, target string) error {
	path := l.abs(relPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return synerr.Permission(relPath, err)
	}
	_ = os.Remove(path) // symlink creation fails if a stale entry occupies relPath
	if err := os.Symlink(target, path); err != nil {
		return errors.Wrapf(err, "symlink %s", relPath)
	}
	return nil
}

func (l *Local) Hardlink(ctx context.Context, relPath, primaryRelPath string) error {
	path := l.abs(relPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return synerr.Permission(relPath, err)
	}
	_ = os.Remove(path)
	if err := os.Link(l.abs(primaryRelPath), path); err != nil {
		return errors.Wrapf(err, "hardlink %s -> %s", relPath, primaryRelPath)
	}
	return nil
}

func (l *Local) Remove(ctx context.Context, relPath string) error {
	if err := os.RemoveAll(l.abs(relPath)); err != nil {
		return synerr.Permission(relPath, err)
	}
	return nil
}

func (l *Local) Stat(ctx context.Context, relPath string) (entry.Entry, bool, error) {
	info, err := os.Lstat(l.abs(relPath))
	if err != nil {
		if os.IsNotExist(err) {
			return entry.Entry{}, false, nil
		}
		return entry.Entry{}, false, errors.Wrapf(err, "stat %s", relPath)
	}
	e := entry.Entry{
		RelativePath: relPath,
		Size:         info.Size(),
		ModTime:      info.ModTime(),
		Mode:         uint32(info.Mode().Perm()),
	}
	switch {
	case info.IsDir():
		e.Kind = entry.KindDirectory
	case info.Mode()&os.ModeSymlink != 0:
		e.Kind = entry.KindSymlink
		target, err := os.Readlink(l.abs(relPath))
		if err == nil {
			e.LinkTarget = target
		}
	default:
		e.Kind = entry.KindRegular
	}
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		e.UID = st.Uid
		e.GID = st.Gid
		e.Link = entry.LinkID{Device: uint64(st.Dev), Inode: st.Ino}
		e.LinkCount = uint64(st.Nlink)
	}
	return e, true, nil
}

func (l *Local) ApplyMetadata(ctx context.Context, relPath string, want entry.Entry, opts MetadataOptions) error {
	path := l.abs(relPath)
	if opts.Perms {
		if err := os.Chmod(path, os.FileMode(want.Mode)); err != nil {
			return synerr.Permission(relPath, err)
		}
	}
	if opts.Owner || opts.Group {
		uid, gid := -1, -1
		if opts.Owner {
			uid = int(want.UID)
		}
		if opts.Group {
			gid = int(want.GID)
		}
		if err := os.Lchown(path, uid, gid); err != nil {
			return synerr.Permission(relPath, err)
		}
	}
	if opts.Times {
		if err := os.Chtimes(path, want.ModTime, want.ModTime); err != nil {
			return synerr.Permission(relPath, err)
		}
	}
	if opts.Xattrs {
		if err := applyXattrs(path, want.ExtendedAttrs); err != nil {
			return errors.Wrapf(err, "apply xattrs %s", relPath)
		}
	}
	return nil
}

type localWriteHandle struct {
	file      *os.File
	tempPath  string
	finalPath string
	cloned    bool
}

func (h *localWriteHandle) WriteAt(p []byte, off int64) (int, error) {
	return h.file.WriteAt(p, off)
}

func (h *localWriteHandle) TryCloneFrom(src string) (bool, error) {
	srcFile, err := os.Open(src)
	if err != nil {
		return false, nil
	}
	defer srcFile.Close()
	ok, err := fsprobe.CloneFile(h.file, srcFile)
	if ok {
		h.cloned = true
	}
	return ok, err
}

func (h *localWriteHandle) Close() error { return h.file.Close() }

func (h *localWriteHandle) Commit(ctx context.Context) error {
	if err := h.file.Sync(); err != nil {
		return errors.Wrapf(err, "sync %s", h.tempPath)
	}
	if err := h.file.Close(); err != nil {
		return errors.Wrapf(err, "close %s", h.tempPath)
	}
	if err := os.Rename(h.tempPath, h.finalPath); err != nil {
		os.Remove(h.tempPath)
		return errors.Wrapf(err, "rename %s -> %s", h.tempPath, h.finalPath)
	}
	return nil
}

func (h *localWriteHandle) Discard() {
	h.file.Close()
	os.Remove(h.tempPath)
}
