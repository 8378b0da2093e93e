//go:build linux

package scanner

import (
	"os"
	"syscall"

	"github.com/nijaru/sy/internal/entry"
)

// fillPlatformMetadata captures the (device, inode) pair, owner/group ids,
// link count and a sparse-allocation hint, all exposed by Linux's
// syscall.Stat_t, as spec §3 requires.
func fillPlatformMetadata(e *entry.Entry, full string, info os.FileInfo) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	e.Link = entry.LinkID{Device: uint64(st.Dev), Inode: st.Ino}
	e.LinkCount = uint64(st.Nlink)
	e.UID = st.Uid
	e.GID = st.Gid

	// st_blocks is always in 512-byte units regardless of the underlying
	// filesystem block size.
	e.AllocatedBytes = st.Blocks * 512
	if e.Kind == entry.KindRegular && e.AllocatedBytes < e.Size {
		e.SparseHint = true
	}
}
