//go:build !linux

package scanner

import (
	"os"

	"github.com/nijaru/sy/internal/entry"
)

// fillPlatformMetadata is a no-op stand-in on platforms where we don't
// have a syscall.Stat_t to read (dev, inode) from; hard-link detection
// and sparse hints are simply unavailable there.
func fillPlatformMetadata(e *entry.Entry, full string, info os.FileInfo) {
	e.AllocatedBytes = e.Size
}
