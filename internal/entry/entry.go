// Package entry defines the immutable record the Scanner produces and the
// Planner, Delta engine and Transport consume.
package entry

import "time"

// Kind classifies what a filesystem object is, for planning purposes.
type Kind int

const (
	KindRegular Kind = iota
	KindDirectory
	KindSymlink
	KindHardlinkMember
	KindSpecial
)

func (k Kind) String() string {
	switch k {
	case KindRegular:
		return "regular"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	case KindHardlinkMember:
		return "hardlink-member"
	case KindSpecial:
		return "special"
	default:
		return "unknown"
	}
}

// LinkID identifies a hard-link equivalence class via (device, inode).
type LinkID struct {
	Device uint64
	Inode  uint64
}

// Valid reports whether the platform exposed a usable (device, inode) pair.
func (l LinkID) Valid() bool { return l.Device != 0 || l.Inode != 0 }

// MTimeGranularity tags the resolution at which a filesystem records
// modification times, used by the Planner's "fast" comparison epsilon.
type MTimeGranularity time.Duration

const (
	GranularityFAT   MTimeGranularity = MTimeGranularity(2 * time.Second)
	GranularityFine  MTimeGranularity = MTimeGranularity(time.Second)
	GranularityNanos MTimeGranularity = MTimeGranularity(time.Nanosecond)
)

// Entry is an immutable record describing one filesystem object, relative
// to the root it was scanned from. Once constructed by the Scanner it is
// never mutated; the Planner, Transport and Delta engine only read it.
type Entry struct {
	RelativePath string
	Kind         Kind

	Size             int64
	ModTime          time.Time
	MTimeGranularity MTimeGranularity

	Mode  uint32 // permission bits, as os.FileMode&os.ModePerm would report
	UID   uint32
	GID   uint32

	// ExtendedAttrs is only populated when -X is requested; it maps
	// attribute name to raw value bytes.
	ExtendedAttrs map[string][]byte
	XattrDigest   uint64 // fast digest over a canonical encoding of ExtendedAttrs

	// ACL is a POSIX ACL byte blob. The Scanner does not capture ACLs, so
	// it is nil on every platform, with or without -A.
	ACL []byte

	SparseHint     bool // true if allocated blocks are fewer than logical size implies
	AllocatedBytes int64

	LinkTarget string // populated for KindSymlink
	Link       LinkID // populated when the platform exposes (dev, inode); LinkCount>1 implies hard-link family
	LinkCount  uint64
}

// IsMoreRecentThan reports whether e should be considered newer than other
// for sync purposes: a different size (either way), or mtimes further
// apart (either way) than the coarser of the two filesystems' granularity.
func (e Entry) IsMoreRecentThan(other Entry) bool {
	if e.Size != other.Size {
		return true
	}
	eps := e.MTimeGranularity
	if other.MTimeGranularity > eps {
		eps = other.MTimeGranularity
	}
	diff := e.ModTime.Sub(other.ModTime)
	if diff < 0 {
		diff = -diff
	}
	return diff > time.Duration(eps)
}
