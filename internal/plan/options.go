package plan

// CompareMode selects how the Planner decides a regular file is stale,
// per spec §4.2.
type CompareMode int

const (
	CompareFast CompareMode = iota
	CompareSizeOnly
	CompareChecksum
	// CompareIgnoreTimes treats every path present on both sides as stale,
	// skipping the mtime comparison entirely (--ignore-times).
	CompareIgnoreTimes
)

func ParseCompareMode(checksum, sizeOnly, ignoreTimes bool) CompareMode {
	switch {
	case checksum:
		return CompareChecksum
	case sizeOnly:
		return CompareSizeOnly
	case ignoreTimes:
		return CompareIgnoreTimes
	default:
		return CompareFast
	}
}

// Options configures one planning pass.
type Options struct {
	Compare CompareMode

	// DeleteEnabled turns on the deletion pass; DeleteCeiling is the
	// fraction of destination files (0..1) beyond which planning fails
	// with SafetyThreshold, unless ForceDelete is set.
	DeleteEnabled bool
	DeleteCeiling float64
	ForceDelete   bool

	// PreserveHardlinks enables hard-link family detection and
	// propagation to the destination.
	PreserveHardlinks bool

	// SparseEnabled routes sparse source files to StrategySparseRegions.
	SparseEnabled bool

	// LargeFileThreshold is the minimum size (bytes) at which Update
	// tasks consider a delta strategy at all; below it, FullCopy is
	// always cheaper than the rolling-hash protocol's overhead.
	LargeFileThreshold int64

	// DeltaFallbackFraction is the fraction of file size above which an
	// estimated delta payload counts as too large for a delta strategy.
	// Plan fills in the default (0.75) when it is zero but does not
	// consult it: no payload estimate is made, and an Update keeps its
	// delta strategy however much of the file changed.
	DeltaFallbackFraction float64

	// ChecksumFunc computes a strong-digest-equivalent string for the
	// "checksum" comparison mode; supplied by the caller (Integrity) so
	// Planner stays free of I/O.
	ChecksumFunc func(relPath string, side Side) (string, error)
}

// Side distinguishes source from destination for ChecksumFunc calls.
type Side int

const (
	SideSource Side = iota
	SideDestination
)

func defaultOptions() Options {
	return Options{
		DeleteCeiling:         0.5,
		LargeFileThreshold:    1 << 20, // 1 MiB
		DeltaFallbackFraction: 0.75,
	}
}
