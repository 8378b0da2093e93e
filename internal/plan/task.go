// Package plan implements spec §4.2: pairing source and destination
// entries by relative path and emitting Tasks with a transfer strategy,
// following the accumulate-then-compare shape of azcopy's
// cmd/syncIndexer.go / cmd/syncComparator.go (an objectIndexer plus a
// pair of comparators, one for "source enumerated second" and one for
// "destination enumerated second").
package plan

import "github.com/nijaru/sy/internal/entry"

// Action is the tagged union spec §3 calls Task: one of the exhaustively
// handled actions per destination path.
type Action int

const (
	ActionCreateDir Action = iota
	ActionCopyFile
	ActionUpdateFile
	ActionSymlink
	ActionHardlink
	ActionDelete
	ActionSkip
)

func (a Action) String() string {
	switch a {
	case ActionCreateDir:
		return "create-dir"
	case ActionCopyFile:
		return "create"
	case ActionUpdateFile:
		return "update"
	case ActionSymlink:
		return "symlink"
	case ActionHardlink:
		return "hardlink"
	case ActionDelete:
		return "delete"
	case ActionSkip:
		return "skip"
	default:
		return "unknown"
	}
}

// Strategy is the transfer strategy a CopyFile/UpdateFile Task carries.
type Strategy int

const (
	StrategyFullCopy Strategy = iota
	StrategyDeltaCowClone
	StrategyDeltaInPlace
	StrategySparseRegions
)

func (s Strategy) String() string {
	switch s {
	case StrategyFullCopy:
		return "full-copy"
	case StrategyDeltaCowClone:
		return "delta-cow-clone"
	case StrategyDeltaInPlace:
		return "delta-in-place"
	case StrategySparseRegions:
		return "sparse-regions"
	default:
		return "unknown"
	}
}

// Task is the planned action for one destination path.
type Task struct {
	RelativePath string
	Action       Action
	Strategy     Strategy

	Source *entry.Entry // nil for pure Delete
	Dest   *entry.Entry // nil if destination doesn't yet exist

	// PrimaryPath is set on Hardlink tasks: the relative path of the
	// already-transferred primary this one should link to.
	PrimaryPath string

	// ResumeOffset is 0, or a block index to resume an interrupted
	// DeltaInPlace/DeltaCowClone transfer from.
	ResumeOffset int64
}
