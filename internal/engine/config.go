// Package engine wires Scanner, Planner, Scheduler, Transport, the Delta
// engine, Integrity and Resume/state into the single Sync operation the
// CLI layer drives, the way azcopy's cmd/sync.go's init() stitches
// together a traverser, comparator, processor and job dispatcher behind
// one cobra command.
package engine

import (
	"github.com/nijaru/sy/internal/filter"
	"github.com/nijaru/sy/internal/integrity"
	"github.com/nijaru/sy/internal/plan"
	"github.com/nijaru/sy/internal/scanner"
)

// Config is the fully-resolved set of inputs for one Sync invocation,
// built by internal/cliapp from cobra/pflag flags. The core never reads
// a config file itself (spec §1's Non-goal); this struct is the
// boundary.
type Config struct {
	SourceRoot      string
	DestinationRoot string

	DryRun bool

	Compare       plan.CompareMode
	Symlinks      scanner.SymlinkMode
	PreserveLinks bool // -H
	Sparse        bool

	WithXattr bool // -X
	WithACL   bool // -A
	Archive   struct {
		Perms, Times, Owner, Group, Devices bool // -p/-t/-o/-g/-D, bundled by -a
	}

	Include, Exclude, FilterRules []string
	MinSize, MaxSize              int64

	DeleteEnabled bool
	DeleteCeiling float64
	ForceDelete   bool
	DeleteDuring  bool

	IntegrityMode integrity.Mode

	BandwidthLimitBytesPerSec int64

	Workers int

	ResumeEnabled bool
	CleanState    bool

	UseCache   bool
	ClearCache bool

	MaxErrors    int
	MaxErrorRate float64

	JSONEvents bool
	Verbose    bool
}

func (c Config) scannerOptions(root string) scanner.Options {
	return scanner.Options{
		Root:        root,
		Parallelism: c.Workers,
		Symlinks:    c.Symlinks,
		Rules:       filter.New(c.Include, c.Exclude, c.FilterRules).WithSizeBounds(c.MinSize, c.MaxSize),
		WithXattr:   c.WithXattr,
	}
}

func (c Config) planOptions(checksumFunc func(relPath string, side plan.Side) (string, error)) plan.Options {
	return plan.Options{
		Compare:               c.Compare,
		DeleteEnabled:         c.DeleteEnabled,
		DeleteCeiling:         c.DeleteCeiling,
		ForceDelete:           c.ForceDelete,
		PreserveHardlinks:     c.PreserveLinks,
		SparseEnabled:         c.Sparse,
		LargeFileThreshold:    1 << 20,
		DeltaFallbackFraction: 0.75,
		ChecksumFunc:          checksumFunc,
	}
}
