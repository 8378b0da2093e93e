// Package cliapp builds the sy command line on top of spf13/cobra and
// spf13/pflag, the way azcopy's cmd package stages raw string/bool flags
// into a RawSyncCmdArgs and cooks them into a typed argument bundle
// before running anything.
package cliapp

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/nijaru/sy/internal/engine"
	"github.com/nijaru/sy/internal/integrity"
	"github.com/nijaru/sy/internal/plan"
	"github.com/nijaru/sy/internal/scanner"
)

// rawFlags holds every flag value exactly as pflag parses it, before
// Cook validates and converts it into an engine.Config. Mirrors the
// raw-struct/Cook split the teacher's sync command uses.
type rawFlags struct {
	Source      string
	Destination string

	DryRun bool

	Checksum     bool
	IgnoreTimes  bool
	SizeOnly     bool
	Mode         string
	Verify       bool
	Paranoid     bool

	Links    string
	Hardlink bool
	Sparse   bool

	Xattr   bool
	ACL     bool
	Perms   bool
	Times   bool
	Owner   bool
	Group   bool
	Dev     bool
	Archive bool

	Include     []string
	Exclude     []string
	FilterRules []string
	MinSize     string
	MaxSize     string

	Delete        bool
	DeleteCeiling float64
	ForceDelete   bool
	DeleteDuring  bool

	Bwlimit string

	Resume     bool
	CleanState bool

	UseCache   bool
	ClearCache bool

	MaxErrors    int
	MaxErrorRate float64

	Workers int

	JSON    bool
	Verbose bool

	PreHook  string
	PostHook string

	Watch         bool
	WatchDebounce time.Duration
}

func defaultRaw() rawFlags {
	return rawFlags{
		Mode:          "standard",
		Links:         "preserve",
		DeleteCeiling: 0.5,
		Resume:        true,
		Workers:       8,
		MaxErrors:     0,
		MaxErrorRate:  0,
		WatchDebounce: 2 * time.Second,
	}
}

// Cook validates raw flag values and produces the engine.Config the
// core Sync operation runs with. Invalid combinations return an error
// whose presence alone is enough to trigger ExitBadArguments at the
// call site — the message is what's shown to the user.
func (raw *rawFlags) Cook() (engine.Config, error) {
	if raw.Source == "" || raw.Destination == "" {
		return engine.Config{}, errors.New("source and destination are both required")
	}

	cfg := engine.Config{
		SourceRoot:      raw.Source,
		DestinationRoot: raw.Destination,
		DryRun:          raw.DryRun,
		PreserveLinks:   raw.Hardlink,
		Sparse:          raw.Sparse,
		WithXattr:       raw.Xattr,
		WithACL:         raw.ACL,
		Include:         raw.Include,
		Exclude:         raw.Exclude,
		FilterRules:     raw.FilterRules,
		DeleteEnabled:   raw.Delete,
		DeleteCeiling:   raw.DeleteCeiling,
		ForceDelete:     raw.ForceDelete,
		DeleteDuring:    raw.DeleteDuring,
		Workers:         raw.Workers,
		ResumeEnabled:   raw.Resume && !raw.CleanState,
		CleanState:      raw.CleanState,
		UseCache:        raw.UseCache,
		ClearCache:      raw.ClearCache,
		MaxErrors:       raw.MaxErrors,
		MaxErrorRate:    raw.MaxErrorRate,
		JSONEvents:      raw.JSON,
		Verbose:         raw.Verbose,
	}
	cfg.Archive.Perms = raw.Perms || raw.Archive
	cfg.Archive.Times = raw.Times || raw.Archive
	cfg.Archive.Owner = raw.Owner || raw.Archive
	cfg.Archive.Group = raw.Group || raw.Archive
	cfg.Archive.Devices = raw.Dev || raw.Archive

	cfg.Compare = plan.ParseCompareMode(raw.Checksum, raw.SizeOnly, raw.IgnoreTimes)

	switch strings.ToLower(raw.Links) {
	case "preserve", "":
		cfg.Symlinks = scanner.SymlinkPreserve
	case "follow":
		cfg.Symlinks = scanner.SymlinkFollow
	case "skip":
		cfg.Symlinks = scanner.SymlinkSkip
	default:
		return engine.Config{}, errors.Errorf("--links must be preserve|follow|skip, got %q", raw.Links)
	}

	modeName := raw.Mode
	switch {
	case raw.Paranoid:
		modeName = "paranoid"
	case raw.Verify:
		modeName = "verify"
	}
	mode, ok := integrity.ParseMode(modeName)
	if !ok {
		return engine.Config{}, errors.Errorf("--mode must be fast|standard|verify|paranoid, got %q", raw.Mode)
	}
	cfg.IntegrityMode = mode

	if raw.MinSize != "" {
		v, err := humanize.ParseBytes(raw.MinSize)
		if err != nil {
			return engine.Config{}, errors.Wrap(err, "--min-size")
		}
		cfg.MinSize = int64(v)
	}
	if raw.MaxSize != "" {
		v, err := humanize.ParseBytes(raw.MaxSize)
		if err != nil {
			return engine.Config{}, errors.Wrap(err, "--max-size")
		}
		cfg.MaxSize = int64(v)
	} else {
		cfg.MaxSize = 1<<63 - 1
	}
	if cfg.MaxSize < cfg.MinSize {
		return engine.Config{}, errors.New("--max-size must be >= --min-size")
	}

	if raw.Bwlimit != "" {
		v, err := humanize.ParseBytes(raw.Bwlimit)
		if err != nil {
			return engine.Config{}, errors.Wrap(err, "--bwlimit")
		}
		cfg.BandwidthLimitBytesPerSec = int64(v)
	}

	if cfg.DeleteCeiling < 0 || cfg.DeleteCeiling > 1 {
		return engine.Config{}, errors.New("--delete-ceiling must be between 0 and 1")
	}
	if cfg.Workers <= 0 {
		return engine.Config{}, errors.New("--workers/-j must be positive")
	}

	return cfg, nil
}
