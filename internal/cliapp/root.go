package cliapp

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nijaru/sy/internal/engine"
	"github.com/nijaru/sy/internal/logging"
	"github.com/nijaru/sy/internal/watch"
)

const (
	rootCmdShort = "sy mirrors a source directory tree onto a destination with minimal data movement"
	rootCmdLong  = `sy replicates a source directory tree onto a destination directory tree,
transferring only the bytes that changed since the last run. Both
arguments are local directory paths (no host:/path form is accepted),
so changed files are diffed with the same-host lock-step regime, and
what was written is verified according to the selected integrity mode.`
)

// NewRootCommand builds the sy command tree: a single command taking
// <source> <destination> positional arguments and every flag named in
// spec §6, cooked into an engine.Config and handed to engine.Sync.
func NewRootCommand() *cobra.Command {
	raw := defaultRaw()

	cmd := &cobra.Command{
		Use:     "sy <source> <destination>",
		Short:   rootCmdShort,
		Long:    rootCmdLong,
		Args:    cobra.ExactArgs(2),
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw.Source = args[0]
			raw.Destination = args[1]

			cfg, err := raw.Cook()
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "sy:", err)
				os.Exit(engine.ExitBadArguments)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if raw.Watch {
				log := logging.New(raw.Verbose)
				defer log.Sync()
				var jsonOut io.Writer
				if raw.JSON {
					jsonOut = cmd.OutOrStdout()
				}
				if err := watch.Run(ctx, watch.Options{Cfg: cfg, Debounce: raw.WatchDebounce, JSONOut: jsonOut, Log: log}); err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), "sy:", err)
					os.Exit(engine.ExitGeneral)
				}
				os.Exit(engine.ExitSuccess)
				return nil
			}

			runHook(ctx, raw.PreHook, cfg, nil)
			summary, exitCode := runWithProgress(ctx, cfg, cmd.OutOrStdout())
			runHook(context.Background(), raw.PostHook, cfg, &summary)

			os.Exit(exitCode)
			return nil
		},
	}
	cmd.SetVersionTemplate("sy {{.Version}}\n")

	registerFlags(cmd, &raw)
	return cmd
}

// version is overridden at build time via -ldflags "-X ...cliapp.version=...".
var version = "dev"

func registerFlags(cmd *cobra.Command, raw *rawFlags) {
	f := cmd.Flags()

	f.BoolVar(&raw.DryRun, "dry-run", raw.DryRun, "Plan only; report what would change without writing anything.")

	f.BoolVar(&raw.Checksum, "checksum", raw.Checksum, "Force checksum comparison in the Planner instead of size/mtime.")
	f.BoolVar(&raw.IgnoreTimes, "ignore-times", raw.IgnoreTimes, "Treat a changed mtime alone as sufficient to re-transfer.")
	f.BoolVar(&raw.SizeOnly, "size-only", raw.SizeOnly, "Skip files whose size alone is unchanged; ignore mtime.")
	f.StringVar(&raw.Mode, "mode", raw.Mode, "Integrity mode: fast|standard|verify|paranoid.")
	f.BoolVar(&raw.Verify, "verify", raw.Verify, "Shorthand for --mode=verify.")
	f.BoolVar(&raw.Paranoid, "paranoid", raw.Paranoid, "Shorthand for --mode=paranoid.")

	f.StringVar(&raw.Links, "links", raw.Links, "Symlink handling: preserve|follow|skip.")
	f.BoolVarP(&raw.Hardlink, "hard-links", "H", raw.Hardlink, "Preserve hard links between files in the source tree.")
	f.BoolVar(&raw.Sparse, "sparse", raw.Sparse, "Transfer sparse files as sparse at the destination.")

	f.BoolVarP(&raw.Xattr, "xattrs", "X", raw.Xattr, "Preserve extended attributes.")
	f.BoolVarP(&raw.ACL, "acls", "A", raw.ACL, "Preserve ACLs (best-effort; platform dependent).")
	f.BoolVarP(&raw.Perms, "perms", "p", raw.Perms, "Preserve permission bits.")
	f.BoolVarP(&raw.Times, "times", "t", raw.Times, "Preserve modification times.")
	f.BoolVarP(&raw.Owner, "owner", "o", raw.Owner, "Preserve file owner (requires privilege).")
	f.BoolVarP(&raw.Group, "group", "g", raw.Group, "Preserve file group.")
	f.BoolVarP(&raw.Dev, "devices", "D", raw.Dev, "Preserve device files and special files.")
	f.BoolVarP(&raw.Archive, "archive", "a", raw.Archive, "Archive mode: equivalent to -p -t -o -g -D.")

	f.StringArrayVar(&raw.Include, "include", nil, "Include glob, may be repeated; first match wins. Paths matching no rule are included.")
	f.StringArrayVar(&raw.Exclude, "exclude", nil, "Exclude glob, may be repeated; first match wins.")
	f.StringArrayVar(&raw.FilterRules, "filter", nil, "rsync-style +/- filter rule, may be repeated.")
	f.StringVar(&raw.MinSize, "min-size", "", "Skip files smaller than this (human-readable, e.g. 10K).")
	f.StringVar(&raw.MaxSize, "max-size", "", "Skip files larger than this (human-readable, e.g. 4G).")

	f.BoolVar(&raw.Delete, "delete", raw.Delete, "Delete destination files absent from the source.")
	f.Float64Var(&raw.DeleteCeiling, "delete-ceiling", raw.DeleteCeiling, "Refuse to delete beyond this fraction of destination entries.")
	f.BoolVar(&raw.ForceDelete, "force-delete", raw.ForceDelete, "Bypass --delete-ceiling.")
	f.BoolVar(&raw.DeleteDuring, "delete-during", raw.DeleteDuring, "Interleave deletions with transfers instead of running them last.")

	f.StringVar(&raw.Bwlimit, "bwlimit", "", "Bandwidth ceiling, human-readable (e.g. 10M). Unlimited if unset.")

	f.BoolVar(&raw.Resume, "resume", raw.Resume, "Consult the resume state file to skip already-completed files.")
	f.BoolVar(&raw.CleanState, "clean-state", raw.CleanState, "Discard any existing resume state file before starting.")

	f.BoolVar(&raw.UseCache, "use-cache", raw.UseCache, "Persist computed digests in a destination-side cache across runs.")
	f.BoolVar(&raw.ClearCache, "clear-cache", raw.ClearCache, "Drop the digest cache before planning.")

	f.IntVar(&raw.MaxErrors, "max-errors", raw.MaxErrors, "Abort after this many errors (0 disables the count threshold).")
	f.Float64Var(&raw.MaxErrorRate, "max-error-rate", raw.MaxErrorRate, "Abort once errors/seen exceeds this fraction (0 disables).")

	f.IntVarP(&raw.Workers, "workers", "j", raw.Workers, "Number of concurrent worker goroutines.")
	f.IntVar(&raw.Workers, "parallel", raw.Workers, "Alias for --workers/-j.")

	f.BoolVar(&raw.JSON, "json", raw.JSON, "Emit NDJSON events to stdout instead of a progress bar.")
	f.BoolVarP(&raw.Verbose, "verbose", "v", raw.Verbose, "Enable structured debug logging to stderr.")

	f.StringVar(&raw.PreHook, "pre-hook", "", "Shell command run before the sync starts.")
	f.StringVar(&raw.PostHook, "post-hook", "", "Shell command run after the sync completes.")

	f.BoolVar(&raw.Watch, "watch", raw.Watch, "Watch the source tree and re-sync on each settled burst of changes.")
	f.DurationVar(&raw.WatchDebounce, "watch-debounce", raw.WatchDebounce, "Quiet period after the last change event before a watch-triggered sync runs.")
}
