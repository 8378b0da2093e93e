// Package scanner walks a root and emits entry.Entry records on a
// channel, the way azcopy's common/parallel.Crawl walks a directory tree
// via a worker pool draining a queue of pending directories — adapted
// here to emit entry.Entry instead of azcopy's StoredObject, and
// simplified since only local roots are scanned. Pending directories are
// taken first-in first-out by concurrent workers, so the walk is not
// depth-first and the order of emitted entries is not defined.
package scanner

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/nijaru/sy/internal/entry"
	"github.com/nijaru/sy/internal/filter"
	"github.com/nijaru/sy/internal/synerr"
)

// SymlinkMode controls how the Scanner treats symbolic links.
type SymlinkMode int

const (
	SymlinkPreserve SymlinkMode = iota
	SymlinkFollow
	SymlinkSkip
)

// Options configures one scan of one root.
type Options struct {
	Root        string
	Parallelism int
	Symlinks    SymlinkMode
	Rules       *filter.Ruleset
	WithXattr   bool
}

// Result is one emitted entry, or a non-fatal per-path scan failure.
type Result struct {
	Entry entry.Entry
	Err   *synerr.ScanError
}

// Scanner walks Options.Root and sends Results on the returned channel.
// The channel is closed once the walk completes. A failure to read the
// root itself is fatal and returned directly; per-path failures below the
// root are sent as Results and do not stop the walk.
func Scan(ctx context.Context, opts Options) (<-chan Result, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, err
	}
	info, err := os.Lstat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, os.ErrInvalid
	}

	parallelism := opts.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}

	out := make(chan Result, 256)
	pending := make(chan string, 4096)
	pending <- root

	var wg sync.WaitGroup
	var inFlight sync.WaitGroup
	inFlight.Add(1) // the root itself

	done := make(chan struct{})

	worker := func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			case dir, ok := <-pending:
				if !ok {
					return
				}
				scanDir(ctx, root, dir, opts, out, pending, &inFlight)
				inFlight.Done()
			}
		}
	}

	for i := 0; i < parallelism; i++ {
		wg.Add(1)
		go worker()
	}

	go func() {
		inFlight.Wait()
		close(pending)
		wg.Wait()
		close(out)
		close(done)
	}()

	return out, nil
}

func scanDir(ctx context.Context, root, dir string, opts Options, out chan<- Result, pending chan<- string, inFlight *sync.WaitGroup) {
	f, err := os.Open(dir)
	if err != nil {
		emitScanError(ctx, out, dir, err)
		return
	}
	names, err := f.Readdirnames(-1)
	_ = f.Close()
	if err != nil {
		emitScanError(ctx, out, dir, err)
		return
	}

	for _, name := range names {
		select {
		case <-ctx.Done():
			return
		default:
		}

		full := filepath.Join(dir, name)
		rel, err := filepath.Rel(root, full)
		if err != nil {
			emitScanError(ctx, out, full, err)
			continue
		}

		li, err := os.Lstat(full)
		if err != nil {
			emitScanError(ctx, out, full, err)
			continue
		}

		isSymlink := li.Mode()&os.ModeSymlink != 0
		statInfo := li
		if isSymlink && opts.Symlinks == SymlinkFollow {
			followed, ferr := os.Stat(full)
			if ferr != nil {
				emitScanError(ctx, out, full, ferr)
				continue
			}
			statInfo = followed
		} else if isSymlink && opts.Symlinks == SymlinkSkip {
			continue
		}

		e := buildEntry(rel, full, statInfo, isSymlink && opts.Symlinks == SymlinkPreserve, opts)

		if opts.Rules != nil && !opts.Rules.Allows(rel, e.Size, e.Kind == entry.KindDirectory) {
			continue
		}

		out <- Result{Entry: e}

		if e.Kind == entry.KindDirectory {
			inFlight.Add(1)
			select {
			case pending <- full:
			case <-ctx.Done():
				inFlight.Done()
				return
			}
		}
	}
}

func buildEntry(rel, full string, info os.FileInfo, preserveSymlink bool, opts Options) entry.Entry {
	e := entry.Entry{
		RelativePath:     rel,
		Size:             info.Size(),
		ModTime:          info.ModTime(),
		MTimeGranularity: entry.GranularityFine,
		Mode:             uint32(info.Mode().Perm()),
	}

	switch {
	case preserveSymlink:
		e.Kind = entry.KindSymlink
		if target, err := os.Readlink(full); err == nil {
			e.LinkTarget = target
		}
	case info.IsDir():
		e.Kind = entry.KindDirectory
	case info.Mode().IsRegular():
		e.Kind = entry.KindRegular
	default:
		e.Kind = entry.KindSpecial
	}

	fillPlatformMetadata(&e, full, info)

	if opts.WithXattr && e.Kind == entry.KindRegular {
		fillXattrs(&e, full)
	}

	return e
}

func emitScanError(ctx context.Context, out chan<- Result, path string, cause error) {
	select {
	case out <- Result{Err: &synerr.ScanError{Path: path, Cause: cause}}:
	case <-ctx.Done():
	}
}
