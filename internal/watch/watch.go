// Package watch wraps engine.Sync with an fsnotify-driven trigger: an
// outer boundary component, not part of the core (spec §1 names
// watch-mode explicitly out of scope for the sync engine itself), the
// way cie's watch.go debounces filesystem events before kicking off its
// own re-index pass.
package watch

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nijaru/sy/internal/engine"
	"github.com/nijaru/sy/internal/logging"
)

// skipDirs mirrors common VCS/build-output directories not worth
// subscribing to: watching them wastes descriptors and fires the
// debounce on noise no sync run should react to.
var skipDirs = map[string]bool{
	".git": true, "node_modules": true, ".sy-cache.db": true,
}

// Options configures one watch session.
type Options struct {
	Cfg      engine.Config
	Debounce time.Duration
	JSONOut  io.Writer
	Log      logging.Logger
}

// Run watches cfg.SourceRoot, debounces bursts of change events, and
// invokes engine.Sync on each settle until ctx is cancelled. It returns
// the error from establishing the watcher, if any; per-sync errors are
// logged and watching continues.
func Run(ctx context.Context, opts Options) error {
	log := opts.Log
	if log == nil {
		log = logging.Nop()
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = 2 * time.Second
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	watched := addDirsRecursive(watcher, opts.Cfg.SourceRoot, log)
	log.Info("watch started", logging.Int("dirs", watched))

	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					_ = watcher.Add(ev.Name)
				}
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(debounce)
			timerCh = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error", logging.Err(err))

		case <-timerCh:
			timerCh = nil
			summary, exitCode := engine.Sync(ctx, opts.Cfg, opts.JSONOut)
			log.Info("watch-triggered sync complete",
				logging.Int("exit_code", exitCode),
				logging.Int("files_transferred", int(summary.FilesTransferred)))
		}
	}
}

func addDirsRecursive(watcher *fsnotify.Watcher, root string, log logging.Logger) int {
	count := 0
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsPermission(err) {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		base := filepath.Base(path)
		if skipDirs[base] || (strings.HasPrefix(base, ".") && path != root) {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			log.Warn("watch add", logging.String("path", path), logging.Err(err))
			if os.IsPermission(err) {
				return filepath.SkipDir
			}
			return nil
		}
		count++
		return nil
	})
	return count
}
