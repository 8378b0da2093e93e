package engine

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/nijaru/sy/internal/bwlimit"
	"github.com/nijaru/sy/internal/entry"
	"github.com/nijaru/sy/internal/events"
	"github.com/nijaru/sy/internal/fsprobe"
	"github.com/nijaru/sy/internal/integrity"
	"github.com/nijaru/sy/internal/logging"
	"github.com/nijaru/sy/internal/plan"
	"github.com/nijaru/sy/internal/resume"
	"github.com/nijaru/sy/internal/scanner"
	"github.com/nijaru/sy/internal/scheduler"
	"github.com/nijaru/sy/internal/synerr"
	"github.com/nijaru/sy/internal/transport"
)

// Exit codes, per spec §6.
const (
	ExitSuccess        = 0
	ExitGeneral        = 1
	ExitBadArguments   = 2
	ExitPartialFailure = 23
	ExitSourceVanished = 24
	ExitInterrupted    = 130
)

// Sync runs one complete Scanner -> Planner -> Scheduler -> Transport ->
// Delta -> Integrity -> Resume pass, emitting events to jsonOut when
// cfg.JSONEvents is set (jsonOut may be nil otherwise).
func Sync(ctx context.Context, cfg Config, jsonOut io.Writer) (events.Summary, int) {
	log := logging.Nop()
	if cfg.Verbose {
		log = logging.New(true)
	}
	defer log.Sync()

	var emitter *events.Emitter
	if cfg.JSONEvents {
		emitter = events.NewEmitter(jsonOut)
	} else {
		emitter = events.NewEmitter(nil)
	}
	emitter.Start(cfg.SourceRoot, cfg.DestinationRoot)

	if cfg.SourceRoot == "" || cfg.DestinationRoot == "" {
		return events.Summary{ExitCode: ExitBadArguments}, ExitBadArguments
	}
	if _, err := os.Stat(cfg.SourceRoot); err != nil {
		return events.Summary{ExitCode: ExitSourceVanished}, ExitSourceVanished
	}

	if cfg.ClearCache {
		if err := resume.ClearCacheFile(cfg.DestinationRoot); err != nil {
			log.Warn("clear cache", logging.Err(err))
		}
	}

	var cache *resume.Cache
	if cfg.UseCache {
		var err error
		cache, err = resume.OpenCache(cfg.DestinationRoot)
		if err != nil {
			log.Warn("open digest cache, continuing without it", logging.Err(err))
		} else {
			defer cache.Close()
		}
	}

	if cfg.CleanState {
		_ = os.Remove(filepath.Join(cfg.DestinationRoot, ".sy-state.json"))
	}
	state, discarded, err := resume.Load(cfg.DestinationRoot,
		rootFingerprint(cfg.SourceRoot), rootFingerprint(cfg.DestinationRoot), optionsDigest(cfg))
	if err != nil {
		log.Warn("load resume state, starting fresh", logging.Err(err))
	}
	if discarded {
		log.Info("resume state absent or invalidated, starting fresh")
	}

	if err := os.MkdirAll(cfg.DestinationRoot, 0o755); err != nil {
		log.Error("create destination root", logging.Err(err))
		return events.Summary{ExitCode: ExitGeneral}, ExitGeneral
	}

	sourceEntries, sourceScanErrs, err := collectScan(ctx, cfg.scannerOptions(cfg.SourceRoot))
	if err != nil {
		return events.Summary{ExitCode: ExitSourceVanished}, ExitSourceVanished
	}
	destEntries, _, err := collectScan(ctx, cfg.scannerOptions(cfg.DestinationRoot))
	if err != nil {
		log.Warn("scan destination, treating as empty", logging.Err(err))
	}
	for _, se := range sourceScanErrs {
		log.Warn("scan error", logging.String("path", se.Path), logging.Err(se.Cause))
	}

	checksumFunc := makeChecksumFunc(ctx, cfg, cache)
	planResult, err := plan.Plan(sourceEntries, destEntries, cfg.planOptions(checksumFunc))
	if err != nil {
		if se, ok := err.(*synerr.Error); ok && se.Category == synerr.CategorySafetyThreshold {
			log.Error("deletion ceiling exceeded", logging.Err(err))
			emitter.Error("", se.Category.String(), se.Error())
			return events.Summary{ExitCode: ExitGeneral}, ExitGeneral
		}
		return events.Summary{ExitCode: ExitGeneral}, ExitGeneral
	}

	if cfg.ResumeEnabled {
		// resumeEnabled=false means "don't consult completed_paths for
		// Skip-downgrades", not "don't persist progress" — the State keeps
		// the real fingerprints and is always tracked so a later --resume
		// run has something to load.
		downgradeResumedTasks(planResult.Tasks, state)
	}

	if cfg.DryRun {
		summary := summarizeDryRun(planResult.Tasks, emitter)
		emitter.Summary(summary)
		return summary, ExitSuccess
	}

	bucket := bwlimit.New(cfg.BandwidthLimitBytesPerSec, maxInt64(cfg.BandwidthLimitBytesPerSec, 1<<20))
	defer bucket.Close()

	errColl := scheduler.NewErrorCollector(cfg.MaxErrors, cfg.MaxErrorRate)
	pool := scheduler.NewPool(cfg.Workers, errColl, cfg.DeleteDuring)

	srcTransport := transport.NewLocal(cfg.SourceRoot)
	dstTransport := transport.NewLocal(cfg.DestinationRoot)
	prober := fsprobe.New()

	tx := &transferor{
		cfg:          cfg,
		log:          log,
		emitter:      emitter,
		state:        state,
		cache:        cache,
		bucket:       bucket,
		prober:       prober,
		srcTransport: srcTransport,
		dstTransport: dstTransport,
		pool:         pool,
	}

	jobs := make(chan scheduler.Job, 256)
	go func() {
		defer close(jobs)
		primaryPaths := map[string]bool{}
		for _, t := range planResult.Tasks {
			if t.Action == plan.ActionHardlink {
				primaryPaths[t.PrimaryPath] = true
			}
		}
		for _, task := range planResult.Tasks {
			select {
			case <-ctx.Done():
				return
			default:
			}
			job := tx.buildJob(ctx, task, primaryPaths[task.RelativePath])
			select {
			case jobs <- job:
			case <-ctx.Done():
				return
			}
		}
	}()

	pool.Run(ctx, jobs)

	if err := state.Flush(); err != nil {
		log.Warn("flush resume state", logging.Err(err))
	}

	exitCode := ExitSuccess
	switch {
	case ctx.Err() == context.Canceled:
		exitCode = ExitInterrupted
	case errColl.ErrorCount() > 0:
		exitCode = ExitPartialFailure
	}

	if exitCode == ExitSuccess {
		if err := state.Remove(); err != nil {
			log.Warn("remove resume state on success", logging.Err(err))
		}
	}

	if _, statErr := os.Stat(cfg.SourceRoot); statErr != nil && exitCode == ExitSuccess {
		exitCode = ExitSourceVanished
	}

	summary := events.Summary{
		FilesTransferred: tx.transferredCount.Load(),
		FilesSkipped:     tx.skippedCount.Load(),
		FilesDeleted:     tx.deletedCount.Load(),
		BytesTransferred: tx.bytesTransferred.Load(),
		Errors:           errColl.ErrorCount(),
		ExitCode:         exitCode,
	}
	emitter.Summary(summary)
	return summary, exitCode
}

func collectScan(ctx context.Context, opts scanner.Options) ([]entry.Entry, []synerr.ScanError, error) {
	results, err := scanner.Scan(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	var entries []entry.Entry
	var scanErrs []synerr.ScanError
	for r := range results {
		if r.Err != nil {
			scanErrs = append(scanErrs, *r.Err)
			continue
		}
		entries = append(entries, r.Entry)
	}
	return entries, scanErrs, nil
}

// downgradeResumedTasks implements spec §4.8: every path the resume
// record claims complete, whose on-disk (size, mtime) still match,
// downgrades to Skip before the Scheduler ever sees it.
func downgradeResumedTasks(tasks []plan.Task, state *resume.State) {
	if state == nil {
		return
	}
	for i, t := range tasks {
		if t.Action != plan.ActionCopyFile && t.Action != plan.ActionUpdateFile {
			continue
		}
		if t.Source == nil {
			continue
		}
		if state.IsComplete(t.RelativePath, t.Source.Size, t.Source.ModTime) {
			tasks[i].Action = plan.ActionSkip
		}
	}
}

func summarizeDryRun(tasks []plan.Task, emitter *events.Emitter) events.Summary {
	var s events.Summary
	for _, t := range tasks {
		switch t.Action {
		case plan.ActionCopyFile:
			s.FilesTransferred++
			emitter.Create(t.RelativePath, taskSize(t), t.Strategy.String())
		case plan.ActionUpdateFile:
			s.FilesTransferred++
			emitter.Update(t.RelativePath, taskSize(t), t.Strategy.String())
		case plan.ActionSkip:
			s.FilesSkipped++
			emitter.Skip(t.RelativePath)
		case plan.ActionDelete:
			s.FilesDeleted++
			emitter.Delete(t.RelativePath)
		}
	}
	s.ExitCode = ExitSuccess
	return s
}

func taskSize(t plan.Task) int64 {
	if t.Source != nil {
		return t.Source.Size
	}
	return 0
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func makeChecksumFunc(ctx context.Context, cfg Config, cache *resume.Cache) func(relPath string, side plan.Side) (string, error) {
	return func(relPath string, side plan.Side) (string, error) {
		root := cfg.SourceRoot
		if side == plan.SideDestination {
			root = cfg.DestinationRoot
		}
		path := filepath.Join(root, relPath)
		info, err := os.Stat(path)
		if err != nil {
			return "", err
		}
		if cache != nil {
			if _, strong, ok, lookupErr := cache.Lookup(relPath, info.Size(), info.ModTime()); lookupErr == nil && ok {
				return strong, nil
			}
		}
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		defer f.Close()
		digest, err := integrity.StrongSum(f)
		if err != nil {
			return "", err
		}
		if cache != nil {
			fast, _ := integrity.FastSum(io.NewSectionReader(f, 0, info.Size()))
			_ = cache.Store(relPath, info.Size(), info.ModTime(), uint64(fast), digest.String())
		}
		return digest.String(), nil
	}
}
