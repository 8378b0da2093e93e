// Package scheduler implements spec §4.6: a bounded worker pool drawing
// from a FIFO queue, honoring at-most-one-worker-per-path, the
// directory-before-contents / primary-before-secondary /
// transfers-before-deletions happens-before edges, bounded backpressure,
// cooperative cancellation and an error-budget abort.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/semaphore"

	"github.com/nijaru/sy/internal/synerr"
)

// maxJobRetries bounds the exponential backoff a Retryable-severity job
// failure (currently only CategoryNetwork) gets before it counts against
// the error budget like any other failure.
const maxJobRetries = 3

// jobRetryBaseDelay is the first backoff interval; it doubles each
// subsequent attempt.
const jobRetryBaseDelay = 100 * time.Millisecond

// Job is one schedulable unit of work. DirDep and PrimaryDep name a
// directory path / hard-link primary path this job must wait for,
// respectively; empty strings mean no such dependency.
type Job struct {
	Key        string // destination path; path-locked so at most one worker touches it
	IsDir      bool   // true for CreateDir jobs, which other jobs depend on via DirDep
	IsPrimary  bool   // true for the first transfer of a hard-link family
	IsDelete   bool   // true for deletion jobs, gated by the transfers-before-deletions edge
	DirDep     string
	PrimaryDep string
	Exec       func(ctx context.Context) error
}

// Pool runs a bounded set of Jobs with the ordering guarantees above.
type Pool struct {
	workers      int64
	sem          *semaphore.Weighted
	locks        *pathLocks
	errors       *ErrorCollector
	cancelled    atomic.Bool
	deleteDuring bool

	mu          sync.Mutex
	dirReady    map[string]chan struct{}
	primaryDone map[string]chan struct{}
	transfersWG sync.WaitGroup
}

func NewPool(workers int, errors *ErrorCollector, deleteDuring bool) *Pool {
	return &Pool{
		workers:      int64(workers),
		sem:          semaphore.NewWeighted(int64(workers)),
		locks:        newPathLocks(),
		errors:       errors,
		deleteDuring: deleteDuring,
		dirReady:     make(map[string]chan struct{}),
		primaryDone:  make(map[string]chan struct{}),
	}
}

// Cancel sets the cooperative cancellation flag; workers finish their
// current op at the next safe boundary and stop picking up new jobs.
func (p *Pool) Cancel() { p.cancelled.Store(true) }

func (p *Pool) Cancelled() bool { return p.cancelled.Load() }

func (p *Pool) dirChan(path string) chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.dirReady[path]
	if !ok {
		ch = make(chan struct{})
		p.dirReady[path] = ch
	}
	return ch
}

func (p *Pool) primaryChan(path string) chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.primaryDone[path]
	if !ok {
		ch = make(chan struct{})
		p.primaryDone[path] = ch
	}
	return ch
}

// Run drains jobs (already closed channel or slice wrapped by the caller)
// with bounded concurrency, honoring dependencies. It returns once every
// job has been attempted or cancellation stops the pool early.
func (p *Pool) Run(ctx context.Context, jobs <-chan Job) {
	var wg sync.WaitGroup

	for job := range jobs {
		if p.cancelled.Load() {
			continue
		}
		job := job
		if err := p.sem.Acquire(ctx, 1); err != nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer p.sem.Release(1)
			p.runOne(ctx, job)
		}()
	}

	wg.Wait()
}

// TrackTransfer must be called (Add then Done) by the caller around
// every non-delete job it submits, so deletion jobs can wait on the
// aggregate (runOne waits for it before a delete job unless
// deleteDuring is set).
func (p *Pool) TrackTransfer() func() {
	p.transfersWG.Add(1)
	return p.transfersWG.Done
}

func (p *Pool) runOne(ctx context.Context, job Job) {
	if job.DirDep != "" {
		select {
		case <-p.dirChan(job.DirDep):
		case <-ctx.Done():
			return
		}
	}
	if job.PrimaryDep != "" {
		select {
		case <-p.primaryChan(job.PrimaryDep):
		case <-ctx.Done():
			return
		}
	}
	if job.IsDelete && !p.deleteDuring {
		p.transfersWG.Wait()
	}

	unlock := p.locks.Lock(job.Key)
	defer unlock()

	if p.cancelled.Load() {
		return
	}

	err := p.execWithRetry(ctx, job)

	if job.IsDir {
		close(p.dirChan(job.Key))
	}
	if job.IsPrimary {
		close(p.primaryChan(job.Key))
	}

	if err != nil {
		se, ok := err.(*synerr.Error)
		if !ok {
			se = synerr.New(synerr.CategoryNotFound, job.Key, err)
		}
		if p.errors.RecordError(se) {
			p.Cancel()
		}
		return
	}
	p.errors.RecordSuccess()
}

// execWithRetry runs job.Exec, retrying with exponential backoff while
// the failure reports itself Retryable, up to maxJobRetries. Holding the
// path lock across the backoff is intentional: no other worker should be
// touching this key anyway.
func (p *Pool) execWithRetry(ctx context.Context, job Job) error {
	delay := jobRetryBaseDelay
	var err error
	for attempt := 0; ; attempt++ {
		err = job.Exec(ctx)
		if err == nil {
			return nil
		}
		se, ok := err.(*synerr.Error)
		if !ok || !se.IsRetryable() || attempt >= maxJobRetries {
			return err
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return err
		}
		delay *= 2
	}
}
