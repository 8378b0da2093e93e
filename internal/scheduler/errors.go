package scheduler

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/nijaru/sy/internal/synerr"
)

// ErrorCollector accumulates per-file errors with category and severity,
// append-only with atomic counters, as spec §5 requires for cross-worker
// communication.
type ErrorCollector struct {
	maxErrors     int
	maxErrorRate  float64

	seen   atomic.Int64
	errs   atomic.Int64
	fatal  atomic.Bool

	mu      sync.Mutex
	records []*synerr.Error
}

func NewErrorCollector(maxErrors int, maxErrorRate float64) *ErrorCollector {
	return &ErrorCollector{maxErrors: maxErrors, maxErrorRate: maxErrorRate}
}

// RecordSuccess counts one more file seen, for the error-rate denominator.
func (c *ErrorCollector) RecordSuccess() {
	c.seen.Add(1)
}

// RecordError records a failure and reports whether the collector now
// believes the sync should abort.
func (c *ErrorCollector) RecordError(err *synerr.Error) (shouldAbort bool) {
	c.seen.Add(1)
	c.errs.Add(1)

	c.mu.Lock()
	c.records = append(c.records, err)
	c.mu.Unlock()

	if err.IsFatal() {
		c.fatal.Store(true)
	}
	return c.ShouldAbort()
}

// ShouldAbort reports whether a Fatal error has arrived, or the error
// count/rate bound has been exceeded, per spec §7.
func (c *ErrorCollector) ShouldAbort() bool {
	if c.fatal.Load() {
		return true
	}
	if c.maxErrors > 0 && int(c.errs.Load()) >= c.maxErrors {
		return true
	}
	seen := c.seen.Load()
	if c.maxErrorRate > 0 && seen > 0 {
		rate := float64(c.errs.Load()) / float64(seen)
		if rate >= c.maxErrorRate {
			return true
		}
	}
	return false
}

func (c *ErrorCollector) ErrorCount() int64 { return c.errs.Load() }
func (c *ErrorCollector) SeenCount() int64  { return c.seen.Load() }

// Records returns a snapshot of the collected errors, for the final
// per-category summary.
func (c *ErrorCollector) Records() []*synerr.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*synerr.Error, len(c.records))
	copy(out, c.records)
	return out
}

// CategorySummary tallies records by category, for the exit-23 report.
func (c *ErrorCollector) CategorySummary() map[synerr.Category]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[synerr.Category]int)
	for _, r := range c.records {
		out[r.Category]++
	}
	return out
}
