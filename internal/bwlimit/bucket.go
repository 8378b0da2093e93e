// Package bwlimit implements the shared token-bucket bandwidth shaper of
// spec §4.6/§5: a bucket interposed on Transport's byte-level read/write
// path, refilled on a ticker and drained via atomic counters so workers
// never take a lock against each other, in the spirit of azcopy's
// pacer package (see pacer/pacer_impl.go's ticker-driven allocator) but
// reduced to the single shared ceiling spec describes, instead of
// azcopy's per-request auto-tuned allocator.
package bwlimit

import (
	"context"
	"time"

	"go.uber.org/atomic"
)

// Bucket is a shared token bucket. Zero value with Capacity==0 and
// RefillPerSecond==0 means "unlimited": Acquire returns immediately.
type Bucket struct {
	capacity int64
	refill   int64 // tokens added per second (a tenth of it per 100ms tick)
	tokens   atomic.Int64

	ticker *time.Ticker
	done   chan struct{}
}

// New builds a Bucket ceiling at refillPerSecond bytes/sec with the given
// burst capacity. refillPerSecond <= 0 means unlimited.
func New(refillPerSecond, capacity int64) *Bucket {
	b := &Bucket{capacity: capacity, refill: refillPerSecond}
	if refillPerSecond <= 0 {
		return b
	}
	b.tokens.Store(capacity)
	b.ticker = time.NewTicker(100 * time.Millisecond)
	b.done = make(chan struct{})
	go b.refillLoop()
	return b
}

func (b *Bucket) refillLoop() {
	perTick := b.refill / 10 // ticking at 10Hz
	if perTick <= 0 {
		perTick = 1
	}
	for {
		select {
		case <-b.ticker.C:
			newVal := b.tokens.Add(perTick)
			if newVal > b.capacity {
				b.tokens.Store(b.capacity)
			}
		case <-b.done:
			return
		}
	}
}

// Unlimited reports whether this bucket imposes no ceiling.
func (b *Bucket) Unlimited() bool { return b.refill <= 0 }

// Acquire blocks until n tokens (bytes) are available, acquiring them in
// chunks sized to the caller's I/O buffer, as spec §4.6 specifies. It
// respects ctx cancellation.
func (b *Bucket) Acquire(ctx context.Context, n int64) error {
	if b.Unlimited() {
		return nil
	}
	for n > 0 {
		take := n
		if take > b.capacity {
			take = b.capacity
		}
		for {
			cur := b.tokens.Load()
			if cur <= 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(10 * time.Millisecond):
					continue
				}
			}
			grant := take
			if cur < grant {
				grant = cur
			}
			if b.tokens.CompareAndSwap(cur, cur-grant) {
				n -= grant
				break
			}
		}
	}
	return nil
}

// Close stops the refill goroutine.
func (b *Bucket) Close() {
	if b.ticker != nil {
		b.ticker.Stop()
		close(b.done)
	}
}
