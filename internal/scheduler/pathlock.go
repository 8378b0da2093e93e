// pathlock.go implements the "at-most-one worker per destination path"
// invariant of spec §3/§5, in the spirit of azcopy's
// common.ExclusiveStringMap (common/exclusiveStringMap.go) — adapted from
// a collision-detecting Add/Remove into a blocking per-key mutex, since
// here two workers legitimately queue for the same path rather than that
// being an error condition.
package scheduler

import "sync"

type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	mu  sync.Mutex
	ref int
}

func newPathLocks() *pathLocks {
	return &pathLocks{locks: make(map[string]*refMutex)}
}

// Lock blocks until no other worker holds key, then returns an unlock
// function.
func (p *pathLocks) Lock(key string) func() {
	p.mu.Lock()
	rm, ok := p.locks[key]
	if !ok {
		rm = &refMutex{}
		p.locks[key] = rm
	}
	rm.ref++
	p.mu.Unlock()

	rm.mu.Lock()

	return func() {
		rm.mu.Unlock()
		p.mu.Lock()
		rm.ref--
		if rm.ref == 0 {
			delete(p.locks, key)
		}
		p.mu.Unlock()
	}
}
