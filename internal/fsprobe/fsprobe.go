// Package fsprobe exposes the filesystem-capability queries spec §4.7
// names: CoW/reflink support, same-device checks, link counts and sparse
// region enumeration, each backed by statfs/seek-hole-seek-data via
// golang.org/x/sys/unix (azcopy dependency) where the platform supports
// it. Results are cached per mount point for the duration of one
// invocation, as spec requires.
package fsprobe

import (
	"os"
	"strconv"
	"sync"
)

// Region is one allocated (offset, length) span, per sparse_regions.
type Region struct {
	Offset, Length int64
}

// Prober answers filesystem capability queries, caching per mount point.
type Prober struct {
	mu    sync.Mutex
	cow   map[string]bool
	dev   map[string]uint64
}

func New() *Prober {
	return &Prober{cow: make(map[string]bool), dev: make(map[string]uint64)}
}

// SupportsCOW reports whether the filesystem containing path supports
// copy-on-write reflink clones.
func (p *Prober) SupportsCOW(path string) bool {
	mount := mountKey(path)
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.cow[mount]; ok {
		return v
	}
	v := probeCOW(path)
	p.cow[mount] = v
	return v
}

// SameDevice reports whether a and b live on the same device, consulting
// the platform's stat information.
func (p *Prober) SameDevice(a, b string) bool {
	da, ok1 := p.deviceOf(a)
	db, ok2 := p.deviceOf(b)
	return ok1 && ok2 && da == db
}

func (p *Prober) deviceOf(path string) (uint64, bool) {
	p.mu.Lock()
	if v, ok := p.dev[path]; ok {
		p.mu.Unlock()
		return v, true
	}
	p.mu.Unlock()
	dev, ok := statDevice(path)
	if !ok {
		return 0, false
	}
	p.mu.Lock()
	p.dev[path] = dev
	p.mu.Unlock()
	return dev, true
}

// LinkCount returns the hard-link count reported for path.
func LinkCount(path string) (uint64, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return 0, err
	}
	return linkCountOf(info), nil
}

// SparseRegions enumerates allocated (offset, length) spans in path using
// SEEK_DATA/SEEK_HOLE where available. If unsupported, it returns a
// single region spanning the whole file.
func SparseRegions(path string) ([]Region, error) {
	return sparseRegionsOf(path)
}

func mountKey(path string) string {
	// the device id stands in for the mount point: every path on one
	// mounted filesystem shares it. A path that cannot be stat'd (or a
	// platform without device ids) is keyed by the path itself.
	if dev, ok := statDevice(path); ok {
		return "dev:" + strconv.FormatUint(dev, 10)
	}
	return path
}
