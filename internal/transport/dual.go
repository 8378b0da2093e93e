package transport

import (
	"context"
	"io"
	"strings"

	"github.com/nijaru/sy/internal/entry"
)

// Dual dispatches per relative path prefix to whichever realization
// owns that subtree, the "polymorphism over transports" spec §9 calls
// for: a sync that straddles a local destination and a remote one (or
// two differently-capable local roots) sees one Transport.
type Dual struct {
	routes []dualRoute
	def    Transport
}

type dualRoute struct {
	prefix    string
	transport Transport
}

// NewDual builds a dispatcher defaulting to fallback, with prefix-routed
// overrides checked longest-prefix-first.
func NewDual(fallback Transport) *Dual {
	return &Dual{def: fallback}
}

func (d *Dual) Route(prefix string, t Transport) *Dual {
	d.routes = append(d.routes, dualRoute{prefix: prefix, transport: t})
	return d
}

func (d *Dual) pick(relPath string) Transport {
	best := d.def
	bestLen := -1
	for _, r := range d.routes {
		if strings.HasPrefix(relPath, r.prefix) && len(r.prefix) > bestLen {
			best = r.transport
			bestLen = len(r.prefix)
		}
	}
	return best
}

func (d *Dual) CreateDir(ctx context.Context, relPath string, mode uint32) error {
	return d.pick(relPath).CreateDir(ctx, relPath, mode)
}

func (d *Dual) OpenWrite(ctx context.Context, relPath string) (WriteHandle, error) {
	return d.pick(relPath).OpenWrite(ctx, relPath)
}

func (d *Dual) OpenRead(ctx context.Context, relPath string) (io.ReadSeekCloser, error) {
	return d.pick(relPath).OpenRead(ctx, relPath)
}

func (d *Dual) Symlink(ctx context.Context, relPath, target string) error {
	return d.pick(relPath).Symlink(ctx, relPath, target)
}

func (d *Dual) Hardlink(ctx context.Context, relPath, primaryRelPath string) error {
	return d.pick(relPath).Hardlink(ctx, relPath, primaryRelPath)
}

func (d *Dual) Remove(ctx context.Context, relPath string) error {
	return d.pick(relPath).Remove(ctx, relPath)
}

func (d *Dual) Stat(ctx context.Context, relPath string) (entry.Entry, bool, error) {
	return d.pick(relPath).Stat(ctx, relPath)
}

func (d *Dual) ApplyMetadata(ctx context.Context, relPath string, want entry.Entry, opts MetadataOptions) error {
	return d.pick(relPath).ApplyMetadata(ctx, relPath, want, opts)
}

// AbsPath delegates to whichever realization owns relPath, satisfying
// Addressable only where that realization does too (never for a route
// that resolves to a Remote).
func (d *Dual) AbsPath(relPath string) (string, bool) {
	if addr, ok := d.pick(relPath).(Addressable); ok {
		return addr.AbsPath(relPath)
	}
	return "", false
}
