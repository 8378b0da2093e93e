package plan

import "github.com/nijaru/sy/internal/entry"

// indexedEntry wraps an entry.Entry with the "have I already been
// reconciled against the other side" flag azcopy's storedObject.haveSeen
// plays in cmd/syncComparator.go.
type indexedEntry struct {
	entry.Entry
	haveSeen bool
}

// objectIndexer accumulates entries keyed by relative path, the same
// role azcopy's objectIndexer plays: it can be filled incrementally while
// one side is scanned, then walked (or consulted) while the other side
// is scanned. See cmd/syncIndexer.go.
type objectIndexer struct {
	byPath map[string]indexedEntry
}

func newObjectIndexer() *objectIndexer {
	return &objectIndexer{byPath: make(map[string]indexedEntry)}
}

func (i *objectIndexer) store(e entry.Entry) {
	i.byPath[e.RelativePath] = indexedEntry{Entry: e}
}

func (i *objectIndexer) get(relPath string) (indexedEntry, bool) {
	v, ok := i.byPath[relPath]
	return v, ok
}

func (i *objectIndexer) markSeen(relPath string) {
	if v, ok := i.byPath[relPath]; ok {
		v.haveSeen = true
		i.byPath[relPath] = v
	}
}

// remaining returns every entry never marked seen — i.e. present on this
// side but absent from the other, used to plan deletions (or, for the
// "destination enumerated first" ordering, to surface leftover
// destination-only entries).
func (i *objectIndexer) remaining() []entry.Entry {
	out := make([]entry.Entry, 0, len(i.byPath))
	for _, v := range i.byPath {
		if !v.haveSeen {
			out = append(out, v.Entry)
		}
	}
	return out
}
