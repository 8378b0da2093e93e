package scanner

import (
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/xattr"

	"github.com/nijaru/sy/internal/entry"
)

// fillXattrs reads extended attributes via pkg/xattr (azcopy dependency)
// when -X was requested, and digests them with the fast hash in a
// canonical (sorted-key) encoding so the digest is stable across
// directory-listing orders.
func fillXattrs(e *entry.Entry, full string) {
	names, err := xattr.LList(full)
	if err != nil || len(names) == 0 {
		return
	}
	sort.Strings(names)

	attrs := make(map[string][]byte, len(names))
	h := xxhash.New()
	for _, name := range names {
		val, err := xattr.LGet(full, name)
		if err != nil {
			continue
		}
		attrs[name] = val
		_, _ = h.WriteString(name)
		_, _ = h.Write(val)
	}
	e.ExtendedAttrs = attrs
	e.XattrDigest = h.Sum64()
}
