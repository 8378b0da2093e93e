package engine

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
)

// rootFingerprint identifies a sync endpoint across invocations well
// enough to detect "this is no longer the same source/destination": the
// resolved absolute path. Spec §4.8 leaves the exact fingerprint
// definition open; an absolute-path hash is the cheapest thing that
// actually distinguishes "same tree, re-run" from "different tree,
// coincidentally same relative arguments".
func rootFingerprint(root string) string {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = root
	}
	return fmt.Sprintf("%x", xxhash.Sum64String(abs))
}

// optionsDigest hashes every Config field that changes what a resumed
// sync would do differently, so resume state is discarded when any of
// them drift between invocations (spec §4.8: "delete mode, filters,
// size limits, verification mode").
func optionsDigest(c Config) string {
	type digestFields struct {
		Compare       int
		DeleteEnabled bool
		DeleteCeiling float64
		ForceDelete   bool
		Sparse        bool
		PreserveLinks bool
		Include       []string
		Exclude       []string
		FilterRules   []string
		MinSize       int64
		MaxSize       int64
		IntegrityMode int
	}
	df := digestFields{
		Compare:       int(c.Compare),
		DeleteEnabled: c.DeleteEnabled,
		DeleteCeiling: c.DeleteCeiling,
		ForceDelete:   c.ForceDelete,
		Sparse:        c.Sparse,
		PreserveLinks: c.PreserveLinks,
		Include:       c.Include,
		Exclude:       c.Exclude,
		FilterRules:   c.FilterRules,
		MinSize:       c.MinSize,
		MaxSize:       c.MaxSize,
		IntegrityMode: int(c.IntegrityMode),
	}
	data, _ := json.Marshal(df)
	return fmt.Sprintf("%x", xxhash.Sum64(data))
}
