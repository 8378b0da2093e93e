// Package filter implements the ordered include/exclude ruleset that
// spec §4.1 names as an external collaborator to the Scanner. It is
// deliberately minimal: first-match-wins glob rules plus the --filter
// "+ pattern" / "- pattern" merge-rule subset, just enough surface for
// the Scanner to have a real collaborator to call.
package filter

import (
	"path/filepath"
	"strings"
)

// Action is the verdict a matching rule carries.
type Action int

const (
	ActionInclude Action = iota
	ActionExclude
)

// Rule is one ordered glob rule.
type Rule struct {
	Pattern string
	Action  Action
}

// Ruleset is an ordered list of rules plus size bounds, evaluated
// first-match-wins; an entry matching no rule is included by default.
type Ruleset struct {
	Rules   []Rule
	MinSize int64 // 0 means unbounded
	MaxSize int64 // 0 means unbounded
}

// New builds a Ruleset from --include/--exclude glob lists and a
// "--filter" merge-rule list (each entry prefixed with '+' or '-').
func New(include, exclude []string, filterRules []string) *Ruleset {
	rs := &Ruleset{}
	for _, f := range filterRules {
		if len(f) < 2 {
			continue
		}
		switch f[0] {
		case '+':
			rs.Rules = append(rs.Rules, Rule{Pattern: strings.TrimSpace(f[1:]), Action: ActionInclude})
		case '-':
			rs.Rules = append(rs.Rules, Rule{Pattern: strings.TrimSpace(f[1:]), Action: ActionExclude})
		}
	}
	for _, p := range include {
		rs.Rules = append(rs.Rules, Rule{Pattern: p, Action: ActionInclude})
	}
	for _, p := range exclude {
		rs.Rules = append(rs.Rules, Rule{Pattern: p, Action: ActionExclude})
	}
	return rs
}

// WithSizeBounds sets the min/max size filters a regular file must fall
// within to be allowed; 0 leaves that bound unset. Returns rs for
// chaining onto New.
func (rs *Ruleset) WithSizeBounds(minSize, maxSize int64) *Ruleset {
	rs.MinSize = minSize
	rs.MaxSize = maxSize
	return rs
}

// Allows reports whether relativePath (with the given size, for regular
// files) passes the ruleset: first matching glob rule wins; size bounds
// are checked independent of glob rules and always exclude when
// violated.
func (rs *Ruleset) Allows(relativePath string, size int64, isDir bool) bool {
	if !isDir {
		if rs.MinSize > 0 && size < rs.MinSize {
			return false
		}
		if rs.MaxSize > 0 && size > rs.MaxSize {
			return false
		}
	}
	base := filepath.Base(relativePath)
	for _, r := range rs.Rules {
		if matched, _ := filepath.Match(r.Pattern, relativePath); matched {
			return r.Action == ActionInclude
		}
		if matched, _ := filepath.Match(r.Pattern, base); matched {
			return r.Action == ActionInclude
		}
	}
	return true
}
