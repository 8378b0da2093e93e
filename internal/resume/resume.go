// Package resume implements spec §4.8: a persisted per-destination-root
// record of completed paths, invalidated by options/fingerprint drift,
// written atomically (temp + rename) exactly as azcopy's job-plan files
// and credential cache persist state (common/credCache_linux.go).
package resume

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const stateFileName = ".sy-state.json"

const currentVersion = 1

// CompletedPath is one row of the resume record's completed_paths list.
type CompletedPath struct {
	Path         string `json:"path"`
	Size         int64  `json:"size"`
	ModTimeUnix  int64  `json:"mtime"`
	StrongDigest string `json:"strong_digest"`
}

// Record is the on-disk shape spec §6 names verbatim.
type Record struct {
	Version                int             `json:"version"`
	SourceFingerprint      string          `json:"source_fingerprint"`
	DestinationFingerprint string          `json:"destination_fingerprint"`
	OptionsDigest          string          `json:"options_digest"`
	StartedAt              time.Time       `json:"started_at"`
	CompletedPaths         []CompletedPath `json:"completed_paths"`
}

// State owns one Record for the lifetime of a sync invocation, appending
// completions in memory and periodically flushing to disk.
type State struct {
	path string

	mu      sync.Mutex
	record  Record
	dirty   bool
	byPath  map[string]CompletedPath
}

// Load attempts to read and validate the persisted record at
// destinationRoot. If absent, or if its fingerprints/options digest
// disagree with the current invocation, it returns a fresh State and
// discarded=true (spec §4.8: "the run proceeds as fresh").
func Load(destinationRoot, sourceFingerprint, destFingerprint, optionsDigest string) (state *State, discarded bool, err error) {
	path := filepath.Join(destinationRoot, stateFileName)
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return newState(path, sourceFingerprint, destFingerprint, optionsDigest), true, nil
		}
		return nil, false, errors.Wrapf(readErr, "read %s", path)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		// A corrupt state file is treated as absent rather than fatal;
		// the sync proceeds fresh instead of refusing to run.
		return newState(path, sourceFingerprint, destFingerprint, optionsDigest), true, nil
	}

	if record.Version != currentVersion ||
		record.SourceFingerprint != sourceFingerprint ||
		record.DestinationFingerprint != destFingerprint ||
		record.OptionsDigest != optionsDigest {
		return newState(path, sourceFingerprint, destFingerprint, optionsDigest), true, nil
	}

	s := &State{path: path, record: record, byPath: make(map[string]CompletedPath, len(record.CompletedPaths))}
	for _, cp := range record.CompletedPaths {
		s.byPath[cp.Path] = cp
	}
	return s, false, nil
}

func newState(path, sourceFingerprint, destFingerprint, optionsDigest string) *State {
	return &State{
		path: path,
		record: Record{
			Version:                currentVersion,
			SourceFingerprint:      sourceFingerprint,
			DestinationFingerprint: destFingerprint,
			OptionsDigest:          optionsDigest,
			StartedAt:              time.Now(),
		},
		byPath: make(map[string]CompletedPath),
	}
}

// IsComplete reports whether relPath was previously completed with the
// given size/mtime still matching, per the Planner's Skip-downgrade rule.
func (s *State) IsComplete(relPath string, size int64, modTime time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.byPath[relPath]
	if !ok {
		return false
	}
	return cp.Size == size && cp.ModTimeUnix == modTime.Unix()
}

// RecordCompletion appends one finished path to the in-memory log.
// Callers flush periodically (Flush) and always at shutdown.
func (s *State) RecordCompletion(relPath string, size int64, modTime time.Time, strongDigest string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := CompletedPath{Path: relPath, Size: size, ModTimeUnix: modTime.Unix(), StrongDigest: strongDigest}
	s.byPath[relPath] = cp
	s.dirty = true
}

// Flush persists the in-memory log to disk atomically (temp + rename),
// if anything has changed since the last flush.
func (s *State) Flush() error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	record := s.record
	record.CompletedPaths = make([]CompletedPath, 0, len(s.byPath))
	for _, cp := range s.byPath {
		record.CompletedPaths = append(record.CompletedPaths, cp)
	}
	s.dirty = false
	s.mu.Unlock()

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal resume state")
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", tempPath)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return errors.Wrapf(err, "rename %s -> %s", tempPath, s.path)
	}
	return nil
}

// Remove deletes the persisted record on successful completion of the
// whole sync, per spec §4.8.
func (s *State) Remove() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove %s", s.path)
	}
	return nil
}
