// Package events implements the JSON event stream spec §6 names: a
// finite, newline-delimited sequence of typed objects terminated by one
// summary event, deliberately a separate stream from structured logs
// (the same split azcopy draws between its job log and its
// lifecycle-manager stdout).
package events

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Type is one of the closed set of event kinds spec §6 enumerates.
type Type string

const (
	TypeStart   Type = "start"
	TypeCreate  Type = "create"
	TypeUpdate  Type = "update"
	TypeSkip    Type = "skip"
	TypeDelete  Type = "delete"
	TypeSummary Type = "summary"
	TypeError   Type = "error"
)

// Event is one line of the stream. Fields not applicable to a given
// Type are left zero-valued and omitted from the JSON encoding.
type Event struct {
	Type      Type      `json:"type"`
	Path      string    `json:"path,omitempty"`
	Bytes     int64     `json:"bytes,omitempty"`
	Strategy  string    `json:"strategy,omitempty"`
	Category  string    `json:"category,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Summary-only fields.
	FilesTransferred int64 `json:"files_transferred,omitempty"`
	FilesSkipped     int64 `json:"files_skipped,omitempty"`
	FilesDeleted     int64 `json:"files_deleted,omitempty"`
	BytesTransferred int64 `json:"bytes_transferred,omitempty"`
	Errors           int64 `json:"errors,omitempty"`
	ExitCode         int   `json:"exit_code,omitempty"`
}

// Emitter serializes Events as NDJSON to an underlying writer, or
// silently drops them when no writer is configured (the default when
// --json is not set: the core always produces events, the CLI layer
// decides whether anything observes them).
type Emitter struct {
	mu  sync.Mutex
	w   io.Writer
	enc *json.Encoder
}

// NewEmitter wraps w. Pass nil to build a no-op emitter.
func NewEmitter(w io.Writer) *Emitter {
	e := &Emitter{w: w}
	if w != nil {
		e.enc = json.NewEncoder(w)
	}
	return e
}

func (e *Emitter) Emit(ev Event) {
	if e == nil || e.enc == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_ = e.enc.Encode(ev) // a broken stdout pipe shouldn't crash the sync
}

func (e *Emitter) Start(sourceRoot, destRoot string) {
	e.Emit(Event{Type: TypeStart, Path: sourceRoot + " -> " + destRoot})
}

func (e *Emitter) Create(path string, bytes int64, strategy string) {
	e.Emit(Event{Type: TypeCreate, Path: path, Bytes: bytes, Strategy: strategy})
}

func (e *Emitter) Update(path string, bytes int64, strategy string) {
	e.Emit(Event{Type: TypeUpdate, Path: path, Bytes: bytes, Strategy: strategy})
}

func (e *Emitter) Skip(path string) {
	e.Emit(Event{Type: TypeSkip, Path: path})
}

func (e *Emitter) Delete(path string) {
	e.Emit(Event{Type: TypeDelete, Path: path})
}

func (e *Emitter) Error(path, category, message string) {
	e.Emit(Event{Type: TypeError, Path: path, Category: category, Message: message})
}

// Summary reports the one terminal event of the stream.
type Summary struct {
	FilesTransferred int64
	FilesSkipped     int64
	FilesDeleted     int64
	BytesTransferred int64
	Errors           int64
	ExitCode         int
}

func (e *Emitter) Summary(s Summary) {
	e.Emit(Event{
		Type:             TypeSummary,
		FilesTransferred: s.FilesTransferred,
		FilesSkipped:     s.FilesSkipped,
		FilesDeleted:     s.FilesDeleted,
		BytesTransferred: s.BytesTransferred,
		Errors:           s.Errors,
		ExitCode:         s.ExitCode,
	})
}
