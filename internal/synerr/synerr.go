// Package synerr implements the closed error taxonomy of spec §7, in the
// spirit of azcopy's common.AzError: a small value type carrying a category
// and a default severity, with constructors per category.
package synerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Category is one of the closed set of error kinds spec §7 defines.
type Category int

const (
	CategoryPermission Category = iota
	CategoryNotFound
	CategoryCorruption
	CategoryNetwork
	CategoryDiskFull
	CategoryInterrupted
	CategorySafetyThreshold
	CategoryConfiguration
)

func (c Category) String() string {
	switch c {
	case CategoryPermission:
		return "Permission"
	case CategoryNotFound:
		return "NotFound"
	case CategoryCorruption:
		return "Corruption"
	case CategoryNetwork:
		return "Network"
	case CategoryDiskFull:
		return "DiskFull"
	case CategoryInterrupted:
		return "Interrupted"
	case CategorySafetyThreshold:
		return "SafetyThreshold"
	case CategoryConfiguration:
		return "Configuration"
	default:
		return "Unknown"
	}
}

// Severity indicates whether the error should abort the whole sync or just
// be recorded against the error budget for one file.
type Severity int

const (
	SeverityError Severity = iota
	SeverityFatal
	SeverityRetryable
)

// Error is the concrete value carried through the scheduler and reported
// by the ErrorCollector.
type Error struct {
	Category Category
	Severity Severity
	Path     string
	cause    error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Path, e.cause)
	}
	return fmt.Sprintf("%s: %v", e.Category, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

func defaultSeverity(c Category) Severity {
	switch c {
	case CategoryDiskFull, CategoryInterrupted, CategorySafetyThreshold, CategoryConfiguration:
		return SeverityFatal
	case CategoryNetwork:
		return SeverityRetryable
	default:
		return SeverityError
	}
}

func New(category Category, path string, cause error) *Error {
	return &Error{Category: category, Severity: defaultSeverity(category), Path: path, cause: errors.WithStack(cause)}
}

func Permission(path string, cause error) *Error { return New(CategoryPermission, path, cause) }
func NotFound(path string, cause error) *Error   { return New(CategoryNotFound, path, cause) }
func Corruption(path, expected, got string) *Error {
	return New(CategoryCorruption, path, fmt.Errorf("digest mismatch: expected %s, got %s", expected, got))
}
func Network(path string, cause error) *Error      { return New(CategoryNetwork, path, cause) }
func DiskFull(path string, cause error) *Error     { return New(CategoryDiskFull, path, cause) }
func Interrupted(cause error) *Error               { return New(CategoryInterrupted, "", cause) }
func SafetyThreshold(cause error) *Error           { return New(CategorySafetyThreshold, "", cause) }
func Configuration(cause error) *Error             { return New(CategoryConfiguration, "", cause) }

// IsFatal reports whether this error's severity should abort the sync
// outright, independent of the error budget.
func (e *Error) IsFatal() bool { return e.Severity == SeverityFatal }

// IsRetryable reports whether the scheduler should retry the operation
// with exponential backoff before counting it against the error budget.
func (e *Error) IsRetryable() bool { return e.Severity == SeverityRetryable }

// ScanError reports a path that could not be enumerated during a walk.
// Collected by the Scanner as non-fatal unless the root itself fails.
type ScanError struct {
	Path  string
	Cause error
}

func (e *ScanError) Error() string { return fmt.Sprintf("scan %s: %v", e.Path, e.Cause) }
func (e *ScanError) Unwrap() error { return e.Cause }

// CorruptionError is the fatal-after-retries error reported for a file
// whose post-transfer digest never matched, per spec §4.5.
type CorruptionError struct {
	Path             string
	Expected, Actual string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corruption: %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}
