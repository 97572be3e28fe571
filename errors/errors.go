// Package errors provides error handling for roslyn-wrapper.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Marks, so a wrapped cause can be classified with Is()
//
// Usage:
//
//	// Wrap with context
//	if err := os.Rename(src, dst); err != nil {
//	    return errors.Wrapf(err, "failed to move %s into cache", src)
//	}
//
//	// Classify without losing the cause
//	return errors.Mark(errors.Wrap(err, "download failed"), ErrNetwork)
//
//	// Check errors
//	if errors.Is(err, ErrNetwork) {
//	    // retry
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	"context"

	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New           = crdb.New
	Newf          = crdb.Newf
	Wrap          = crdb.Wrap
	Wrapf         = crdb.Wrapf
	Mark          = crdb.Mark
	CombineErrors = crdb.CombineErrors
)

// User-facing hints
var (
	WithHint = crdb.WithHint
)

// Error inspection
var (
	Is           = crdb.Is
	IsAny        = crdb.IsAny
	As           = crdb.As
	GetAllHints  = crdb.GetAllHints
	FlattenHints = crdb.FlattenHints
)

// Common sentinel errors shared by the proxy packages.
// Use these with errors.Is() for type-safe error checking.
var (
	// ErrTimeout indicates an operation ran out of its time budget
	ErrTimeout = New("operation timed out")
)

// IsTimeoutError checks if an error is or wraps ErrTimeout, or is a context deadline.
func IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	return IsAny(err, ErrTimeout, context.DeadlineExceeded)
}

// WrapTimeout marks err as a timeout while keeping its message.
func WrapTimeout(err error, msg string) error {
	return Mark(Wrap(err, msg), ErrTimeout)
}
