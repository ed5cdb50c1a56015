package evidence

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a source-level loading failure.
type ErrorKind string

const (
	// ErrAbsent means the referenced file or section does not exist.
	ErrAbsent ErrorKind = "absent"

	// ErrCorrupt means the file exists but failed to parse as a whole.
	ErrCorrupt ErrorKind = "corrupt"

	// ErrUnreadable means the file exists but could not be read.
	ErrUnreadable ErrorKind = "unreadable"
)

// Error is the structured error raised for a source that could not be
// loaded. It is scoped to one file and never aborts the whole evaluation.
type Error struct {
	Path   string    `json:"path"`
	Kind   ErrorKind `json:"kind"`
	Reason string    `json:"reason"`
	Cause  error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("evidence %s [path=%s]: %s: %v", e.Kind, e.Path, e.Reason, e.Cause)
	}
	return fmt.Sprintf("evidence %s [path=%s]: %s", e.Kind, e.Path, e.Reason)
}

// Unwrap returns the underlying cause error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Status maps the error kind to the source status it produces.
func (e *Error) Status() Status {
	switch e.Kind {
	case ErrAbsent:
		return StatusAbsent
	case ErrUnreadable:
		return StatusUnreadable
	default:
		return StatusCorrupt
	}
}

// NewError creates a new evidence Error.
func NewError(path string, kind ErrorKind, reason string, cause error) *Error {
	return &Error{
		Path:   path,
		Kind:   kind,
		Reason: reason,
		Cause:  cause,
	}
}

// IsAbsent reports whether err is an evidence error of kind ErrAbsent.
func IsAbsent(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == ErrAbsent
}
