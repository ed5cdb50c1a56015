package audit

import (
	"errors"
	"fmt"
)

// Common sentinel errors
var (
	// ErrChainBroken indicates an entry's PrevHash does not match the
	// preceding entry's Hash.
	ErrChainBroken = errors.New("audit hash chain broken")

	// ErrHashMismatch indicates an entry's content does not match its Hash.
	ErrHashMismatch = errors.New("audit entry hash mismatch")

	// ErrOutOfOrder indicates entry timestamps are not strictly increasing.
	ErrOutOfOrder = errors.New("audit entries out of order")
)

// WriteError is returned when an entry cannot be durably appended. It is
// fatal: a decision that cannot be audited must not pass the gate.
type WriteError struct {
	Backend   string // "file", "sqlite"
	Operation string // "open", "lock", "write", "sync", etc.
	Path      string
	Cause     error
}

// Error implements the error interface.
func (e *WriteError) Error() string {
	return fmt.Sprintf("audit %s %s failed [path=%s]: %v", e.Backend, e.Operation, e.Path, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *WriteError) Unwrap() error {
	return e.Cause
}

// NewWriteError creates a new WriteError.
func NewWriteError(backend, operation, path string, cause error) *WriteError {
	return &WriteError{
		Backend:   backend,
		Operation: operation,
		Path:      path,
		Cause:     cause,
	}
}

// QueryError is returned when audit entries cannot be read or a query is
// invalid.
type QueryError struct {
	Query *Query
	Cause error
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	return fmt.Sprintf("audit query failed: %v", e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *QueryError) Unwrap() error {
	return e.Cause
}

// NewQueryError creates a new QueryError.
func NewQueryError(q *Query, cause error) *QueryError {
	return &QueryError{
		Query: q,
		Cause: cause,
	}
}

// VerifyError locates a verification failure in the trail.
type VerifyError struct {
	Line    int
	EntryID string
	Cause   error
}

// Error implements the error interface.
func (e *VerifyError) Error() string {
	return fmt.Sprintf("audit entry %s (line %d): %v", e.EntryID, e.Line, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *VerifyError) Unwrap() error {
	return e.Cause
}

// ExportError is returned when entries cannot be exported.
type ExportError struct {
	Format  string
	Entries int
	Cause   error
}

// Error implements the error interface.
func (e *ExportError) Error() string {
	return fmt.Sprintf("audit export to %s failed after %d entries: %v", e.Format, e.Entries, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *ExportError) Unwrap() error {
	return e.Cause
}

// NewExportError creates a new ExportError.
func NewExportError(format string, entries int, cause error) *ExportError {
	return &ExportError{
		Format:  format,
		Entries: entries,
		Cause:   cause,
	}
}
