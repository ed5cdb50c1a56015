package engine

import (
	"errors"
	"fmt"
)

// Common sentinel errors
var (
	// ErrContextCancelled indicates the evaluation context was cancelled.
	ErrContextCancelled = errors.New("evaluation context cancelled")
)

// EvaluationError is raised when a rule cannot be evaluated at all, as
// opposed to evaluating and failing.
type EvaluationError struct {
	RuleID  string
	Message string
	Cause   error
}

// Error returns the error message.
func (e *EvaluationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("rule %s: %s: %v", e.RuleID, e.Message, e.Cause)
	}
	return fmt.Sprintf("rule %s: %s", e.RuleID, e.Message)
}

// Unwrap returns the underlying cause.
func (e *EvaluationError) Unwrap() error {
	return e.Cause
}
