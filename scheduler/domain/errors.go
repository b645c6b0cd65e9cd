package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

// Conditions a ResultHandle can be resolved with. Test with errors.Is, the
// handle's error usually wraps one of these with more context.
var (
	ErrOverloaded      = errors.New("overloaded")
	ErrTimedOut        = errors.New("timed out before dispatch")
	ErrExecutionFailed = errors.New("execution failed")
	ErrCancelled       = errors.New("cancelled")
)

// ExecutionError carries the executor's own error while still matching
// ErrExecutionFailed.
type ExecutionError struct {
	Cause error
}

func NewExecutionError(cause error) *ExecutionError {
	return &ExecutionError{Cause: cause}
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: %v", ErrExecutionFailed, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

func (e *ExecutionError) Is(target error) bool { return target == ErrExecutionFailed }

// OutcomeForError maps a handle error to the outcome it implies.
func OutcomeForError(err error) Outcome {
	switch {
	case err == nil:
		return Complete
	case errors.Is(err, ErrOverloaded):
		return Rejected
	case errors.Is(err, ErrTimedOut):
		return TimedOut
	case errors.Is(err, ErrCancelled):
		return Cancelled
	default:
		return Failed
	}
}
