package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// StageError reports a failed stage function.
type StageError struct {
	Stage string
	Err   error

	// Stack is set when the stage panicked.
	Stack []byte
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// IsStageError reports whether err is or wraps a *StageError.
func IsStageError(err error) bool {
	var se *StageError
	return errors.As(err, &se)
}

// errorStack renders err for the run's exception_stack column: the panic
// stack when a stage panicked, otherwise one line per wrapped error.
func errorStack(err error) string {
	var se *StageError
	if errors.As(err, &se) && len(se.Stack) > 0 {
		return string(se.Stack)
	}

	var lines []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		lines = append(lines, fmt.Sprintf("%T: %v", e, e))
	}
	return strings.Join(lines, "\n")
}
