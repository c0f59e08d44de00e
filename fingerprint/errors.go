package fingerprint

import (
	"errors"
	"fmt"
)

// HashingError reports an argument value that has no canonicalization rule.
// It aborts the stage: caching under an incomplete key could return a wrong
// result later.
type HashingError struct {
	// Stage is the qualified stage name ("module.name"), when known.
	Stage string

	// Arg is the argument name. Path locates the offending value inside it.
	Arg  string
	Path string

	// Type is the Go type that could not be canonicalized.
	Type string

	Reason string
}

func (e *HashingError) Error() string {
	loc := e.Arg
	if e.Path != "" {
		loc += e.Path
	}
	msg := fmt.Sprintf("cannot hash argument %q", loc)
	if e.Stage != "" {
		msg = fmt.Sprintf("stage %s: %s", e.Stage, msg)
	}
	if e.Type != "" {
		msg += fmt.Sprintf(" of type %s", e.Type)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// IsHashingError reports whether err wraps a HashingError.
func IsHashingError(err error) bool {
	var he *HashingError
	return errors.As(err, &he)
}
