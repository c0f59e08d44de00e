package artifact

import (
	"errors"
	"fmt"

	"github.com/roach88/cairn/fingerprint"
)

var (
	// ErrNotRegistered is returned by Resolve for an unknown name.
	ErrNotRegistered = errors.New("artifact not registered")

	// ErrFrozen is returned when registering into a frozen registry or
	// declaring members on a built scope.
	ErrFrozen = errors.New("pipeline construction is complete")
)

// DuplicateArtifactError reports two different artifacts under one
// qualified name.
type DuplicateArtifactError struct {
	Name     string
	Existing fingerprint.Hash
	Incoming fingerprint.Hash
}

func (e *DuplicateArtifactError) Error() string {
	return fmt.Sprintf("duplicate artifact %q: registered hash %s, new hash %s",
		e.Name, e.Existing.Short(), e.Incoming.Short())
}

// IsDuplicateArtifact reports whether err wraps a DuplicateArtifactError.
func IsDuplicateArtifact(err error) bool {
	var de *DuplicateArtifactError
	return errors.As(err, &de)
}
