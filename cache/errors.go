package cache

import (
	"errors"
	"fmt"

	"github.com/roach88/cairn/fingerprint"
)

// CacheMissError is returned by Load when the entry has not been committed.
// It is the expected path that triggers recomputation.
type CacheMissError struct {
	Name string
	Hash fingerprint.Hash
	Path string
}

func (e *CacheMissError) Error() string {
	return fmt.Sprintf("cache miss for %s (%s): no metadata at %s", e.Name, e.Hash.Short(), e.Path)
}

// CacheCorruptionError is returned by Load when the sidecar exists but the
// entry cannot be read back. It indicates store damage and is not treated
// as a miss.
type CacheCorruptionError struct {
	Name   string
	Path   string
	Reason string
	Err    error
}

func (e *CacheCorruptionError) Error() string {
	msg := fmt.Sprintf("cache entry %s at %s is corrupt: %s", e.Name, e.Path, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CacheCorruptionError) Unwrap() error {
	return e.Err
}

// IsCacheMiss reports whether err wraps a CacheMissError.
func IsCacheMiss(err error) bool {
	var me *CacheMissError
	return errors.As(err, &me)
}

// IsCacheCorruption reports whether err wraps a CacheCorruptionError.
func IsCacheCorruption(err error) bool {
	var ce *CacheCorruptionError
	return errors.As(err, &ce)
}

// corrupt builds a CacheCorruptionError, keeping an existing one intact.
func corrupt(name, path, reason string, err error) error {
	var ce *CacheCorruptionError
	if errors.As(err, &ce) {
		return err
	}
	return &CacheCorruptionError{Name: name, Path: path, Reason: reason, Err: err}
}
