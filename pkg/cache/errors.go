package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrPersist indicates the entry map could not be mirrored to durable storage.
	ErrPersist = errors.New("persist cache entries")

	// ErrEviction indicates a backing file could not be deleted during a sweep.
	ErrEviction = errors.New("evict cache file")
)

// PersistError describes a failed read or write of the persisted entry map.
// In-memory state stays authoritative when it occurs.
type PersistError struct {
	Key       string
	Operation string
	Err       error
}

// Error implements the error interface.
func (e *PersistError) Error() string {
	return fmt.Sprintf("%v: %s %q: %v", ErrPersist, e.Operation, e.Key, e.Err)
}

// Unwrap returns the underlying cause.
func (e *PersistError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrPersist) match.
func (e *PersistError) Is(target error) bool {
	return target == ErrPersist
}
