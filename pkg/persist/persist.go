// Package persist provides the durable key-value medium the image cache
// mirrors its entry map into. A backend only needs to store and return a
// single opaque blob per key.
package persist

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no blob exists for the key.
var ErrNotFound = errors.New("persist: key not found")

// Store gets and sets serialized blobs by namespaced key.
type Store interface {
	// Get returns the blob stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set replaces the blob stored under key.
	Set(ctx context.Context, key string, value []byte) error
}
