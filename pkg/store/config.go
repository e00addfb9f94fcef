package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Sternrassler/offline-image-cache/pkg/fetch"
	"github.com/Sternrassler/offline-image-cache/pkg/persist"
	"github.com/go-git/go-billy/v5"
	"github.com/rs/zerolog"
)

// DefaultTTL is the time-to-live applied when Config leaves it unset.
const DefaultTTL = 3 * 24 * time.Hour

// Common errors returned by the store.
var (
	// ErrConfig is matched by every *ConfigError.
	ErrConfig = errors.New("invalid store configuration")

	// ErrNotRestored is returned by operations called before Restore.
	ErrNotRestored = errors.New("store not restored")

	// ErrInvalidDescriptor is returned for descriptors rejected by
	// cache.Descriptor.Validate.
	ErrInvalidDescriptor = errors.New("invalid descriptor")

	// ErrNilHandler is returned when subscribing without a handler.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrDiscarded is returned by Prefetch when the cache was cleared or
	// restored while the download was in flight.
	ErrDiscarded = errors.New("download discarded after cache reset")
)

// ConfigError reports an unusable Config field.
type ConfigError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("%v: %s %s", ErrConfig, e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrConfig) match.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfig
}

// Config is applied by Restore.
type Config struct {
	// Name is the namespace. It names the base directory below the cache
	// root and the persistence key "<name>:uris". Required; a single path
	// segment not starting with a dot.
	Name string

	// ImageRemoveTimeout is the entry time-to-live in seconds
	// (default: DefaultTTL).
	ImageRemoveTimeout int

	// DebugMode enables verbose logging, including download failures.
	DebugMode bool

	// FileScheme prefixes resolved paths with "file://" for render layers
	// that do not accept bare paths.
	FileScheme bool
}

// TTL returns the configured time-to-live.
func (c Config) TTL() time.Duration {
	if c.ImageRemoveTimeout <= 0 {
		return DefaultTTL
	}
	return time.Duration(c.ImageRemoveTimeout) * time.Second
}

// Validate checks the configuration.
func (c Config) Validate() error {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return &ConfigError{Field: "name", Reason: "is required"}
	}
	if name != c.Name || strings.ContainsAny(name, `/\`) {
		return &ConfigError{Field: "name", Reason: fmt.Sprintf("%q must be a single path segment", c.Name)}
	}
	// Dot-prefixed directories below the cache root are reserved for
	// internal state such as the index.
	if strings.HasPrefix(name, ".") {
		return &ConfigError{Field: "name", Reason: fmt.Sprintf("%q must not start with a dot", c.Name)}
	}
	if c.ImageRemoveTimeout < 0 {
		return &ConfigError{Field: "imageRemoveTimeout", Reason: "must not be negative"}
	}
	return nil
}

// Fetcher downloads a resource to a path inside the store filesystem.
type Fetcher interface {
	Fetch(ctx context.Context, req fetch.Request, dst string) (int64, error)
}

// Options holds the collaborators of a Store.
type Options struct {
	// CacheRoot is the platform cache directory. Base directories of all
	// namespaces live directly below it. Required.
	CacheRoot string

	// Filesystem is rooted at CacheRoot (default: osfs.New(CacheRoot)).
	Filesystem billy.Filesystem

	// Persister mirrors the entry map. Required.
	Persister persist.Store

	// Fetcher downloads resources (default: fetch.NewHTTPFetcher with Fetch).
	Fetcher Fetcher

	// Fetch configures the default fetcher.
	Fetch fetch.Config

	// Logger is the base logger (default: global logger, component "image-store").
	Logger *zerolog.Logger

	// Clock is the time source (default: time.Now).
	Clock func() time.Time

	// SweepConcurrency bounds parallel deletions during eviction.
	SweepConcurrency int
}

// SubscribeOptions controls a single Subscribe call.
type SubscribeOptions struct {
	// Reload downloads the resource again even when a valid entry exists.
	// Subscribers are notified with the cached path first and again once
	// the download finished.
	Reload bool
}

func absRoot(root string) (string, error) {
	if strings.TrimSpace(root) == "" {
		return "", errors.New("cache root required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve cache root: %w", err)
	}
	return abs, nil
}
