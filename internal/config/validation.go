package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Validate checks the configuration after defaults were applied.
func (c *Config) Validate() error {
	if err := c.StoreSettings().Validate(); err != nil {
		return newFieldError("store.name", err.Error())
	}

	ttl := c.Store.TTL.DurationValue()
	if ttl < time.Second {
		return newFieldError("store.ttl", "must be at least one second")
	}
	if ttl%time.Second != 0 {
		return newFieldError("store.ttl", "must be a whole number of seconds")
	}
	if c.Store.SweepConcurrency < 1 {
		return newFieldError("store.sweep_concurrency", "must be positive")
	}

	switch c.Persistence.Backend {
	case BackendLevelDB:
		if c.Persistence.LevelDBPath == "" {
			return newFieldError("persistence.leveldb_path", "is required")
		}
		// ClearStore removes the whole base directory.
		if within(c.Persistence.LevelDBPath, filepath.Join(c.Store.CacheRoot, c.Store.Name)) {
			return newFieldError("persistence.leveldb_path", "must not be inside the store base directory")
		}
	case BackendRedis:
		if c.Persistence.RedisAddr == "" {
			return newFieldError("persistence.redis_addr", "is required")
		}
	default:
		return newFieldError("persistence.backend", fmt.Sprintf("unsupported backend %q", c.Persistence.Backend))
	}

	if c.Fetch.Timeout.DurationValue() <= 0 {
		return newFieldError("fetch.timeout", "must be positive")
	}
	if c.Fetch.MaxAttempts < 1 {
		return newFieldError("fetch.max_attempts", "must be at least 1")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return newFieldError("server.port", "must be between 1 and 65535")
	}
	if c.Server.ResolveTimeout.DurationValue() <= 0 {
		return newFieldError("server.resolve_timeout", "must be positive")
	}

	return nil
}

// within reports whether path is dir or lies below it.
func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
