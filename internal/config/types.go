// Package config loads the imgcache-server configuration from a file,
// IMGCACHE_* environment variables and command line flags.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/Sternrassler/offline-image-cache/pkg/fetch"
	"github.com/Sternrassler/offline-image-cache/pkg/logging"
	"github.com/Sternrassler/offline-image-cache/pkg/store"
)

// Persistence backends.
const (
	BackendLevelDB = "leveldb"
	BackendRedis   = "redis"
)

// Duration accepts Go duration strings ("72h") or plain seconds.
type Duration time.Duration

// DurationValue returns the time.Duration value.
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// Config is the full server configuration.
type Config struct {
	Store       StoreConfig       `mapstructure:"store"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Fetch       FetchConfig       `mapstructure:"fetch"`
	Log         LogConfig         `mapstructure:"log"`
	Server      ServerConfig      `mapstructure:"server"`
}

// StoreConfig configures the image store.
type StoreConfig struct {
	Name             string   `mapstructure:"name"`
	CacheRoot        string   `mapstructure:"cache_root"`
	TTL              Duration `mapstructure:"ttl"`
	Debug            bool     `mapstructure:"debug"`
	FileScheme       bool     `mapstructure:"file_scheme"`
	SweepConcurrency int      `mapstructure:"sweep_concurrency"`
}

// PersistenceConfig selects where the entry map is persisted.
type PersistenceConfig struct {
	Backend       string `mapstructure:"backend"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPassword string `mapstructure:"redis_password"`
	LevelDBPath   string `mapstructure:"leveldb_path"`
}

// FetchConfig configures downloads.
type FetchConfig struct {
	Timeout        Duration `mapstructure:"timeout"`
	UserAgent      string   `mapstructure:"user_agent"`
	MaxAttempts    int      `mapstructure:"max_attempts"`
	InitialBackoff Duration `mapstructure:"initial_backoff"`
	MaxBackoff     Duration `mapstructure:"max_backoff"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Pretty     bool   `mapstructure:"pretty"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	ResolveTimeout Duration `mapstructure:"resolve_timeout"`
}

// StoreSettings returns the configuration applied by store.Restore.
func (c *Config) StoreSettings() store.Config {
	return store.Config{
		Name:               c.Store.Name,
		ImageRemoveTimeout: int(c.Store.TTL.DurationValue() / time.Second),
		DebugMode:          c.Store.Debug,
		FileScheme:         c.Store.FileScheme,
	}
}

// FetchSettings returns the fetcher configuration.
func (c *Config) FetchSettings() fetch.Config {
	retry := fetch.DefaultRetryConfig()
	retry.MaxAttempts = c.Fetch.MaxAttempts
	if d := c.Fetch.InitialBackoff.DurationValue(); d > 0 {
		retry.InitialBackoff = d
	}
	if d := c.Fetch.MaxBackoff.DurationValue(); d > 0 {
		retry.MaxBackoff = d
	}

	return fetch.Config{
		Timeout:   c.Fetch.Timeout.DurationValue(),
		UserAgent: c.Fetch.UserAgent,
		Retry:     retry,
	}
}

// LogSettings returns the logger configuration.
func (c *Config) LogSettings() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.Log.Level)
	cfg.Pretty = c.Log.Pretty
	cfg.File = c.Log.File
	cfg.MaxSizeMB = c.Log.MaxSizeMB
	cfg.MaxBackups = c.Log.MaxBackups
	cfg.Compress = c.Log.Compress
	return cfg
}

// defaultCacheRoot is the platform cache directory, or ./cache when the
// platform has none.
func defaultCacheRoot() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "cache"
	}
	return filepath.Join(dir, "offline-image-cache")
}
