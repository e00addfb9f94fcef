package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. IMGCACHE_STORE_NAME.
const EnvPrefix = "IMGCACHE"

// IndexDir is the default LevelDB directory below the cache root. Namespace
// names cannot start with a dot, so it never doubles as a base directory.
const IndexDir = ".index"

// flagBindings maps command line flags to configuration keys.
var flagBindings = map[string]string{
	"name":               "store.name",
	"cache-root":         "store.cache_root",
	"ttl":                "store.ttl",
	"debug":              "store.debug",
	"file-scheme":        "store.file_scheme",
	"persistence":        "persistence.backend",
	"redis-addr":         "persistence.redis_addr",
	"leveldb-path":       "persistence.leveldb_path",
	"fetch-timeout":      "fetch.timeout",
	"fetch-max-attempts": "fetch.max_attempts",
	"log-level":          "log.level",
	"log-pretty":         "log.pretty",
	"log-file":           "log.file",
	"port":               "server.port",
}

// DefineFlags registers the flags understood by Load on fs.
func DefineFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to a configuration file (yaml, toml or json)")
	fs.String("name", "images", "Cache namespace")
	fs.String("cache-root", "", "Cache root directory (default: user cache dir)")
	fs.Duration("ttl", 72*time.Hour, "Time-to-live of cached images")
	fs.Bool("debug", false, "Verbose store logging")
	fs.Bool("file-scheme", false, "Prefix resolved paths with file://")
	fs.String("persistence", BackendLevelDB, "Persistence backend (leveldb or redis)")
	fs.String("redis-addr", "localhost:6379", "Redis address")
	fs.String("leveldb-path", "", "LevelDB directory (default: <cache-root>/.index)")
	fs.Duration("fetch-timeout", 30*time.Second, "Download timeout")
	fs.Int("fetch-max-attempts", 1, "Download attempts for server and network failures")
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.Bool("log-pretty", false, "Human-readable console logs")
	fs.String("log-file", "", "Rotated log file (default: stderr)")
	fs.Int("port", 8080, "HTTP listen port")
}

// Load reads the configuration. Values are resolved in the order flags,
// environment, file, defaults. Both path and fs are optional.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if err := bindFlags(v, fs); err != nil {
			return nil, err
		}
		if path == "" {
			if flag := fs.Lookup("config"); flag != nil {
				path = flag.Value.String()
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	applyDefaults(&cfg)

	absRoot, err := filepath.Abs(cfg.Store.CacheRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve cache root: %w", err)
	}
	cfg.Store.CacheRoot = absRoot

	if cfg.Persistence.LevelDBPath != "" {
		absIndex, err := filepath.Abs(cfg.Persistence.LevelDBPath)
		if err != nil {
			return nil, fmt.Errorf("resolve leveldb path: %w", err)
		}
		cfg.Persistence.LevelDBPath = absIndex
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.name", "images")
	v.SetDefault("store.cache_root", "")
	v.SetDefault("store.ttl", "72h")
	v.SetDefault("store.debug", false)
	v.SetDefault("store.file_scheme", false)
	v.SetDefault("store.sweep_concurrency", 8)
	v.SetDefault("persistence.backend", BackendLevelDB)
	v.SetDefault("persistence.redis_addr", "localhost:6379")
	v.SetDefault("persistence.redis_db", 0)
	v.SetDefault("persistence.redis_password", "")
	v.SetDefault("persistence.leveldb_path", "")
	v.SetDefault("fetch.timeout", "30s")
	v.SetDefault("fetch.user_agent", "offline-image-cache/0.1.0")
	v.SetDefault("fetch.max_attempts", 1)
	v.SetDefault("fetch.initial_backoff", "1s")
	v.SetDefault("fetch.max_backoff", "30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 10)
	v.SetDefault("log.compress", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.resolve_timeout", "10s")
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagBindings {
		flag := fs.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Store.CacheRoot) == "" {
		cfg.Store.CacheRoot = defaultCacheRoot()
	}
	cfg.Persistence.Backend = strings.ToLower(strings.TrimSpace(cfg.Persistence.Backend))
	if cfg.Persistence.Backend == BackendLevelDB && cfg.Persistence.LevelDBPath == "" {
		cfg.Persistence.LevelDBPath = filepath.Join(cfg.Store.CacheRoot, IndexDir)
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("invalid duration %q", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("unsupported duration type %T", v)
		}
	}
}
