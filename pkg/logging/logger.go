// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	// Ignored when File is set.
	Output io.Writer

	// File enables a size-rotated log file instead of Output.
	File string

	// MaxSizeMB is the size of a log file before it is rotated.
	MaxSizeMB int

	// MaxBackups is the number of rotated files to keep.
	MaxBackups int

	// Compress gzips rotated files.
	Compress bool
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:      LevelInfo,
		Pretty:     false,
		Output:     os.Stderr,
		MaxSizeMB:  100,
		MaxBackups: 10,
		Compress:   true,
	}
}

// Setup configures the global zerolog logger. When the log file cannot be
// created, logs fall back to Output and the failure is logged once.
func Setup(cfg Config) zerolog.Logger {
	// Set global log level
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	// Configure output
	output, outErr := buildOutput(cfg)
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	// Create logger with timestamp
	logger := zerolog.New(output).With().Timestamp().Logger()

	// Set as global logger
	log.Logger = logger

	if outErr != nil {
		logger.Warn().Err(outErr).Str("path", cfg.File).Msg("Log file unavailable, falling back to stderr")
	}

	return logger
}

// buildOutput returns the rotating file writer for cfg.File, or cfg.Output.
func buildOutput(cfg Config) (io.Writer, error) {
	fallback := cfg.Output
	if fallback == nil {
		fallback = os.Stderr
	}
	if cfg.File == "" {
		return fallback, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return fallback, fmt.Errorf("create log directory: %w", err)
	}

	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
		LocalTime:  true,
	}, nil
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache lookups (hit/miss, key)
//   - Download failures (silent for subscribers)
//   - Persisted entry counts
//
// Info: Normal operation events
//   - Cache restored (entries kept, entries evicted)
//   - Cache cleared
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Persistence failures (memory stays authoritative)
//   - Eviction failures (entry dropped anyway)
//   - Corrupt persisted entries
//   - Retry attempts
//
// Error: Error conditions requiring attention
//   - Panicking subscription handlers
//   - Service unavailability
//   - Configuration errors
//
// Context Fields:
//   - uri: requested resource URI
//   - key: cache key
//   - path: local file path
//   - base_dir: namespace directory
//   - error_class: Error classification (client, server, network, io)
//   - status_code: HTTP status code
//   - duration: Download duration
