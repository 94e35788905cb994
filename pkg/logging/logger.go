// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
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

// EnvDebugCache enables verbose logging of cache hits, misses and writes
// when set to a non-empty value.
const EnvDebugCache = "RENDERCACHE_DEBUG_CACHE"

// cacheDebug is set by Setup from Config.DebugCache.
var cacheDebug atomic.Bool

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer

	// DebugCache logs cache decisions at debug level regardless of Level.
	DebugCache bool
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:      LevelInfo,
		Pretty:     false,
		Output:     os.Stderr,
		DebugCache: CacheDebugEnabled(),
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	// The global level is the floor; cache loggers may go below the
	// configured level when cache debugging is on.
	level := parseLevel(cfg.Level)
	global := level
	if cfg.DebugCache && zerolog.DebugLevel < global {
		global = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(global)
	cacheDebug.Store(cfg.DebugCache)

	// Configure output
	var output io.Writer = cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: cfg.Output}
	}

	// Create logger with timestamp
	logger := zerolog.New(output).Level(level).With().Timestamp().Logger()

	// Set as global logger
	log.Logger = logger

	return logger
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

// NewCacheLogger creates a component logger for cache code. With cache
// debugging enabled it logs at debug level even when the rest of the
// process logs at info.
func NewCacheLogger(component string) zerolog.Logger {
	logger := NewLogger(component)
	if cacheDebug.Load() {
		logger = logger.Level(zerolog.DebugLevel)
	}
	return logger
}

// CacheDebugEnabled reports whether EnvDebugCache is set.
func CacheDebugEnabled() bool {
	return os.Getenv(EnvDebugCache) != ""
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache operations (hit/miss/stale, key, revalidate)
//   - Fetch decisions (cacheable, background revalidation scheduled)
//   - Remote backend round trips
//
// Info: Normal operation events
//   - Export summaries
//   - Server startup/shutdown
//   - Remote writes succeeding after retry
//
// Warn: Warning conditions that don't prevent operation
//   - Background revalidation failures
//   - Drain timeouts
//   - Static bailouts reported in build output
//
// Error: Error conditions requiring attention
//   - Remote cache failures (request continues as a miss)
//   - Invalid cache values
//   - Configuration errors
//
// Context Fields:
//   - component: emitting package (fetch, incremental-cache, export, cache-server)
//   - key: cache key
//   - url: fetch URL
//   - pathname: route being rendered
//   - revalidate: revalidate window in seconds
//   - layer: cache layer (memory, remote)
//   - duration: operation duration
