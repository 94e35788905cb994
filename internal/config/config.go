// Package config loads the cache server configuration from a YAML file
// with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Sternrassler/rendercache/pkg/logging"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Config is the cache server configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`

	// Token, when set, is required as a bearer token on item routes.
	Token string `yaml:"token"`

	// MaxBodyBytes bounds request bodies.
	MaxBodyBytes int64 `yaml:"maxBodyBytes"`

	Store   StoreConfig   `yaml:"store"`
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig selects and configures the item store.
type StoreConfig struct {
	// Backend is "redis" or "sqlite".
	Backend string       `yaml:"backend"`
	Redis   RedisConfig  `yaml:"redis"`
	SQLite  SQLiteConfig `yaml:"sqlite"`
}

// RedisConfig configures the Redis item store.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// SQLiteConfig configures the SQLite item store.
type SQLiteConfig struct {
	// Path is the database file. Empty uses an in-memory database.
	Path string `yaml:"path"`

	// PurgeAfter removes items older than this. Zero keeps items forever.
	PurgeAfter time.Duration `yaml:"purgeAfter"`

	// PurgeInterval is how often the purge runs.
	PurgeInterval time.Duration `yaml:"purgeInterval"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Pretty     bool   `yaml:"pretty"`
	DebugCache bool   `yaml:"debugCache"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Listen:       ":8080",
		MaxBodyBytes: 16 << 20,
		Store: StoreConfig{
			Backend: BackendRedis,
			Redis: RedisConfig{
				Addr: "localhost:6379",
				TTL:  7 * 24 * time.Hour,
			},
			SQLite: SQLiteConfig{
				Path:          "rendercache.db",
				PurgeAfter:    7 * 24 * time.Hour,
				PurgeInterval: time.Hour,
			},
		},
		Logging: LoggingConfig{
			Level:      string(logging.LevelInfo),
			DebugCache: logging.CacheDebugEnabled(),
		},
	}
}

// Load reads path (optional) over the defaults, then applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides fields from RENDERCACHE_* variables.
func applyEnv(cfg *Config) error {
	cfg.Listen = getEnv("RENDERCACHE_LISTEN", cfg.Listen)
	cfg.Token = getEnv("RENDERCACHE_TOKEN", cfg.Token)
	cfg.Store.Backend = getEnv("RENDERCACHE_STORE", cfg.Store.Backend)
	cfg.Store.Redis.Addr = getEnv("REDIS_URL", cfg.Store.Redis.Addr)
	cfg.Store.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Store.Redis.Password)
	cfg.Store.SQLite.Path = getEnv("RENDERCACHE_SQLITE_PATH", cfg.Store.SQLite.Path)
	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)

	if v := os.Getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REDIS_DB: %w", err)
		}
		cfg.Store.Redis.DB = db
	}
	if v := os.Getenv("LOG_PRETTY"); v != "" {
		pretty, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LOG_PRETTY: %w", err)
		}
		cfg.Logging.Pretty = pretty
	}
	if logging.CacheDebugEnabled() {
		cfg.Logging.DebugCache = true
	}
	return nil
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	switch c.Store.Backend {
	case BackendRedis:
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required for the redis backend")
		}
	case BackendSQLite:
	default:
		return fmt.Errorf("unknown store backend %q (want %s or %s)", c.Store.Backend, BackendRedis, BackendSQLite)
	}
	if c.MaxBodyBytes < 0 {
		return fmt.Errorf("maxBodyBytes must not be negative")
	}
	switch logging.LogLevel(c.Logging.Level) {
	case logging.LevelDebug, logging.LevelInfo, logging.LevelWarn, logging.LevelError:
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	return nil
}

// LoggingSetup returns the logging setup for this configuration.
func (c Config) LoggingSetup() logging.Config {
	return logging.Config{
		Level:      logging.LogLevel(c.Logging.Level),
		Pretty:     c.Logging.Pretty,
		Output:     os.Stderr,
		DebugCache: c.Logging.DebugCache,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
