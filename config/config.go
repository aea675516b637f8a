// Package config loads store settings from an optional YAML file, a .env file
// and CHECKPOINT_* environment variables, in that order of precedence
// (environment wins).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"

	flowcontract "github.com/futurxlab/checkpointstore/contract"
	"github.com/futurxlab/checkpointstore/xerror"
)

const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// FileEnv names the variable pointing at the YAML config file.
const FileEnv = "CHECKPOINT_CONFIG_FILE"

// Config is the whole store configuration.
type Config struct {
	Log     Log     `yaml:"log"`
	Storage Storage `yaml:"storage"`
}

type Log struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error dev"`
}

// Storage selects and tunes the backend.
type Storage struct {
	Backend    string `yaml:"backend" validate:"required,oneof=memory sqlite redis postgres"`
	Table      string `yaml:"table" validate:"required"`
	AutoCreate bool   `yaml:"auto_create"`
	// Codec is the serde codec name new records are written with.
	Codec string `yaml:"codec" validate:"omitempty,oneof=json msgpack msgpack+zstd json+gzip"`

	SQLite   SQLite   `yaml:"sqlite"`
	Redis    Redis    `yaml:"redis"`
	Postgres Postgres `yaml:"postgres"`
	Cache    Cache    `yaml:"cache"`

	Tracing bool `yaml:"tracing"`
	// ConnectAttempts bounds the readiness retries at startup.
	ConnectAttempts uint `yaml:"connect_attempts" validate:"gte=1,lte=20"`
}

type SQLite struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
	Prefix   string `yaml:"prefix"`
}

type Postgres struct {
	DSN string `yaml:"dsn"`
}

// Cache is the in-process read cache. It cannot see writes other processes
// make, so it is refused for backends they share.
type Cache struct {
	Enabled     bool          `yaml:"enabled"`
	NumCounters int64         `yaml:"num_counters" validate:"gte=0"`
	MaxCost     int64         `yaml:"max_cost" validate:"gte=0"`
	TTL         time.Duration `yaml:"ttl" validate:"gte=0"`
}

var validate = validator.New()

// Shared reports whether other processes may write to the same backend.
func (s Storage) Shared() bool {
	return s.Backend == BackendRedis || s.Backend == BackendPostgres
}

// Default is a local sqlite store with the table created on first use.
func Default() *Config {
	return &Config{
		Log: Log{Level: "info"},
		Storage: Storage{
			Backend:         BackendSQLite,
			Table:           "checkpoints",
			AutoCreate:      true,
			Codec:           "msgpack",
			SQLite:          SQLite{Path: "checkpoints.db", BusyTimeout: 5 * time.Second},
			Redis:           Redis{Addr: "127.0.0.1:6379", Prefix: "ckpt"},
			Cache:           Cache{NumCounters: 1e5, MaxCost: 64 << 20},
			ConnectAttempts: 3,
		},
	}
}

// Load builds the configuration. A missing .env file is not an error; a
// missing file named by CHECKPOINT_CONFIG_FILE is.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path := os.Getenv(FileEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return xerror.Wrap(fmt.Errorf("failed to read config file %s: %w", path, err))
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return xerror.Wrap(fmt.Errorf("failed to parse config file %s: %w", path, err))
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Log.Level = getEnvWithDefault("CHECKPOINT_LOG_LEVEL", c.Log.Level)

	s := &c.Storage
	s.Backend = strings.ToLower(strings.TrimSpace(getEnvWithDefault("CHECKPOINT_BACKEND", s.Backend)))
	s.Table = getEnvWithDefault("CHECKPOINT_TABLE", s.Table)
	s.AutoCreate = getEnvAsBool("CHECKPOINT_AUTO_CREATE", s.AutoCreate)
	s.Codec = getEnvWithDefault("CHECKPOINT_CODEC", s.Codec)
	s.Tracing = getEnvAsBool("CHECKPOINT_TRACING", s.Tracing)
	s.ConnectAttempts = uint(getEnvAsInt("CHECKPOINT_CONNECT_ATTEMPTS", int(s.ConnectAttempts)))

	s.SQLite.Path = getEnvWithDefault("CHECKPOINT_SQLITE_PATH", s.SQLite.Path)
	s.SQLite.BusyTimeout = getEnvAsDuration("CHECKPOINT_SQLITE_BUSY_TIMEOUT", s.SQLite.BusyTimeout)

	s.Redis.Addr = getEnvWithDefault("CHECKPOINT_REDIS_ADDR", s.Redis.Addr)
	s.Redis.Password = getEnvWithDefault("CHECKPOINT_REDIS_PASSWORD", s.Redis.Password)
	s.Redis.DB = getEnvAsInt("CHECKPOINT_REDIS_DB", s.Redis.DB)
	s.Redis.Prefix = getEnvWithDefault("CHECKPOINT_REDIS_PREFIX", s.Redis.Prefix)

	s.Postgres.DSN = getEnvWithDefault("CHECKPOINT_POSTGRES_DSN", s.Postgres.DSN)

	s.Cache.Enabled = getEnvAsBool("CHECKPOINT_CACHE_ENABLED", s.Cache.Enabled)
	s.Cache.NumCounters = int64(getEnvAsInt("CHECKPOINT_CACHE_NUM_COUNTERS", int(s.Cache.NumCounters)))
	s.Cache.MaxCost = int64(getEnvAsInt("CHECKPOINT_CACHE_MAX_COST", int(s.Cache.MaxCost)))
	s.Cache.TTL = getEnvAsDuration("CHECKPOINT_CACHE_TTL", s.Cache.TTL)
}

// Validate checks struct tags plus the per-backend connection settings.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return xerror.Wrap(fmt.Errorf("%w: %s", flowcontract.ErrInvalidConfig, err))
	}

	if c.Storage.Cache.Enabled && c.Storage.Shared() {
		return xerror.Wrap(fmt.Errorf("%w: read cache cannot be enabled for shared backend %s", flowcontract.ErrInvalidConfig, c.Storage.Backend))
	}

	switch c.Storage.Backend {
	case BackendSQLite:
		if c.Storage.SQLite.Path == "" {
			return xerror.Wrap(fmt.Errorf("%w: sqlite path is required", flowcontract.ErrInvalidConfig))
		}
	case BackendRedis:
		if c.Storage.Redis.Addr == "" {
			return xerror.Wrap(fmt.Errorf("%w: redis addr is required", flowcontract.ErrInvalidConfig))
		}
	case BackendPostgres:
		if c.Storage.Postgres.DSN == "" {
			return xerror.Wrap(fmt.Errorf("%w: postgres dsn is required", flowcontract.ErrInvalidConfig))
		}
	}
	return nil
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if valueStr := os.Getenv(key); valueStr != "" {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if valueStr := os.Getenv(key); valueStr != "" {
		if value, err := strconv.ParseBool(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if valueStr := os.Getenv(key); valueStr != "" {
		if value, err := time.ParseDuration(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}
