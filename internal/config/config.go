// Package config loads the server's configuration: env-first via
// joeshaw/envdecode, with an optional YAML override file, modeled on the
// teacher's pkg/config/config.go generation (struct tags carrying both env
// and yaml).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host" env:"SERVER_HOST"`
	Port int    `yaml:"port" env:"SERVER_PORT"`
}

// DatabaseConfig controls the C-STORE connection.
type DatabaseConfig struct {
	Driver          string `yaml:"driver" env:"DATABASE_DRIVER"` // "memory" or "postgres"
	DSN             string `yaml:"dsn" env:"DATABASE_DSN"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	MigrateOnStart  bool   `yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
}

// LoggingConfig controls the shared pkg/logger.Logger.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`
	Format     string `yaml:"format" env:"LOG_FORMAT"`
	Output     string `yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// AuthConfig controls session lifetime, JWT signing, and anonymous mode.
type AuthConfig struct {
	JWTSecret       string `yaml:"jwt_secret" env:"AUTH_JWT_SECRET"`
	IdleTimeout     int    `yaml:"idle_timeout_seconds" env:"AUTH_IDLE_TIMEOUT_SECONDS"`
	AbsoluteTimeout int    `yaml:"absolute_timeout_seconds" env:"AUTH_ABSOLUTE_TIMEOUT_SECONDS"`
	AnonymousMode   bool   `yaml:"anonymous_mode" env:"AUTH_ANONYMOUS_MODE"`
	RedisAddr       string `yaml:"redis_addr" env:"AUTH_REDIS_ADDR"`
}

// TaskConfig controls the Task Manager/Worker Pool/Reaper, named after the
// spec.md identifiers directly.
type TaskConfig struct {
	WorkerCount           int    `yaml:"worker_count" env:"TASK_WORKER_COUNT"`
	QueueCapacity         int    `yaml:"queue_capacity" env:"TASK_QUEUE_CAPACITY"`
	ScratchRoot           string `yaml:"scratch_root" env:"TASK_SCRATCH_ROOT"`
	PushDeadlineSeconds   int    `yaml:"push_deadline_seconds" env:"TASK_PUSH_DEADLINE_SECONDS"`
	TStaleSeconds         int    `yaml:"t_stale_seconds" env:"TASK_T_STALE_SECONDS"`
	TOrphanSeconds        int    `yaml:"t_orphan_seconds" env:"TASK_T_ORPHAN_SECONDS"`
	TGracefulSeconds      int    `yaml:"t_graceful_seconds" env:"TASK_T_GRACEFUL_SECONDS"`
	DataDirGraceSeconds   int    `yaml:"data_dir_grace_seconds" env:"TASK_DATA_DIR_GRACE_SECONDS"`
	ReaperIntervalSeconds int    `yaml:"reaper_interval_seconds" env:"TASK_REAPER_INTERVAL_SECONDS"`
}

// RateLimitConfig controls the per-session rate limiter DISP applies ahead
// of AUTH.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"RATE_LIMIT_RPS"`
	Burst             int     `yaml:"burst" env:"RATE_LIMIT_BURST"`
}

// DispatchConfig controls DISP's long-poll cadence.
type DispatchConfig struct {
	AwaitPollIntervalMS int `yaml:"await_poll_interval_ms" env:"DISPATCH_AWAIT_POLL_INTERVAL_MS"`
}

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Auth      AuthConfig      `yaml:"auth"`
	Task      TaskConfig      `yaml:"task"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Database: DatabaseConfig{
			Driver:          "memory",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
			MigrateOnStart:  true,
		},
		Logging: LoggingConfig{Level: "info", Format: "text", Output: "stdout", FilePrefix: "reviewdeck"},
		Auth: AuthConfig{
			IdleTimeout:     1800,
			AbsoluteTimeout: 43200,
		},
		Task: TaskConfig{
			WorkerCount:           0, // 0 means "CPU count", resolved at wiring time.
			QueueCapacity:         256,
			ScratchRoot:           "",
			PushDeadlineSeconds:   5,
			TStaleSeconds:         120,
			TOrphanSeconds:        1800,
			TGracefulSeconds:      30,
			DataDirGraceSeconds:   3600,
			ReaperIntervalSeconds: 15,
		},
		RateLimit: RateLimitConfig{RequestsPerSecond: 50, Burst: 100},
		Dispatch:  DispatchConfig{AwaitPollIntervalMS: 2000},
	}
}

// Load loads configuration from an optional YAML file (CONFIG_FILE, or
// ./config.yaml) and then applies environment variable overrides, mirroring
// the teacher's pkg/config.Load precedence (file first, env wins).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()
	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if path == "" {
		path = "config.yaml"
	}
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// Durations returns the TaskConfig's duration fields converted from the
// second counts used in the env/yaml surface.
func (c TaskConfig) Durations() (pushDeadline, tStale, tOrphan, tGraceful, dataDirGrace, reaperInterval time.Duration) {
	return seconds(c.PushDeadlineSeconds), seconds(c.TStaleSeconds), seconds(c.TOrphanSeconds),
		seconds(c.TGracefulSeconds), seconds(c.DataDirGraceSeconds), seconds(c.ReaperIntervalSeconds)
}

// IdleTimeout and AbsoluteTimeout as time.Duration, for internal/auth.Config.
func (c AuthConfig) Durations() (idle, absolute time.Duration) {
	return seconds(c.IdleTimeout), seconds(c.AbsoluteTimeout)
}

// AwaitPollInterval converts the millisecond poll cadence into a
// time.Duration for internal/dispatch.Config.
func (c DispatchConfig) AwaitPollInterval() time.Duration {
	return time.Duration(c.AwaitPollIntervalMS) * time.Millisecond
}
