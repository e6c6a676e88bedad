// Package config loads engine configuration from environment variables
// (via envdecode) with an optional YAML file as a base layer, the same
// two-tier approach the teacher platform uses for its service config.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DatabaseConfig controls the relational store (connections, jobs, ledger).
type DatabaseConfig struct {
	DSN             string `yaml:"dsn" env:"DATABASE_DSN"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	MigrateOnStart  bool   `yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
	MigrationsPath  string `yaml:"migrations_path" env:"DATABASE_MIGRATIONS_PATH"`
}

// RedisConfig controls the optional cross-process progress bus.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// OrchestratorConfig controls the sync orchestrator's concurrency model.
type OrchestratorConfig struct {
	WorkerCount      int           `yaml:"worker_count" env:"ORCHESTRATOR_WORKER_COUNT"`
	QueueMultiplier  int           `yaml:"queue_multiplier" env:"ORCHESTRATOR_QUEUE_MULTIPLIER"`
	DrainDeadline    time.Duration `yaml:"drain_deadline" env:"ORCHESTRATOR_DRAIN_DEADLINE"`
	HeartbeatEvery   time.Duration `yaml:"heartbeat_every" env:"ORCHESTRATOR_HEARTBEAT_EVERY"`
	ExternalCallTimeout time.Duration `yaml:"external_call_timeout" env:"ORCHESTRATOR_EXTERNAL_CALL_TIMEOUT"`
	SourceTransientPause time.Duration `yaml:"source_transient_pause" env:"ORCHESTRATOR_SOURCE_TRANSIENT_PAUSE"`
}

// SearchConfig controls the search operation executor.
type SearchConfig struct {
	RerankingStrictMode bool `yaml:"reranking_strict_mode" env:"SEARCH_RERANKING_STRICT_MODE"`
	RRFConstant         int  `yaml:"rrf_constant" env:"SEARCH_RRF_CONSTANT"`
}

// SchedulerConfig controls the CRON-driven scheduler (component K).
type SchedulerConfig struct {
	MinIntervalContinuous time.Duration `yaml:"min_interval_continuous" env:"SCHEDULER_MIN_INTERVAL_CONTINUOUS"`
	MinInterval           time.Duration `yaml:"min_interval" env:"SCHEDULER_MIN_INTERVAL"`
}

// Config is the top-level engine configuration.
type Config struct {
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Logging      LoggingConfig      `yaml:"logging"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Search       SearchConfig       `yaml:"search"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
}

// Defaults returns a Config populated with the documented spec defaults.
func Defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			MaxOpenConns:   10,
			MaxIdleConns:   5,
			MigrationsPath: "internal/store/migrations",
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Orchestrator: OrchestratorConfig{
			WorkerCount:          6,
			QueueMultiplier:      2,
			DrainDeadline:        30 * time.Second,
			HeartbeatEvery:       30 * time.Second,
			ExternalCallTimeout:  60 * time.Second,
			SourceTransientPause: 30 * time.Second,
		},
		Search: SearchConfig{
			RerankingStrictMode: false,
			RRFConstant:         60,
		},
		Scheduler: SchedulerConfig{
			MinIntervalContinuous: time.Second,
			MinInterval:           time.Minute,
		},
	}
}

// Load reads an optional YAML file at path (ignored if empty or missing),
// then overlays environment variables (after loading a local .env file, if
// present) via envdecode, matching the teacher's env-over-file precedence.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	_ = godotenv.Load() // best-effort; absence of .env is not an error

	if err := envdecode.Decode(cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	return cfg, nil
}
