package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for faultline-engine.
// Configuration can come from YAML file (config.yaml) or environment
// variables. Environment variables always override YAML values. Secrets
// (passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3460"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Redis backing for the creation load-shed counter (optional)
	Redis RedisConfig `yaml:"redis"`

	// Grouping engine tuning
	Grouping GroupingConfig `yaml:"grouping"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"faultline"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"faultline_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds Redis configuration. An empty host disables Redis and
// with it the load-shed policy check.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// GroupingConfig holds the tuned constants of the grouping engine. The
// values are deliberately configurable; none of them are load-bearing for
// correctness beyond being small and positive.
type GroupingConfig struct {
	// LockTimeout bounds how long the creation slow path may wait on the
	// candidate-hash row locks before degrading to a discard.
	LockTimeout time.Duration `yaml:"lock_timeout" env:"GROUPING_LOCK_TIMEOUT" env-default:"5s"`

	// ShortIDTimeout bounds per-project short-id allocation.
	ShortIDTimeout time.Duration `yaml:"short_id_timeout" env:"GROUPING_SHORT_ID_TIMEOUT" env-default:"3s"`

	// RegressionTolerance absorbs clock and ordering jitter between racing
	// attaches so two near-simultaneous regressions don't both win.
	RegressionTolerance time.Duration `yaml:"regression_tolerance" env:"GROUPING_REGRESSION_TOLERANCE" env-default:"5s"`

	// BufferFlushInterval is how often buffered counter increments are
	// flushed to the store.
	BufferFlushInterval time.Duration `yaml:"buffer_flush_interval" env:"GROUPING_BUFFER_FLUSH_INTERVAL" env-default:"1s"`

	// CreateRatePerProject caps new-group creations per project per
	// window; 0 disables the load-shed check.
	CreateRatePerProject int `yaml:"create_rate_per_project" env:"GROUPING_CREATE_RATE_PER_PROJECT" env-default:"0"`

	// CreateRateWindow is the fixed window for CreateRatePerProject.
	CreateRateWindow time.Duration `yaml:"create_rate_window" env:"GROUPING_CREATE_RATE_WINDOW" env-default:"1s"`
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time and set on the
// returned Config. Secrets (PGPASSWORD, REDIS_PASSWORD) must come from
// environment variables (yaml:"-" fields).
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.Grouping.validate(); err != nil {
		return nil, fmt.Errorf("invalid grouping configuration: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv reads configuration from environment variables only, for
// deployments without a config.yaml.
func LoadFromEnv(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Grouping.validate(); err != nil {
		return nil, fmt.Errorf("invalid grouping configuration: %w", err)
	}

	return cfg, nil
}

func (g *GroupingConfig) validate() error {
	if g.LockTimeout <= 0 {
		return fmt.Errorf("lock_timeout must be positive, got %s", g.LockTimeout)
	}
	if g.ShortIDTimeout <= 0 {
		return fmt.Errorf("short_id_timeout must be positive, got %s", g.ShortIDTimeout)
	}
	if g.RegressionTolerance <= 0 {
		return fmt.Errorf("regression_tolerance must be positive, got %s", g.RegressionTolerance)
	}
	if g.BufferFlushInterval <= 0 {
		return fmt.Errorf("buffer_flush_interval must be positive, got %s", g.BufferFlushInterval)
	}
	if g.CreateRatePerProject < 0 {
		return fmt.Errorf("create_rate_per_project must not be negative, got %d", g.CreateRatePerProject)
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
