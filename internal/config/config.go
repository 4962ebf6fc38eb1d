// Package config loads the control plane's configuration from a YAML file
// with environment-variable overrides, using nested sections per concern
// (server, database, scheduler).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/wilsonge/no8s-operator/internal/errors"
)

// ServerConfig configures the HTTP API surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig configures the Postgres connection.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN renders the libpq connection string for this database config.
func (d DatabaseConfig) DSN() string {
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Name, d.User, d.Password, sslmode)
}

// SchedulerConfig configures the reconciliation scheduler.
type SchedulerConfig struct {
	ReconcileIntervalSec   int `yaml:"reconcile_interval_sec"`
	MaxConcurrentReconciles int `yaml:"max_concurrent_reconciles"`
	DriftIntervalSec       int `yaml:"drift_interval_sec"`
	BackoffBaseSec         int `yaml:"backoff_base_sec"`
	BackoffCapSec          int `yaml:"backoff_cap_sec"`
	ShutdownGraceSec       int `yaml:"shutdown_grace_sec"`
}

func (s SchedulerConfig) ReconcileInterval() time.Duration {
	return time.Duration(s.ReconcileIntervalSec) * time.Second
}
func (s SchedulerConfig) DriftInterval() time.Duration {
	return time.Duration(s.DriftIntervalSec) * time.Second
}
func (s SchedulerConfig) BackoffBase() time.Duration {
	return time.Duration(s.BackoffBaseSec) * time.Second
}
func (s SchedulerConfig) BackoffCap() time.Duration {
	return time.Duration(s.BackoffCapSec) * time.Second
}
func (s SchedulerConfig) ShutdownGrace() time.Duration {
	return time.Duration(s.ShutdownGraceSec) * time.Second
}

// Config is the top-level control plane configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// Default returns the configuration with every documented default applied.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080"},
		Database: DatabaseConfig{
			Host: "localhost", Port: 5432, Name: "controlplane", User: "controlplane", SSLMode: "disable",
		},
		Scheduler: SchedulerConfig{
			ReconcileIntervalSec:    60,
			MaxConcurrentReconciles: 5,
			DriftIntervalSec:        300,
			BackoffBaseSec:          60,
			BackoffCapSec:           61440,
			ShutdownGraceSec:        30,
		},
	}
}

// Load reads path (if it exists) over the defaults, then applies
// environment variable overrides, then validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("CONTROLPLANE_CONFIG")
	}
	if path == "" {
		path = "config.yaml"
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, apperrors.Wrapf(err, apperrors.ErrorTypeInternal, "read config file %s", path)
			}
		} else if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, apperrors.Wrapf(err, apperrors.ErrorTypeValidation, "parse config file %s", path)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	strVal(&cfg.Server.Addr, "HTTP_ADDR")
	strVal(&cfg.Database.Host, "DB_HOST")
	intVal(&cfg.Database.Port, "DB_PORT")
	strVal(&cfg.Database.Name, "DB_NAME")
	strVal(&cfg.Database.User, "DB_USER")
	strVal(&cfg.Database.Password, "DB_PASSWORD")
	intVal(&cfg.Scheduler.ReconcileIntervalSec, "RECONCILE_INTERVAL_SEC")
	intVal(&cfg.Scheduler.MaxConcurrentReconciles, "MAX_CONCURRENT_RECONCILES")
	intVal(&cfg.Scheduler.DriftIntervalSec, "DRIFT_INTERVAL_SEC")
	intVal(&cfg.Scheduler.BackoffBaseSec, "BACKOFF_BASE_SEC")
	intVal(&cfg.Scheduler.BackoffCapSec, "BACKOFF_CAP_SEC")
	intVal(&cfg.Scheduler.ShutdownGraceSec, "SHUTDOWN_GRACE_SEC")
}

func strVal(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func intVal(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// Validate checks that every field is within a usable range, returning an
// ErrorTypeValidation AppError describing the first problem found.
func (c Config) Validate() error {
	switch {
	case c.Database.Host == "":
		return apperrors.New(apperrors.ErrorTypeValidation, "database.host must not be empty")
	case c.Database.Port <= 0 || c.Database.Port > 65535:
		return apperrors.New(apperrors.ErrorTypeValidation, "database.port must be between 1 and 65535")
	case c.Database.Name == "":
		return apperrors.New(apperrors.ErrorTypeValidation, "database.name must not be empty")
	case c.Scheduler.MaxConcurrentReconciles <= 0:
		return apperrors.New(apperrors.ErrorTypeValidation, "scheduler.max_concurrent_reconciles must be positive")
	case c.Scheduler.ReconcileIntervalSec <= 0:
		return apperrors.New(apperrors.ErrorTypeValidation, "scheduler.reconcile_interval_sec must be positive")
	case c.Scheduler.DriftIntervalSec <= 0:
		return apperrors.New(apperrors.ErrorTypeValidation, "scheduler.drift_interval_sec must be positive")
	case c.Scheduler.BackoffBaseSec <= 0:
		return apperrors.New(apperrors.ErrorTypeValidation, "scheduler.backoff_base_sec must be positive")
	case c.Scheduler.BackoffCapSec < c.Scheduler.BackoffBaseSec:
		return apperrors.New(apperrors.ErrorTypeValidation, "scheduler.backoff_cap_sec must be >= backoff_base_sec")
	case c.Scheduler.ShutdownGraceSec < 0:
		return apperrors.New(apperrors.ErrorTypeValidation, "scheduler.shutdown_grace_sec must not be negative")
	}
	return nil
}
