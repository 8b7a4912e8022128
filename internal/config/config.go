// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	cerrors "github.com/workflowc/compiler/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the complete workflowc configuration.
type Config struct {
	Options       Options             `yaml:"options"`
	Backend       BackendConfig       `yaml:"backend"`
	Log           LogConfig           `yaml:"log"`
	Services      ServicesConfig      `yaml:"services"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// Options holds the operator-facing knobs named by the controller and
// compiler: output locations and lookup-loop cadence.
type Options struct {
	// TmpPath is the base directory for materialized OUTPUT arguments not
	// flagged store. Required.
	TmpPath string `yaml:"tmp_path"`

	// OutPath is the base directory for materialized OUTPUT arguments
	// flagged store. Required.
	OutPath string `yaml:"out_path"`

	// LookupIntervalMs is the new-submission lookup tick period.
	// Default: 2000
	LookupIntervalMs int `yaml:"lookup_interval_ms"`

	// OrphanLookupIntervalMs is the orphan-scan tick period.
	// Default: 300000
	OrphanLookupIntervalMs int `yaml:"orphan_lookup_interval_ms"`

	// LeaseTimeout bounds how long a per-submission lease is held before
	// it is considered abandoned and reclaimable.
	// Default: 30s
	LeaseTimeout time.Duration `yaml:"lease_timeout"`
}

// LookupInterval returns Options.LookupIntervalMs as a time.Duration.
func (o Options) LookupInterval() time.Duration {
	return time.Duration(o.LookupIntervalMs) * time.Millisecond
}

// OrphanLookupInterval returns Options.OrphanLookupIntervalMs as a
// time.Duration.
func (o Options) OrphanLookupInterval() time.Duration {
	return time.Duration(o.OrphanLookupIntervalMs) * time.Millisecond
}

// BackendConfig selects and configures the registry backend.
type BackendConfig struct {
	// Type is the backend type: "memory", "sqlite", or "postgres".
	// Default: memory
	Type string `yaml:"type,omitempty"`

	// SQLite contains SQLite-specific configuration.
	SQLite SQLiteConfig `yaml:"sqlite,omitempty"`

	// Postgres contains PostgreSQL-specific configuration.
	Postgres PostgresConfig `yaml:"postgres,omitempty"`
}

// SQLiteConfig contains SQLite connection settings.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string `yaml:"path,omitempty"`

	// WAL enables write-ahead logging mode.
	// Default: true
	WAL bool `yaml:"wal,omitempty"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	// ConnectionString is the PostgreSQL connection URL.
	ConnectionString string `yaml:"connection_string,omitempty"`

	// MaxOpenConns sets the maximum number of open connections.
	MaxOpenConns int `yaml:"max_open_conns,omitempty"`

	// MaxIdleConns sets the maximum number of idle connections.
	MaxIdleConns int `yaml:"max_idle_conns,omitempty"`

	// ConnMaxLifetimeSeconds sets the maximum lifetime of a connection.
	ConnMaxLifetimeSeconds int `yaml:"conn_max_lifetime_seconds,omitempty"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	// Environment: LOG_LEVEL
	// Default: info
	Level string `yaml:"level"`

	// Format sets the output format (json, text).
	// Environment: LOG_FORMAT
	// Default: json
	Format string `yaml:"format"`

	// AddSource adds source file and line information to logs.
	// Environment: LOG_SOURCE
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// ServicesConfig configures service metadata discovery.
type ServicesConfig struct {
	// Dir is the directory to glob for ServiceMetadata YAML files.
	Dir string `yaml:"dir"`

	// Glob is the doublestar pattern applied under Dir.
	// Default: **/*.yaml
	Glob string `yaml:"glob,omitempty"`

	// WatchForChanges enables fsnotify-based hot-reload.
	// Default: true
	WatchForChanges bool `yaml:"watch_for_changes"`
}

// ObservabilityConfig controls tracing and metrics collection.
type ObservabilityConfig struct {
	// Enabled activates OpenTelemetry tracing and Prometheus metrics.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// MetricsAddr is the listen address for the /metrics endpoint, serving
	// Prometheus-format output. Empty disables the listener even if
	// Enabled is true.
	MetricsAddr string `yaml:"metrics_addr,omitempty"`

	// SamplingRate is the head-sampling rate (0.0-1.0). Errors are always
	// sampled regardless of this value.
	// Default: 1.0
	SamplingRate float64 `yaml:"sampling_rate"`

	// OTLPEndpoint is loaded from otlp_endpoint or WORKFLOWC_OTLP_ENDPOINT.
	// serve does not pass it to the tracing provider, so no spans are
	// exported over OTLP.
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
}

// Default returns a Config with sensible defaults. TmpPath/OutPath are
// left empty since they are required and have no sane default.
func Default() *Config {
	return &Config{
		Options: Options{
			LookupIntervalMs:       2000,
			OrphanLookupIntervalMs: 300000,
			LeaseTimeout:           30 * time.Second,
		},
		Backend: BackendConfig{
			Type: "memory",
			SQLite: SQLiteConfig{
				WAL: true,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Services: ServicesConfig{
			Glob:            "**/*.yaml",
			WatchForChanges: true,
		},
		Observability: ObservabilityConfig{
			Enabled:      false,
			SamplingRate: 1.0,
		},
	}
}

// Load reads configuration from configPath (if non-empty), applies
// defaults to any zero-valued field, overrides with environment
// variables, and validates the result.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &cerrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, &cerrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

// applyDefaults fills in zero values with sensible defaults, so a minimal
// config file (e.g. just tmp_path/out_path) works without specifying
// every field.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Options.LookupIntervalMs == 0 {
		c.Options.LookupIntervalMs = defaults.Options.LookupIntervalMs
	}
	if c.Options.OrphanLookupIntervalMs == 0 {
		c.Options.OrphanLookupIntervalMs = defaults.Options.OrphanLookupIntervalMs
	}
	if c.Options.LeaseTimeout == 0 {
		c.Options.LeaseTimeout = defaults.Options.LeaseTimeout
	}
	if c.Backend.Type == "" {
		c.Backend.Type = defaults.Backend.Type
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}
	if c.Services.Glob == "" {
		c.Services.Glob = defaults.Services.Glob
	}
	if c.Observability.SamplingRate == 0 {
		c.Observability.SamplingRate = defaults.Observability.SamplingRate
	}
}

func (c *Config) loadFromEnv() {
	if val := os.Getenv("WORKFLOWC_TMP_PATH"); val != "" {
		c.Options.TmpPath = val
	}
	if val := os.Getenv("WORKFLOWC_OUT_PATH"); val != "" {
		c.Options.OutPath = val
	}
	if val := os.Getenv("WORKFLOWC_LOOKUP_INTERVAL_MS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Options.LookupIntervalMs = n
		}
	}
	if val := os.Getenv("WORKFLOWC_ORPHAN_LOOKUP_INTERVAL_MS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Options.OrphanLookupIntervalMs = n
		}
	}
	if val := os.Getenv("WORKFLOWC_LEASE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Options.LeaseTimeout = d
		}
	}

	if val := os.Getenv("WORKFLOWC_BACKEND"); val != "" {
		c.Backend.Type = strings.ToLower(val)
	}
	if val := os.Getenv("WORKFLOWC_SQLITE_PATH"); val != "" {
		c.Backend.SQLite.Path = val
	}
	if val := os.Getenv("WORKFLOWC_POSTGRES_DSN"); val != "" {
		c.Backend.Postgres.ConnectionString = val
	}

	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = val == "1" || strings.ToLower(val) == "true"
	}

	if val := os.Getenv("WORKFLOWC_SERVICES_DIR"); val != "" {
		c.Services.Dir = val
	}

	if val := os.Getenv("WORKFLOWC_OBSERVABILITY_ENABLED"); val != "" {
		c.Observability.Enabled = val == "1" || strings.ToLower(val) == "true"
	}
	if val := os.Getenv("WORKFLOWC_METRICS_ADDR"); val != "" {
		c.Observability.MetricsAddr = val
	}
	if val := os.Getenv("WORKFLOWC_OTLP_ENDPOINT"); val != "" {
		c.Observability.OTLPEndpoint = val
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []string

	if c.Options.TmpPath == "" {
		errs = append(errs, "options.tmp_path is required")
	}
	if c.Options.OutPath == "" {
		errs = append(errs, "options.out_path is required")
	}
	if c.Options.LookupIntervalMs <= 0 {
		errs = append(errs, fmt.Sprintf("options.lookup_interval_ms must be positive, got %d", c.Options.LookupIntervalMs))
	}
	if c.Options.OrphanLookupIntervalMs <= 0 {
		errs = append(errs, fmt.Sprintf("options.orphan_lookup_interval_ms must be positive, got %d", c.Options.OrphanLookupIntervalMs))
	}

	validBackends := map[string]bool{"memory": true, "sqlite": true, "postgres": true}
	if !validBackends[c.Backend.Type] {
		errs = append(errs, fmt.Sprintf("backend.type must be one of [memory, sqlite, postgres], got %q", c.Backend.Type))
	}
	if c.Backend.Type == "sqlite" && c.Backend.SQLite.Path == "" {
		errs = append(errs, "backend.sqlite.path is required when backend.type is sqlite")
	}
	if c.Backend.Type == "postgres" && c.Backend.Postgres.ConnectionString == "" {
		errs = append(errs, "backend.postgres.connection_string is required when backend.type is postgres")
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [trace, debug, info, warn, warning, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	if c.Services.Dir == "" {
		errs = append(errs, "services.dir is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
