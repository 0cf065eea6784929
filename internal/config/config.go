// Package config defines specd's configuration surface (SPEC_FULL.md §6),
// loaded from a YAML file with strict unknown-field rejection — the
// teacher's own LoadRunConfigFile pattern in
// internal/attractor/engine/config.go — layered with environment variable
// overrides for secrets that don't belong in a checked-in file (ServerKey,
// bus URL).
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RateLimit is the per-identity token bucket configuration (SPEC_FULL.md §6).
type RateLimit struct {
	Capacity      int     `yaml:"capacity"`
	RefillPerSec  float64 `yaml:"refill_per_sec"`
	WindowMS      int     `yaml:"window_ms"`
}

// Bus is the External Bus Adapter configuration.
type Bus struct {
	URL             string `yaml:"url"`
	Prefix          string `yaml:"prefix"`
	ReconnectBaseMS int    `yaml:"reconnect_base_ms"`
	MaxAttempts     int    `yaml:"max_attempts"`
}

// Config is the full configuration surface from SPEC_FULL.md §6.
type Config struct {
	WorkDir           string    `yaml:"workdir"`
	ValidatorBinary   string    `yaml:"validator_binary"`
	ProjectorBinary   string    `yaml:"projector_binary"`
	ToolTimeoutMS     int       `yaml:"tool_timeout_ms"`
	AnalysisTimeoutMS int       `yaml:"analysis_timeout_ms"`
	MaxConcurrency    int       `yaml:"max_concurrency"`

	HeartbeatIntervalMS int `yaml:"heartbeat_interval_ms"`
	MaxConnections      int `yaml:"max_connections"`

	RateLimit RateLimit `yaml:"rate_limit"`
	Bus       Bus       `yaml:"bus"`

	TicketTTLMinutes int `yaml:"ticket_ttl_minutes"`

	// ServerKey is the HMAC secret. Mandatory in production; if empty at
	// startup the system generates one and logs a warning (SPEC_FULL.md
	// §4.5) rather than refusing to start, since local/dev use is common.
	ServerKey string `yaml:"server_key"`

	// WorkspaceSweepCron is a robfig/cron "@every" expression controlling
	// how often the Spec Engine's workspace stale-file sweep runs.
	WorkspaceSweepCron string `yaml:"workspace_sweep_cron"`

	// StorePath selects the store backend: empty runs the in-memory store
	// (tests, single-process local use); non-empty opens a
	// modernc.org/sqlite database at that path for durable storage.
	StorePath string `yaml:"store_path"`

	// Production toggles obs.NewLogger's encoder: JSON for production,
	// console for local/dev runs.
	Production bool `yaml:"production"`

	// Addr is the httpapi listener address.
	Addr string `yaml:"addr"`

	// EnforceTickets requires a valid plan-hash ticket on every fragment
	// upsert when true (SPEC_FULL.md §4.5).
	EnforceTickets bool `yaml:"enforce_tickets"`
}

// Default returns a Config with SPEC_FULL.md §6's documented defaults.
func Default() Config {
	return Config{
		WorkDir:             "./workdir",
		ValidatorBinary:     "cue",
		ProjectorBinary:     "cue",
		ToolTimeoutMS:       10_000,
		AnalysisTimeoutMS:   750,
		MaxConcurrency:      4,
		HeartbeatIntervalMS: 30_000,
		MaxConnections:      10_000,
		RateLimit: RateLimit{
			Capacity:     10,
			RefillPerSec: 1,
			WindowMS:     10_000,
		},
		Bus: Bus{
			Prefix:          "specd",
			ReconnectBaseMS: 2_000,
			MaxAttempts:     10,
		},
		TicketTTLMinutes:   30,
		WorkspaceSweepCron: "@every 5m",
		Addr:               "127.0.0.1:8080",
	}
}

// Load reads a YAML config file into Default(), applies environment
// overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := decodeYAMLStrict(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	if err := validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAMLStrict(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("multiple yaml documents are not allowed")
		}
		return err
	}
	return nil
}

// applyEnvOverrides layers environment variables over file-sourced values,
// grounded on internal/llmclient/env.go's env-driven construction.
func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("SPECD_SERVER_KEY"); ok {
		cfg.ServerKey = v
	}
	if v, ok := os.LookupEnv("SPECD_BUS_URL"); ok {
		cfg.Bus.URL = v
	}
	if v, ok := os.LookupEnv("SPECD_WORKDIR"); ok {
		cfg.WorkDir = v
	}
}

func validate(cfg *Config) error {
	if cfg.MaxConcurrency <= 0 {
		return fmt.Errorf("max_concurrency must be positive, got %d", cfg.MaxConcurrency)
	}
	if cfg.TicketTTLMinutes <= 0 || cfg.TicketTTLMinutes > 24*60 {
		return fmt.Errorf("ticket_ttl_minutes must be in (0, 1440], got %d", cfg.TicketTTLMinutes)
	}
	if cfg.WorkDir == "" {
		return fmt.Errorf("workdir is required")
	}
	return nil
}

// TicketTTL returns the configured ticket lifetime as a time.Duration.
func (c Config) TicketTTL() time.Duration {
	return time.Duration(c.TicketTTLMinutes) * time.Minute
}

// ToolTimeout returns the validate/export tool timeout as a time.Duration.
func (c Config) ToolTimeout() time.Duration {
	return time.Duration(c.ToolTimeoutMS) * time.Millisecond
}

// AnalysisTimeout returns the short analysis-call timeout as a time.Duration.
func (c Config) AnalysisTimeout() time.Duration {
	return time.Duration(c.AnalysisTimeoutMS) * time.Millisecond
}

// HeartbeatInterval returns the fabric ping cadence as a time.Duration.
func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMS) * time.Millisecond
}
