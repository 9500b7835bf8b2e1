// Package config manages protocored daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete protocored configuration.
type Config struct {
	LRCP      LRCPConfig      `koanf:"lrcp"`
	JobCentre JobCentreConfig `koanf:"jobcentre"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Log       LogConfig       `koanf:"log"`
}

// LRCPConfig holds the LRCP server's bind address and protocol timing
// constants. The timing constants are exposed here rather than hardcoded
// so a deployment can tune them for its network without a rebuild.
// Validate checks only that each one is positive; it does not check
// their values against one another.
type LRCPConfig struct {
	// Addr is the UDP listen address (e.g., ":9000").
	Addr string `koanf:"addr"`

	// SessionExpiry is how long a session may sit idle before it is
	// silently destroyed.
	SessionExpiry time.Duration `koanf:"session_expiry"`

	// RetransmitTimeout is how long an unacknowledged byte range waits
	// before the session resends it.
	RetransmitTimeout time.Duration `koanf:"retransmit_timeout"`

	// SendWindow caps the number of unacknowledged bytes a session may
	// have in flight at once.
	SendWindow int `koanf:"send_window"`
}

// JobCentreConfig holds the Job Centre server's bind address.
type JobCentreConfig struct {
	// Addr is the TCP listen address (e.g., ":9001").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration. The
// same listener also serves the admin /status endpoint.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults. The
// LRCP timing defaults match the protocol's own constants (session expiry
// 60s, retransmit timeout 3s, send window 4000 bytes).
func DefaultConfig() *Config {
	return &Config{
		LRCP: LRCPConfig{
			Addr:              ":9000",
			SessionExpiry:     60 * time.Second,
			RetransmitTimeout: 3 * time.Second,
			SendWindow:        4000,
		},
		JobCentre: JobCentreConfig{
			Addr: ":9001",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for protocored
// configuration. Variables are named PROTOCORE_<section>_<key>, e.g.,
// PROTOCORE_LRCP_ADDR.
const envPrefix = "PROTOCORE_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (PROTOCORE_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	PROTOCORE_LRCP_ADDR         -> lrcp.addr
//	PROTOCORE_JOBCENTRE_ADDR    -> jobcentre.addr
//	PROTOCORE_METRICS_ADDR      -> metrics.addr
//	PROTOCORE_METRICS_PATH      -> metrics.path
//	PROTOCORE_LOG_LEVEL         -> log.level
//	PROTOCORE_LOG_FORMAT        -> log.format
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load defaults first.
	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	// Load YAML file on top of defaults.
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	// Load environment variable overrides on top of YAML.
	// PROTOCORE_LRCP_ADDR -> lrcp.addr (strip prefix, lowercase, first _ -> .).
	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms PROTOCORE_LRCP_SESSION_EXPIRY -> lrcp.session_expiry.
// Strips the PROTOCORE_ prefix, lowercases, and replaces the first _ (the
// one between section and key) with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"lrcp.addr":               defaults.LRCP.Addr,
		"lrcp.session_expiry":     defaults.LRCP.SessionExpiry.String(),
		"lrcp.retransmit_timeout": defaults.LRCP.RetransmitTimeout.String(),
		"lrcp.send_window":        defaults.LRCP.SendWindow,
		"jobcentre.addr":          defaults.JobCentre.Addr,
		"metrics.addr":            defaults.Metrics.Addr,
		"metrics.path":            defaults.Metrics.Path,
		"log.level":               defaults.Log.Level,
		"log.format":              defaults.Log.Format,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyLRCPAddr indicates the LRCP listen address is empty.
	ErrEmptyLRCPAddr = errors.New("lrcp.addr must not be empty")

	// ErrEmptyJobCentreAddr indicates the Job Centre listen address is empty.
	ErrEmptyJobCentreAddr = errors.New("jobcentre.addr must not be empty")

	// ErrInvalidSessionExpiry indicates the LRCP session expiry is invalid.
	ErrInvalidSessionExpiry = errors.New("lrcp.session_expiry must be > 0")

	// ErrInvalidRetransmitTimeout indicates the LRCP retransmit timeout is invalid.
	ErrInvalidRetransmitTimeout = errors.New("lrcp.retransmit_timeout must be > 0")

	// ErrInvalidSendWindow indicates the LRCP send window is invalid.
	ErrInvalidSendWindow = errors.New("lrcp.send_window must be > 0")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.LRCP.Addr == "" {
		return ErrEmptyLRCPAddr
	}

	if cfg.JobCentre.Addr == "" {
		return ErrEmptyJobCentreAddr
	}

	if cfg.LRCP.SessionExpiry <= 0 {
		return ErrInvalidSessionExpiry
	}

	if cfg.LRCP.RetransmitTimeout <= 0 {
		return ErrInvalidRetransmitTimeout
	}

	if cfg.LRCP.SendWindow <= 0 {
		return ErrInvalidSendWindow
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
