package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nullmetric/protocore/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.LRCP.Addr != ":9000" {
		t.Errorf("LRCP.Addr = %q, want %q", cfg.LRCP.Addr, ":9000")
	}

	if cfg.LRCP.SessionExpiry != 60*time.Second {
		t.Errorf("LRCP.SessionExpiry = %v, want %v", cfg.LRCP.SessionExpiry, 60*time.Second)
	}

	if cfg.LRCP.RetransmitTimeout != 3*time.Second {
		t.Errorf("LRCP.RetransmitTimeout = %v, want %v", cfg.LRCP.RetransmitTimeout, 3*time.Second)
	}

	if cfg.LRCP.SendWindow != 4000 {
		t.Errorf("LRCP.SendWindow = %d, want %d", cfg.LRCP.SendWindow, 4000)
	}

	if cfg.JobCentre.Addr != ":9001" {
		t.Errorf("JobCentre.Addr = %q, want %q", cfg.JobCentre.Addr, ":9001")
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}

	// Defaults must pass validation.
	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
lrcp:
  addr: ":9500"
  session_expiry: "30s"
  retransmit_timeout: "1s"
  send_window: 2000
jobcentre:
  addr: ":9600"
metrics:
  addr: ":9200"
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.LRCP.Addr != ":9500" {
		t.Errorf("LRCP.Addr = %q, want %q", cfg.LRCP.Addr, ":9500")
	}

	if cfg.LRCP.SessionExpiry != 30*time.Second {
		t.Errorf("LRCP.SessionExpiry = %v, want %v", cfg.LRCP.SessionExpiry, 30*time.Second)
	}

	if cfg.LRCP.RetransmitTimeout != 1*time.Second {
		t.Errorf("LRCP.RetransmitTimeout = %v, want %v", cfg.LRCP.RetransmitTimeout, 1*time.Second)
	}

	if cfg.LRCP.SendWindow != 2000 {
		t.Errorf("LRCP.SendWindow = %d, want %d", cfg.LRCP.SendWindow, 2000)
	}

	if cfg.JobCentre.Addr != ":9600" {
		t.Errorf("JobCentre.Addr = %q, want %q", cfg.JobCentre.Addr, ":9600")
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom-metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/custom-metrics")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}

	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only override lrcp.addr and log.level.
	// Everything else should inherit from defaults.
	yamlContent := `
lrcp:
  addr: ":9999"
log:
  level: "warn"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	// Overridden values.
	if cfg.LRCP.Addr != ":9999" {
		t.Errorf("LRCP.Addr = %q, want %q", cfg.LRCP.Addr, ":9999")
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	// Default values should be preserved.
	if cfg.JobCentre.Addr != ":9001" {
		t.Errorf("JobCentre.Addr = %q, want default %q", cfg.JobCentre.Addr, ":9001")
	}

	if cfg.LRCP.SendWindow != 4000 {
		t.Errorf("LRCP.SendWindow = %d, want default %d", cfg.LRCP.SendWindow, 4000)
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, "json")
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "empty lrcp addr",
			modify: func(cfg *config.Config) {
				cfg.LRCP.Addr = ""
			},
			wantErr: config.ErrEmptyLRCPAddr,
		},
		{
			name: "empty jobcentre addr",
			modify: func(cfg *config.Config) {
				cfg.JobCentre.Addr = ""
			},
			wantErr: config.ErrEmptyJobCentreAddr,
		},
		{
			name: "zero session expiry",
			modify: func(cfg *config.Config) {
				cfg.LRCP.SessionExpiry = 0
			},
			wantErr: config.ErrInvalidSessionExpiry,
		},
		{
			name: "negative retransmit timeout",
			modify: func(cfg *config.Config) {
				cfg.LRCP.RetransmitTimeout = -1 * time.Second
			},
			wantErr: config.ErrInvalidRetransmitTimeout,
		},
		{
			name: "zero send window",
			modify: func(cfg *config.Config) {
				cfg.LRCP.SendWindow = 0
			},
			wantErr: config.ErrInvalidSendWindow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "INFO", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "WARN", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "Error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
		{input: "trace", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	// Environment variable tests cannot be parallel because they modify
	// process-wide state (os.Setenv).

	yamlContent := `
lrcp:
  addr: ":9000"
log:
  level: "info"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("PROTOCORE_LRCP_ADDR", ":9700")
	t.Setenv("PROTOCORE_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.LRCP.Addr != ":9700" {
		t.Errorf("LRCP.Addr = %q, want %q (from env)", cfg.LRCP.Addr, ":9700")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (from env)", cfg.Log.Level, "debug")
	}
}

func TestLoadEnvOverridesMetrics(t *testing.T) {
	yamlContent := `
lrcp:
  addr: ":9000"
metrics:
  addr: ":9100"
  path: "/metrics"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("PROTOCORE_METRICS_ADDR", ":9300")
	t.Setenv("PROTOCORE_METRICS_PATH", "/custom")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Metrics.Addr != ":9300" {
		t.Errorf("Metrics.Addr = %q, want %q (from env)", cfg.Metrics.Addr, ":9300")
	}

	if cfg.Metrics.Path != "/custom" {
		t.Errorf("Metrics.Path = %q, want %q (from env)", cfg.Metrics.Path, "/custom")
	}
}

// writeTemp creates a temporary YAML file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "protocored.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
