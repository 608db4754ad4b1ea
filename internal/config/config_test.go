package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/blahgeek/peervpn/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Listen.Addr != ":7000" {
		t.Errorf("Listen.Addr = %q, want %q", cfg.Listen.Addr, ":7000")
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

	if cfg.Peer.PeerSlots != 64 {
		t.Errorf("Peer.PeerSlots = %d, want 64", cfg.Peer.PeerSlots)
	}

	if cfg.Peer.AuthSlots != 16 {
		t.Errorf("Peer.AuthSlots = %d, want 16", cfg.Peer.AuthSlots)
	}

	if cfg.Peer.NewConnectMaxAge != 7*24*time.Hour {
		t.Errorf("Peer.NewConnectMaxAge = %v, want %v", cfg.Peer.NewConnectMaxAge, 7*24*time.Hour)
	}

	// Defaults fail validation only because Password is unset; fill it in
	// and confirm everything else passes.
	cfg.Peer.Password = "x"
	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() (with password set) failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
listen:
  addr: ":17000"
metrics:
  addr: ":9200"
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
peer:
  netid: "lab"
  password: "hunter2"
  peer_slots: 128
  auth_slots: 32
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Listen.Addr != ":17000" {
		t.Errorf("Listen.Addr = %q, want %q", cfg.Listen.Addr, ":17000")
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}

	if cfg.Peer.NetID != "lab" {
		t.Errorf("Peer.NetID = %q, want %q", cfg.Peer.NetID, "lab")
	}

	if cfg.Peer.PeerSlots != 128 {
		t.Errorf("Peer.PeerSlots = %d, want 128", cfg.Peer.PeerSlots)
	}

	if cfg.Peer.AuthSlots != 32 {
		t.Errorf("Peer.AuthSlots = %d, want 32", cfg.Peer.AuthSlots)
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	yamlContent := `
listen:
  addr: ":15555"
peer:
  password: "x"
log:
  level: "warn"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Listen.Addr != ":15555" {
		t.Errorf("Listen.Addr = %q, want %q", cfg.Listen.Addr, ":15555")
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Peer.PeerSlots != 64 {
		t.Errorf("Peer.PeerSlots = %d, want default 64", cfg.Peer.PeerSlots)
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
			name: "empty listen addr",
			modify: func(cfg *config.Config) {
				cfg.Peer.Password = "x"
				cfg.Listen.Addr = ""
			},
			wantErr: config.ErrEmptyListenAddr,
		},
		{
			name: "zero peer slots",
			modify: func(cfg *config.Config) {
				cfg.Peer.Password = "x"
				cfg.Peer.PeerSlots = 0
			},
			wantErr: config.ErrInvalidPeerSlots,
		},
		{
			name: "zero auth slots",
			modify: func(cfg *config.Config) {
				cfg.Peer.Password = "x"
				cfg.Peer.AuthSlots = 0
			},
			wantErr: config.ErrInvalidAuthSlots,
		},
		{
			name: "empty password",
			modify: func(cfg *config.Config) {
				cfg.Peer.Password = ""
			},
			wantErr: config.ErrEmptyNetworkPassword,
		},
		{
			name: "duplicate bootstrap peer",
			modify: func(cfg *config.Config) {
				cfg.Peer.Password = "x"
				cfg.Peers = []config.PeerEntry{
					{Addr: "198.51.100.1:7000"},
					{Addr: "198.51.100.1:7000"},
				}
			},
			wantErr: config.ErrDuplicatePeerKey,
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
listen:
  addr: ":7000"
peer:
  password: "x"
log:
  level: "info"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("PEERVPN_LISTEN_ADDR", ":18000")
	t.Setenv("PEERVPN_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Listen.Addr != ":18000" {
		t.Errorf("Listen.Addr = %q, want %q (from env)", cfg.Listen.Addr, ":18000")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (from env)", cfg.Log.Level, "debug")
	}
}

// writeTemp creates a temporary YAML file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "peervpn.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
