// Package config manages peervpn daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables; CLI flags are not read
// here.
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

// Config holds the complete peervpn daemon configuration.
type Config struct {
	Listen  ListenConfig  `koanf:"listen"`
	Control ControlConfig `koanf:"control"`
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
	Peer    PeerConfig    `koanf:"peer"`
	Peers   []PeerEntry   `koanf:"peers"`
}

// ListenConfig holds the UDP data-plane socket configuration.
type ListenConfig struct {
	// Addr is the UDP listen address, e.g. ":7000".
	Addr string `koanf:"addr"`

	// HopLimit caps the TTL/hop-limit of every outgoing datagram. 0
	// leaves the platform default in place.
	HopLimit int `koanf:"hop_limit"`
}

// ControlConfig holds the unix-domain control socket configuration
// consumed by cmd/peervpnctl.
type ControlConfig struct {
	// SocketPath is the filesystem path of the control socket.
	SocketPath string `koanf:"socket_path"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
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

// PeerConfig holds the peer manager's own tunables.
type PeerConfig struct {
	// NetID is the network identity salt distinguishing disjoint overlays.
	NetID string `koanf:"netid"`

	// NodeKeyFile is the path to the local long-term node key (32 bytes, hex or raw).
	NodeKeyFile string `koanf:"node_key_file"`

	// Password is the shared network password used to derive the
	// anonymous (PeerID 0) group context. Session keys come from the
	// handshake's own key agreement, not from the password.
	Password string `koanf:"password"`

	// PeerSlots is the size of the dense Complete-peer slot table.
	PeerSlots int `koanf:"peer_slots"`

	// AuthSlots is the size of AuthMgt's independent in-flight handshake pool.
	AuthSlots int `koanf:"auth_slots"`

	// Loopback enables the send-to-self shortcut.
	Loopback bool `koanf:"loopback"`

	// FastAuth is passed to AuthMgt and the Manager, which record it; it
	// does not change handshake behavior.
	FastAuth bool `koanf:"fastauth"`

	// Fragmentation permits producing multi-fragment userdata.
	Fragmentation bool `koanf:"fragmentation"`

	// Flags is the local 16-bit capability bitmap advertised to peers.
	Flags uint16 `koanf:"flags"`

	// NewConnectMaxAge caps the staleness of NodeDb dial candidates.
	NewConnectMaxAge time.Duration `koanf:"newconnect_max_age"`
}

// PeerEntry is a bootstrap peer address dialed once at startup via
// Manager.DialBootstrap; it is not entered into NodeDb.
type PeerEntry struct {
	// Addr is the peer's direct UDP address, e.g. "198.51.100.7:7000".
	Addr string `koanf:"addr"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults for the
// peer manager's own tunables.
func DefaultConfig() *Config {
	return &Config{
		Listen: ListenConfig{
			Addr: ":7000",
		},
		Control: ControlConfig{
			SocketPath: "/run/peervpn/control.sock",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Peer: PeerConfig{
			NetID:            "default",
			PeerSlots:        64,
			AuthSlots:        16,
			Loopback:         true,
			Fragmentation:    true,
			NewConnectMaxAge: 7 * 24 * time.Hour,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for peervpn configuration.
// Variables are named PEERVPN_<section>_<key>, e.g., PEERVPN_LISTEN_ADDR.
// Every _ after the prefix becomes a '.', so keys that themselves contain
// an underscore (peer_slots, socket_path, ...) cannot be set this way.
const envPrefix = "PEERVPN_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (PEERVPN_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	PEERVPN_LISTEN_ADDR   -> listen.addr
//	PEERVPN_METRICS_ADDR  -> metrics.addr
//	PEERVPN_LOG_LEVEL     -> log.level
//	PEERVPN_PEER_NETID    -> peer.netid
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

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

// envKeyMapper transforms PEERVPN_PEER_NETID -> peer.netid.
// Strips the PEERVPN_ prefix, lowercases, and replaces _ with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"listen.addr":               defaults.Listen.Addr,
		"control.socket_path":       defaults.Control.SocketPath,
		"metrics.addr":              defaults.Metrics.Addr,
		"metrics.path":              defaults.Metrics.Path,
		"log.level":                 defaults.Log.Level,
		"log.format":                defaults.Log.Format,
		"peer.netid":                defaults.Peer.NetID,
		"peer.peer_slots":           defaults.Peer.PeerSlots,
		"peer.auth_slots":           defaults.Peer.AuthSlots,
		"peer.loopback":             defaults.Peer.Loopback,
		"peer.fragmentation":        defaults.Peer.Fragmentation,
		"peer.newconnect_max_age":   defaults.Peer.NewConnectMaxAge.String(),
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
	// ErrEmptyListenAddr indicates the UDP listen address is empty.
	ErrEmptyListenAddr = errors.New("listen.addr must not be empty")

	// ErrInvalidPeerSlots indicates peer.peer_slots is not positive.
	ErrInvalidPeerSlots = errors.New("peer.peer_slots must be > 0")

	// ErrInvalidAuthSlots indicates peer.auth_slots is not positive.
	ErrInvalidAuthSlots = errors.New("peer.auth_slots must be > 0")

	// ErrEmptyNetworkPassword indicates peer.password was not set.
	ErrEmptyNetworkPassword = errors.New("peer.password must not be empty")

	// ErrDuplicatePeerKey indicates two bootstrap peer entries share an address.
	ErrDuplicatePeerKey = errors.New("duplicate bootstrap peer address")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Listen.Addr == "" {
		return ErrEmptyListenAddr
	}

	if cfg.Peer.PeerSlots <= 0 {
		return ErrInvalidPeerSlots
	}

	if cfg.Peer.AuthSlots <= 0 {
		return ErrInvalidAuthSlots
	}

	if cfg.Peer.Password == "" {
		return ErrEmptyNetworkPassword
	}

	if err := validatePeers(cfg.Peers); err != nil {
		return err
	}

	return nil
}

// validatePeers checks each bootstrap peer entry for correctness.
func validatePeers(peers []PeerEntry) error {
	seen := make(map[string]struct{}, len(peers))

	for i, p := range peers {
		if _, dup := seen[p.Addr]; dup {
			return fmt.Errorf("peers[%d] addr %q: %w", i, p.Addr, ErrDuplicatePeerKey)
		}
		seen[p.Addr] = struct{}{}
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
