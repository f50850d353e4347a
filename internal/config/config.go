// Package config manages tunnel-agent daemon configuration using koanf/v2.
//
// Supports YAML files and environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete tunnel-agent configuration.
type Config struct {
	API     APIConfig     `koanf:"api"`
	Tunnel  TunnelConfig  `koanf:"tunnel"`
	Status  StatusConfig  `koanf:"status"`
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
}

// APIConfig holds the account API connection settings used by the
// sign-agent-register call.
type APIConfig struct {
	// URL is the account API base (e.g., "https://api.playit.cloud/").
	URL string `koanf:"url"`
	// Secret is the agent key sent as "Authorization: agent-key <secret>".
	Secret string `koanf:"secret"`
}

// TunnelConfig holds the control-plane probing settings.
type TunnelConfig struct {
	// Candidates are the tunnel server UDP endpoints to probe, in order
	// (e.g., "147.185.221.2:5523"). Probing is sequential: the first
	// candidate that answers a Ping wins.
	Candidates []string `koanf:"candidates"`
}

// StatusConfig holds the local status HTTP endpoint configuration.
type StatusConfig struct {
	// Addr is the HTTP listen address for the status endpoint (e.g., ":8483").
	Addr string `koanf:"addr"`
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

// CandidateAddrs parses the configured candidate strings as netip.AddrPorts,
// preserving order.
func (tc TunnelConfig) CandidateAddrs() ([]netip.AddrPort, error) {
	addrs := make([]netip.AddrPort, 0, len(tc.Candidates))
	for i, c := range tc.Candidates {
		ap, err := netip.ParseAddrPort(c)
		if err != nil {
			return nil, fmt.Errorf("parse tunnel candidate [%d] %q: %w", i, c, err)
		}
		addrs = append(addrs, ap)
	}
	return addrs, nil
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultAPIURL is the production account API base.
const DefaultAPIURL = "https://api.playit.cloud/"

// DefaultConfig returns a Config populated with sensible defaults. The
// secret and candidate list have no defaults: both must come from the
// config file or environment.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			URL: DefaultAPIURL,
		},
		Status: StatusConfig{
			Addr: ":8483",
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

// envPrefix is the environment variable prefix for tunnel-agent configuration.
// Variables are named AGENT_<section>_<key>, e.g., AGENT_API_SECRET.
const envPrefix = "AGENT_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (AGENT_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	AGENT_API_URL      -> api.url
//	AGENT_API_SECRET   -> api.secret
//	AGENT_STATUS_ADDR  -> status.addr
//	AGENT_METRICS_ADDR -> metrics.addr
//	AGENT_METRICS_PATH -> metrics.path
//	AGENT_LOG_LEVEL    -> log.level
//	AGENT_LOG_FORMAT   -> log.format
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
	// AGENT_API_SECRET -> api.secret (strip prefix, lowercase, _ -> .).
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

// envKeyMapper transforms AGENT_API_SECRET -> api.secret.
// Strips the AGENT_ prefix, lowercases, and replaces _ with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"api.url":      defaults.API.URL,
		"status.addr":  defaults.Status.Addr,
		"metrics.addr": defaults.Metrics.Addr,
		"metrics.path": defaults.Metrics.Path,
		"log.level":    defaults.Log.Level,
		"log.format":   defaults.Log.Format,
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
	// ErrEmptyAPIURL indicates the account API base URL is empty.
	ErrEmptyAPIURL = errors.New("api.url must not be empty")

	// ErrEmptySecret indicates no agent secret was provided.
	ErrEmptySecret = errors.New("api.secret must not be empty")

	// ErrNoCandidates indicates the tunnel candidate list is empty.
	ErrNoCandidates = errors.New("tunnel.candidates must list at least one endpoint")

	// ErrInvalidCandidate indicates a candidate is not a valid ip:port.
	ErrInvalidCandidate = errors.New("tunnel candidate is not a valid ip:port")

	// ErrEmptyStatusAddr indicates the status listen address is empty.
	ErrEmptyStatusAddr = errors.New("status.addr must not be empty")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.API.URL == "" {
		return ErrEmptyAPIURL
	}

	if cfg.API.Secret == "" {
		return ErrEmptySecret
	}

	if len(cfg.Tunnel.Candidates) == 0 {
		return ErrNoCandidates
	}

	if _, err := cfg.Tunnel.CandidateAddrs(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCandidate, err)
	}

	if cfg.Status.Addr == "" {
		return ErrEmptyStatusAddr
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
