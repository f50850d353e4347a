package config_test

import (
	"errors"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/dantte-lp/tunnel-agent/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.API.URL != config.DefaultAPIURL {
		t.Errorf("API.URL = %q, want %q", cfg.API.URL, config.DefaultAPIURL)
	}

	if cfg.Status.Addr != ":8483" {
		t.Errorf("Status.Addr = %q, want %q", cfg.Status.Addr, ":8483")
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

	// Defaults alone must not pass validation: the secret and candidate
	// list have no usable default.
	if err := config.Validate(cfg); err == nil {
		t.Error("Validate(DefaultConfig()) = nil, want error")
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
api:
  url: "https://api.example.test/"
  secret: "test-secret"
tunnel:
  candidates:
    - "147.185.221.2:5523"
    - "[2602:fbaf::2]:5523"
status:
  addr: ":9000"
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

	if cfg.API.URL != "https://api.example.test/" {
		t.Errorf("API.URL = %q, want %q", cfg.API.URL, "https://api.example.test/")
	}

	if cfg.API.Secret != "test-secret" {
		t.Errorf("API.Secret = %q, want %q", cfg.API.Secret, "test-secret")
	}

	if cfg.Status.Addr != ":9000" {
		t.Errorf("Status.Addr = %q, want %q", cfg.Status.Addr, ":9000")
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

	addrs, err := cfg.Tunnel.CandidateAddrs()
	if err != nil {
		t.Fatalf("CandidateAddrs() error: %v", err)
	}

	want := []netip.AddrPort{
		netip.MustParseAddrPort("147.185.221.2:5523"),
		netip.MustParseAddrPort("[2602:fbaf::2]:5523"),
	}

	if len(addrs) != len(want) {
		t.Fatalf("CandidateAddrs() returned %d addrs, want %d", len(addrs), len(want))
	}

	for i := range want {
		if addrs[i] != want[i] {
			t.Errorf("CandidateAddrs()[%d] = %v, want %v", i, addrs[i], want[i])
		}
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only the secret, candidates, and log.level.
	// Everything else should inherit from defaults.
	yamlContent := `
api:
  secret: "partial-secret"
tunnel:
  candidates:
    - "127.0.0.1:5523"
log:
  level: "warn"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	// Overridden values.
	if cfg.API.Secret != "partial-secret" {
		t.Errorf("API.Secret = %q, want %q", cfg.API.Secret, "partial-secret")
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	// Default values should be preserved.
	if cfg.API.URL != config.DefaultAPIURL {
		t.Errorf("API.URL = %q, want default %q", cfg.API.URL, config.DefaultAPIURL)
	}

	if cfg.Status.Addr != ":8483" {
		t.Errorf("Status.Addr = %q, want default %q", cfg.Status.Addr, ":8483")
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want default %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, "json")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	// No t.Parallel(): t.Setenv forbids it.
	yamlContent := `
api:
  secret: "file-secret"
tunnel:
  candidates:
    - "127.0.0.1:5523"
`

	t.Setenv("AGENT_API_SECRET", "env-secret")
	t.Setenv("AGENT_LOG_LEVEL", "error")

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.API.Secret != "env-secret" {
		t.Errorf("API.Secret = %q, want env override %q", cfg.API.Secret, "env-secret")
	}

	if cfg.Log.Level != "error" {
		t.Errorf("Log.Level = %q, want env override %q", cfg.Log.Level, "error")
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
			name: "empty api url",
			modify: func(cfg *config.Config) {
				cfg.API.URL = ""
			},
			wantErr: config.ErrEmptyAPIURL,
		},
		{
			name: "empty secret",
			modify: func(cfg *config.Config) {
				cfg.API.Secret = ""
			},
			wantErr: config.ErrEmptySecret,
		},
		{
			name: "no candidates",
			modify: func(cfg *config.Config) {
				cfg.Tunnel.Candidates = nil
			},
			wantErr: config.ErrNoCandidates,
		},
		{
			name: "candidate missing port",
			modify: func(cfg *config.Config) {
				cfg.Tunnel.Candidates = []string{"147.185.221.2"}
			},
			wantErr: config.ErrInvalidCandidate,
		},
		{
			name: "candidate hostname not ip",
			modify: func(cfg *config.Config) {
				cfg.Tunnel.Candidates = []string{"tunnel.example.test:5523"}
			},
			wantErr: config.ErrInvalidCandidate,
		},
		{
			name: "empty status addr",
			modify: func(cfg *config.Config) {
				cfg.Status.Addr = ""
			},
			wantErr: config.ErrEmptyStatusAddr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			cfg.API.Secret = "valid-secret"
			cfg.Tunnel.Candidates = []string{"127.0.0.1:5523"}
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

// writeTemp writes content to a temporary file and returns its path.
// The file is removed automatically when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	return path
}
