package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hybridlabs/portalboxd/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Email.Enabled {
		t.Error("Email.Enabled = true, want false")
	}
	if cfg.Email.Port != 587 {
		t.Errorf("Email.Port = %d, want 587", cfg.Email.Port)
	}
	if cfg.Display.FlashRate != 3 {
		t.Errorf("Display.FlashRate = %d, want 3", cfg.Display.FlashRate)
	}
	if cfg.UserExp.GracePeriod != 2*time.Second {
		t.Errorf("UserExp.GracePeriod = %v, want 2s", cfg.UserExp.GracePeriod)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}

	// DefaultConfig intentionally omits db.website/bearer_token, so it does
	// not pass Validate on its own -- those are mandatory per the original
	// Database.__init__ check.
	if err := config.Validate(cfg); err == nil {
		t.Error("Validate(DefaultConfig()) = nil, want ErrEmptyWebsite")
	}
}

func TestLoadFromINI(t *testing.T) {
	t.Parallel()

	iniContent := `
[db]
website = https://example.org
bearer_token = s3cr3t

[email]
enabled = true
host = smtp.example.org
port = 2525
username = notifier
password = hunter2
from = portalbox@example.org

[display]
auth = 00 FF 00
flash_rate = 5

[user_exp]
grace_period = 3s

[logging]
level = debug

[metrics]
addr = :9200
path = /custom-metrics
`

	path := writeTemp(t, iniContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.DB.Website != "https://example.org" {
		t.Errorf("DB.Website = %q, want %q", cfg.DB.Website, "https://example.org")
	}
	if cfg.DB.BearerToken != "s3cr3t" {
		t.Errorf("DB.BearerToken = %q, want %q", cfg.DB.BearerToken, "s3cr3t")
	}
	if !cfg.Email.Enabled {
		t.Error("Email.Enabled = false, want true")
	}
	if cfg.Email.Port != 2525 {
		t.Errorf("Email.Port = %d, want 2525", cfg.Email.Port)
	}
	if cfg.Display.Auth != "00 FF 00" {
		t.Errorf("Display.Auth = %q, want %q", cfg.Display.Auth, "00 FF 00")
	}
	if cfg.Display.FlashRate != 5 {
		t.Errorf("Display.FlashRate = %d, want 5", cfg.Display.FlashRate)
	}
	if cfg.UserExp.GracePeriod != 3*time.Second {
		t.Errorf("UserExp.GracePeriod = %v, want 3s", cfg.UserExp.GracePeriod)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9200")
	}
	if cfg.Metrics.Path != "/custom-metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/custom-metrics")
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	iniContent := `
[db]
website = https://example.org
bearer_token = s3cr3t
`

	path := writeTemp(t, iniContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Email.Port != 587 {
		t.Errorf("Email.Port = %d, want default 587", cfg.Email.Port)
	}
	if cfg.Display.FlashRate != 3 {
		t.Errorf("Display.FlashRate = %d, want default 3", cfg.Display.FlashRate)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want default %q", cfg.Logging.Level, "info")
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	base := func() *config.Config {
		cfg := config.DefaultConfig()
		cfg.DB.Website = "https://example.org"
		cfg.DB.BearerToken = "s3cr3t"
		return cfg
	}

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "empty website",
			modify: func(cfg *config.Config) {
				cfg.DB.Website = ""
			},
			wantErr: config.ErrEmptyWebsite,
		},
		{
			name: "empty bearer token",
			modify: func(cfg *config.Config) {
				cfg.DB.BearerToken = ""
			},
			wantErr: config.ErrEmptyBearerToken,
		},
		{
			name: "email enabled with no port",
			modify: func(cfg *config.Config) {
				cfg.Email.Enabled = true
				cfg.Email.Port = 0
			},
			wantErr: config.ErrInvalidSMTPPort,
		},
		{
			name: "negative grace period",
			modify: func(cfg *config.Config) {
				cfg.UserExp.GracePeriod = -1
			},
			wantErr: config.ErrInvalidGraceWait,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := base()
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
		{input: "warn", want: slog.LevelWarn},
		{input: "warning", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "critical", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
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

	_, err := config.Load("/nonexistent/path/config.ini")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
	if !errors.Is(err, config.ErrConfig) {
		t.Errorf("Load() error = %v, want wrapped ErrConfig", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	// Environment variable tests cannot be parallel because they modify
	// process-wide state (os.Setenv via t.Setenv).

	iniContent := `
[db]
website = https://example.org
bearer_token = s3cr3t

[logging]
level = info
`
	path := writeTemp(t, iniContent)

	t.Setenv("PORTALBOX_DB_WEBSITE", "https://override.example.org")
	t.Setenv("PORTALBOX_LOGGING_LEVEL", "debug")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.DB.Website != "https://override.example.org" {
		t.Errorf("DB.Website = %q, want %q (from env)", cfg.DB.Website, "https://override.example.org")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q (from env)", cfg.Logging.Level, "debug")
	}
}

// writeTemp creates a temporary INI file and returns its path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.ini")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
