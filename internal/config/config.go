// Package config manages the portal box daemon configuration. Settings are
// read from an INI file (mirroring the original Python service's
// configparser-based config.ini) using gopkg.in/ini.v1, then overlaid with
// environment variable overrides through koanf/v2.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"gopkg.in/ini.v1"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete portalboxd configuration, one struct field per
// INI section named in the base specification.
type Config struct {
	DB      DBConfig      `koanf:"db"`
	Email   EmailConfig   `koanf:"email"`
	Display DisplayConfig `koanf:"display"`
	UserExp UserExpConfig `koanf:"user_exp"`
	Logging LoggingConfig `koanf:"logging"`
	Metrics MetricsConfig `koanf:"metrics"`
	GPIO    GPIOConfig    `koanf:"gpio"`
}

// DBConfig holds the backend HTTP API connection settings (INI section
// "db"), matching Database.__init__'s required "website" and
// "bearer_token" keys.
type DBConfig struct {
	Website     string `koanf:"website"`
	BearerToken string `koanf:"bearer_token"`
}

// EmailConfig holds the SMTP notifier settings (INI section "email").
// Enabled mirrors the original's "enabled" key, which accepted
// no/false/0 to disable notifications entirely.
type EmailConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
}

// DisplayConfig holds RGB color overrides for the indicator (INI section
// "display"). Empty strings fall back to the built-in defaults in
// internal/fsm.DefaultDisplayPolicy.
type DisplayConfig struct {
	Setup           string `koanf:"setup"`
	Auth            string `koanf:"auth"`
	Unauth          string `koanf:"unauth"`
	NoCardGrace     string `koanf:"no_card_grace"`
	UnauthCardGrace string `koanf:"unauth_card_grace"`
	GraceTimeout    string `koanf:"grace_timeout"`
	Proxy           string `koanf:"proxy"`
	Training        string `koanf:"training"`
	Timeout         string `koanf:"timeout"`
	FlashRate       int    `koanf:"flash_rate"`
}

// UserExpConfig holds user-experience tunables (INI section "user_exp"),
// mirroring the original's grace_period handling.
type UserExpConfig struct {
	GracePeriod time.Duration `koanf:"grace_period"`
}

// LoggingConfig holds the logging configuration (INI section "logging").
type LoggingConfig struct {
	Level string `koanf:"level"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
// Not present in the original Python service; added so the daemon can be
// scraped in the same deployments that run the rest of the stack.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
	Path string `koanf:"path"`
}

// GPIOConfig names the physical pins and serial device the production
// device.GPIODriver binds to (INI section "gpio"). Not present in the
// original Python service, which hardcoded its RPi.GPIO pin numbers; this
// supplements the spec so the same binary targets different wiring.
type GPIOConfig struct {
	RelayPin     string `koanf:"relay_pin"`
	ButtonPin    string `koanf:"button_pin"`
	RedPin       string `koanf:"red_pin"`
	GreenPin     string `koanf:"green_pin"`
	BluePin      string `koanf:"blue_pin"`
	BuzzerPin    string `koanf:"buzzer_pin"`
	SerialDevice string `koanf:"serial_device"`
	SerialBaud   int    `koanf:"serial_baud"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults. The
// grace period of 2 seconds matches portal_fsm.State.grace_delta.
func DefaultConfig() *Config {
	return &Config{
		Email: EmailConfig{
			Enabled: false,
			Port:    587,
		},
		Display: DisplayConfig{
			FlashRate: 3,
		},
		UserExp: UserExpConfig{
			GracePeriod: 2 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		GPIO: GPIOConfig{
			RelayPin:     "GPIO17",
			ButtonPin:    "GPIO27",
			RedPin:       "GPIO5",
			GreenPin:     "GPIO6",
			BluePin:      "GPIO13",
			BuzzerPin:    "GPIO19",
			SerialDevice: "/dev/ttyUSB0",
			SerialBaud:   9600,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for portalboxd configuration.
// Variables are named PORTALBOX_<section>_<key>, e.g., PORTALBOX_DB_WEBSITE.
const envPrefix = "PORTALBOX_"

// Load reads configuration from an INI file at path, overlays environment
// variable overrides (PORTALBOX_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: load ini file %s: %w", ErrConfig, path, err)
	}

	if err := k.Load(confmap.Provider(iniToMap(iniFile), "."), nil); err != nil {
		return nil, fmt.Errorf("%w: merge ini file: %w", ErrConfig, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("%w: load env overrides: %w", ErrConfig, err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("%w: unmarshal config: %w", ErrConfig, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: validate config from %s: %w", ErrConfig, path, err)
	}

	return cfg, nil
}

// iniToMap flattens an ini.File into a "section.key" -> string map suitable
// for koanf's confmap provider. The DEFAULT section (ini.v1's
// ini.DefaultSection) is flattened without a section prefix.
func iniToMap(f *ini.File) map[string]any {
	out := make(map[string]any)
	for _, section := range f.Sections() {
		name := strings.ToLower(section.Name())
		for _, key := range section.Keys() {
			k := strings.ToLower(key.Name())
			if name == strings.ToLower(ini.DefaultSection) {
				out[k] = key.Value()
				continue
			}
			out[name+"."+k] = key.Value()
		}
	}
	return out
}

// envKeyMapper transforms PORTALBOX_DB_BEARER_TOKEN -> db.bearer_token.
// Strips the PORTALBOX_ prefix, lowercases, and replaces the _ that ends a
// known section name with .; underscores inside the key are kept. A name
// with no known section has every _ replaced with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	for _, section := range []string{"user_exp", "db", "email", "display", "logging", "metrics", "gpio"} {
		if key, ok := strings.CutPrefix(s, section+"_"); ok {
			return section + "." + key
		}
	}
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"email.enabled":         defaults.Email.Enabled,
		"email.port":            defaults.Email.Port,
		"display.flash_rate":    defaults.Display.FlashRate,
		"user_exp.grace_period": defaults.UserExp.GracePeriod.String(),
		"logging.level":         defaults.Logging.Level,
		"metrics.addr":          defaults.Metrics.Addr,
		"metrics.path":          defaults.Metrics.Path,
		"gpio.relay_pin":        defaults.GPIO.RelayPin,
		"gpio.button_pin":       defaults.GPIO.ButtonPin,
		"gpio.red_pin":          defaults.GPIO.RedPin,
		"gpio.green_pin":        defaults.GPIO.GreenPin,
		"gpio.blue_pin":         defaults.GPIO.BluePin,
		"gpio.buzzer_pin":       defaults.GPIO.BuzzerPin,
		"gpio.serial_device":    defaults.GPIO.SerialDevice,
		"gpio.serial_baud":      defaults.GPIO.SerialBaud,
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

// ErrConfig is the sentinel wrapped by every configuration loading or
// validation failure, allowing callers to classify it per §7's ConfigError
// policy (fatal at startup).
var ErrConfig = errors.New("config error")

// Validation errors, each wrapped by ErrConfig.
var (
	ErrEmptyWebsite     = errors.New("db.website must not be empty")
	ErrEmptyBearerToken = errors.New("db.bearer_token must not be empty")
	ErrInvalidSMTPPort  = errors.New("email.port must be > 0 when email.enabled is true")
	ErrInvalidGraceWait = errors.New("user_exp.grace_period must be >= 0")
)

// Validate checks the configuration for logical errors. Returns the first
// validation error encountered, unwrapped (callers should wrap with
// ErrConfig as Load does).
func Validate(cfg *Config) error {
	if cfg.DB.Website == "" {
		return ErrEmptyWebsite
	}

	if cfg.DB.BearerToken == "" {
		return ErrEmptyBearerToken
	}

	if cfg.Email.Enabled && cfg.Email.Port <= 0 {
		return ErrInvalidSMTPPort
	}

	if cfg.UserExp.GracePeriod < 0 {
		return ErrInvalidGraceWait
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo, matching the
// original service.py's fallback when an unrecognized level name is given.
//
// Recognized values: "critical"/"error", "warning"/"warn", "info", "debug"
// (case-insensitive) -- the original configparser-based service accepted
// Python's five logging level names.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "critical":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
