// Package config loads ironpass settings from IRONPASS_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/jmcleod/ironpass/login"
	"github.com/jmcleod/ironpass/secretstore"
)

var ErrInvalid = errors.New("invalid configuration")

// Config is the process-wide configuration.
type Config struct {
	DataDir string `env:"IRONPASS_DATA_DIR" envDefault:"~/.ironpass"`

	KeyringService      string `env:"IRONPASS_KEYRING_SERVICE"       envDefault:"ironpass"`
	KeyringAccessGroup  string `env:"IRONPASS_KEYRING_ACCESS_GROUP"  envDefault:"group.ironpass"`
	KeyringBackend      string `env:"IRONPASS_KEYRING_BACKEND"`
	KeyringFilePassword string `env:"IRONPASS_KEYRING_FILE_PASSWORD"`

	PollInterval    time.Duration `env:"IRONPASS_POLL_INTERVAL"     envDefault:"2s"`
	PollMaxInterval time.Duration `env:"IRONPASS_POLL_MAX_INTERVAL" envDefault:"10s"`
	PollMaxAttempts int           `env:"IRONPASS_POLL_MAX_ATTEMPTS" envDefault:"300"`
	PollDeadline    time.Duration `env:"IRONPASS_POLL_DEADLINE"     envDefault:"10m"`
	RequestTimeout  time.Duration `env:"IRONPASS_REQUEST_TIMEOUT"   envDefault:"15s"`

	PinnedCerts []string `env:"IRONPASS_PINNED_CERTS" envSeparator:","`

	LogLevel  string `env:"IRONPASS_LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"IRONPASS_LOG_FORMAT" envDefault:"text"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.PinnedCerts = trimCSV(cfg.PinnedCerts)

	dir, err := expandHome(cfg.DataDir)
	if err != nil {
		return Config{}, err
	}
	cfg.DataDir = dir

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the values that the environment parser cannot.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data directory must not be empty", ErrInvalid)
	}
	if c.KeyringService == "" {
		return fmt.Errorf("%w: keyring service must not be empty", ErrInvalid)
	}
	for name, d := range map[string]time.Duration{
		"poll interval":     c.PollInterval,
		"poll max interval": c.PollMaxInterval,
		"poll deadline":     c.PollDeadline,
		"request timeout":   c.RequestTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalid, name, d)
		}
	}
	if c.PollMaxInterval < c.PollInterval {
		return fmt.Errorf("%w: poll max interval %s is below poll interval %s", ErrInvalid, c.PollMaxInterval, c.PollInterval)
	}
	if c.PollDeadline < c.PollInterval {
		return fmt.Errorf("%w: poll deadline %s is shorter than one interval", ErrInvalid, c.PollDeadline)
	}
	if c.PollMaxAttempts <= 0 {
		return fmt.Errorf("%w: poll max attempts must be positive, got %d", ErrInvalid, c.PollMaxAttempts)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalid, c.LogFormat)
	}
	return nil
}

// Policy is the login poll policy.
func (c Config) Policy() login.Policy {
	return login.Policy{
		Interval:    c.PollInterval,
		MaxInterval: c.PollMaxInterval,
		MaxAttempts: c.PollMaxAttempts,
		Deadline:    c.PollDeadline,
	}
}

// Keyring is the shared secret store configuration. The encrypted-file
// backend lives under the data directory.
func (c Config) Keyring() secretstore.KeyringConfig {
	return secretstore.KeyringConfig{
		Service:      c.KeyringService,
		AccessGroup:  c.KeyringAccessGroup,
		Backend:      c.KeyringBackend,
		FileDir:      filepath.Join(c.DataDir, "keyring"),
		FilePassword: c.KeyringFilePassword,
	}
}

// VaultPath is the offline container database.
func (c Config) VaultPath() string {
	return filepath.Join(c.DataDir, "offline.db")
}

// Logger builds the root logger writing to w.
func (c Config) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: log level %q", ErrInvalid, s)
	}
	return level, nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// trimCSV removes empty entries from a comma-split list.
func trimCSV(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
