// Package config loads server settings from a TOML file and the environment.
//
// PRECEDENCE, lowest to highest:
//
//	Default() → TOML file (if present) → environment variables
//
// Secrets usually come from the environment (JWT_SECRET,
// GITHUB_CLIENT_SECRET) so the file can be committed.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full server configuration.
type Config struct {
	Port         int        `toml:"port"`
	DBPath       string     `toml:"db_path"`
	ContentRoot  string     `toml:"content_root"` // screenshots and rich metadata, one directory per guide
	LogLevel     string     `toml:"log_level"`    // debug, info, warn or error
	MaxBodyBytes int64      `toml:"max_body_bytes"`
	Auth         AuthConfig `toml:"auth"`
}

// AuthConfig holds identity settings.
type AuthConfig struct {
	JWTSecret     string       `toml:"jwt_secret"`
	TokenTTL      string       `toml:"token_ttl"` // Go duration, e.g. "168h"
	SecureCookies bool         `toml:"secure_cookies"`
	GitHub        GitHubConfig `toml:"github"`
}

// GitHubConfig enables GitHub login when ClientID and ClientSecret are set.
type GitHubConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	CallbackURL  string `toml:"callback_url"`
}

// Default returns a configuration that runs locally once a JWT secret is
// supplied.
func Default() *Config {
	return &Config{
		Port:         8080,
		DBPath:       "data/stepguide.db",
		ContentRoot:  "data/guides",
		LogLevel:     "info",
		MaxBodyBytes: 64 << 20,
		Auth: AuthConfig{
			TokenTTL: "168h",
		},
	}
}

// Read decodes TOML from r on top of cfg. Keys missing from the document keep
// their current values.
func Read(r io.Reader, cfg *Config) error {
	md, err := toml.NewDecoder(r).Decode(cfg)
	if err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown config keys: %v", undecoded)
	}
	return nil
}

// Load builds the configuration from defaults, the file at path and the
// environment. A missing file is not an error; path may be empty.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		switch {
		case err == nil:
			defer f.Close()
			if err := Read(f, cfg); err != nil {
				return nil, fmt.Errorf("reading config from %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT value %q", v)
		}
		c.Port = port
	}

	strs := []struct {
		key string
		dst *string
	}{
		{"DB_PATH", &c.DBPath},
		{"CONTENT_ROOT", &c.ContentRoot},
		{"LOG_LEVEL", &c.LogLevel},
		{"JWT_SECRET", &c.Auth.JWTSecret},
		{"TOKEN_TTL", &c.Auth.TokenTTL},
		{"GITHUB_CLIENT_ID", &c.Auth.GitHub.ClientID},
		{"GITHUB_CLIENT_SECRET", &c.Auth.GitHub.ClientSecret},
		{"GITHUB_CALLBACK_URL", &c.Auth.GitHub.CallbackURL},
	}
	for _, s := range strs {
		if v := getenv(s.key); v != "" {
			*s.dst = v
		}
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.DBPath == "" {
		return errors.New("db_path is required")
	}
	if c.ContentRoot == "" {
		return errors.New("content_root is required")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be positive, got %d", c.MaxBodyBytes)
	}
	if len(c.Auth.JWTSecret) < 16 {
		return errors.New("auth.jwt_secret must be at least 16 characters (set JWT_SECRET)")
	}
	if _, err := c.TokenTTL(); err != nil {
		return err
	}

	gh := c.Auth.GitHub
	if (gh.ClientID == "") != (gh.ClientSecret == "") {
		return errors.New("auth.github needs both client_id and client_secret, or neither")
	}
	return nil
}

// TokenTTL parses Auth.TokenTTL. Empty means the auth package default.
func (c *Config) TokenTTL() (time.Duration, error) {
	if c.Auth.TokenTTL == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Auth.TokenTTL)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("auth.token_ttl must be a positive duration, got %q", c.Auth.TokenTTL)
	}
	return d, nil
}

// SlogLevel returns the configured log level, Info when unset or invalid.
func (c *Config) SlogLevel() slog.Level {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

// GitHubEnabled reports whether GitHub login routes should be mounted.
func (c *Config) GitHubEnabled() bool {
	return c.Auth.GitHub.ClientID != "" && c.Auth.GitHub.ClientSecret != ""
}

// GitHubCallbackURL falls back to the local callback route.
func (c *Config) GitHubCallbackURL() string {
	if c.Auth.GitHub.CallbackURL != "" {
		return c.Auth.GitHub.CallbackURL
	}
	return fmt.Sprintf("http://localhost:%d/auth/github/callback", c.Port)
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log_level must be debug, info, warn or error, got %q", s)
}
