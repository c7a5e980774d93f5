package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the config file at path (JSON or YAML), overlays environment
// variables (after loading .env if present) and fills defaults.
//
// A missing file is not an error: the defaults plus environment are used.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	if strings.TrimSpace(path) != "" {
		parsed, err := Parse(path)
		switch {
		case err == nil:
			cfg = parsed
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, err
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a config file strictly: unknown fields and trailing data are rejected.
func Parse(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return decodeConfig(path, b)
}

// applyEnv overlays X_* variables. Environment wins over the file so secrets
// can stay out of config.json.
func applyEnv(cfg *Config) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.OAuth.ClientID, "X_CLIENT_ID")
	set(&cfg.OAuth.ClientSecret, "X_CLIENT_SECRET")
	set(&cfg.OAuth.RedirectURI, "X_REDIRECT_URI")
	set(&cfg.OAuth.AuthURL, "X_AUTH_URL")
	set(&cfg.OAuth.TokenURL, "X_TOKEN_URL")
	set(&cfg.API.BaseURL, "X_API_BASE_URL")
	if v := strings.TrimSpace(os.Getenv("X_SCOPES")); v != "" {
		cfg.OAuth.Scopes = strings.Fields(v)
	}
	if v := strings.TrimSpace(os.Getenv("XP_TELEGRAM_TOKEN")); v != "" {
		if cfg.Notify == nil {
			cfg.Notify = &NotifyConfig{}
		}
		cfg.Notify.Telegram.Token = v
	}
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Layout) == "" {
		cfg.Layout = LayoutFolder
	}
	if cfg.DefaultTimes == nil {
		cfg.DefaultTimes = defaultTimes()
	}
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = DefaultBaseURL
	}
	if cfg.API.UserAgent == "" {
		cfg.API.UserAgent = "xposter/0.1.0"
	}
	if cfg.OAuth.AuthURL == "" {
		cfg.OAuth.AuthURL = DefaultAuthURL
	}
	if cfg.OAuth.TokenURL == "" {
		cfg.OAuth.TokenURL = DefaultTokenURL
	}
	if len(cfg.OAuth.Scopes) == 0 {
		cfg.OAuth.Scopes = strings.Fields(DefaultScopes)
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate checks field shapes. Credentials are not required here: only
// commands that talk to the token endpoint need them (see RequireOAuth).
func (c *Config) Validate() error {
	switch c.Layout {
	case LayoutFolder, LayoutFlat:
	default:
		return fmt.Errorf("layout: unknown %q (want %q or %q)", c.Layout, LayoutFolder, LayoutFlat)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	for slot, hhmm := range c.DefaultTimes {
		if _, err := time.Parse("15:04", strings.TrimSpace(hhmm)); err != nil {
			return fmt.Errorf("default_times.%s: invalid time %q, expected HH:MM", slot, hhmm)
		}
	}
	for _, d := range c.durations() {
		if _, err := ParseDuration(d[0], d[1]); err != nil {
			return err
		}
	}
	if c.Notify != nil && c.Notify.Telegram.Enabled {
		if strings.TrimSpace(c.Notify.Telegram.Token) == "" {
			return errors.New("notify.telegram.token is required when telegram notifications are enabled")
		}
		if c.Notify.Telegram.ChatID == 0 {
			return errors.New("notify.telegram.chat_id is required when telegram notifications are enabled")
		}
	}
	return nil
}

// RequireOAuth reports missing OAuth client settings.
func (c *Config) RequireOAuth() error {
	if strings.TrimSpace(c.OAuth.ClientID) == "" {
		return errors.New("X_CLIENT_ID is required. Set it in your environment or .env")
	}
	if strings.TrimSpace(c.OAuth.RedirectURI) == "" {
		return errors.New("X_REDIRECT_URI is required. Set it in your environment or .env")
	}
	return nil
}

// Location resolves Timezone; "" and "local" map to time.Local.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" || strings.EqualFold(tz, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}

// VerifyMediaContent returns media.verify_content (default true).
func (c *Config) VerifyMediaContent() bool {
	if c.Media.VerifyContent == nil {
		return true
	}
	return *c.Media.VerifyContent
}

// ConsoleLogging returns logging.console (default true).
func (c *Config) ConsoleLogging() bool {
	if c.Logging.Console == nil {
		return true
	}
	return *c.Logging.Console
}
