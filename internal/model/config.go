package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// APIConfig holds the backend connection settings.
type APIConfig struct {
	// BaseURL is the root of the versioned REST API
	// (e.g., http://localhost:8000/api/v1).
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// TimeoutSec bounds every outbound request.
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// Timeout returns the per-request timeout as a duration.
func (c APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// NotificationConfig holds the unread-count polling and feed settings.
type NotificationConfig struct {
	PollIntervalSec    int     `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
	MaxPollIntervalSec int     `mapstructure:"max_poll_interval_sec" yaml:"max_poll_interval_sec"`
	BackoffThreshold   int     `mapstructure:"backoff_threshold" yaml:"backoff_threshold"`
	BackoffFactor      float64 `mapstructure:"backoff_factor" yaml:"backoff_factor"`
	PageSize           int     `mapstructure:"page_size" yaml:"page_size"`
}

// SessionConfig controls where the remembered token lives and how
// session-expired signals are collapsed.
type SessionConfig struct {
	// KeyringService is the service name used for the system keyring.
	KeyringService string `mapstructure:"keyring_service" yaml:"keyring_service"`

	// KeyringDir is the directory of the encrypted-file keyring fallback.
	KeyringDir string `mapstructure:"keyring_dir" yaml:"keyring_dir"`

	// ExpiryWindowMs collapses repeated session-expired signals raised
	// within this window into one.
	ExpiryWindowMs int `mapstructure:"expiry_window_ms" yaml:"expiry_window_ms"`
}

// CacheConfig holds the notification feed cache location.
type CacheConfig struct {
	// Path is the SQLite database path; ":memory:" keeps the feed in
	// process memory only.
	Path string `mapstructure:"path" yaml:"path"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	File   string `mapstructure:"file" yaml:"file"`
	Format string `mapstructure:"format" yaml:"format"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	API           APIConfig          `mapstructure:"api" yaml:"api"`
	Notifications NotificationConfig `mapstructure:"notifications" yaml:"notifications"`
	Session       SessionConfig      `mapstructure:"session" yaml:"session"`
	Cache         CacheConfig        `mapstructure:"cache" yaml:"cache"`
	Log           LogConfig          `mapstructure:"log" yaml:"log"`
}

// ConfigDir returns ~/.config/heritage, or the working directory when the
// home directory cannot be resolved.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "heritage")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/heritage/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		API: APIConfig{
			BaseURL:    "http://localhost:8000/api/v1",
			TimeoutSec: 8,
		},
		Notifications: NotificationConfig{
			PollIntervalSec:    30,
			MaxPollIntervalSec: 300,
			BackoffThreshold:   2,
			BackoffFactor:      1.5,
			PageSize:           20,
		},
		Session: SessionConfig{
			KeyringService: "heritage",
			KeyringDir:     filepath.Join(ConfigDir(), "credentials"),
			ExpiryWindowMs: 2000,
		},
		Cache: CacheConfig{
			Path: ":memory:",
		},
		Log: LogConfig{
			Level:  "info",
			File:   filepath.Join(ConfigDir(), "heritage.log"),
			Format: "json",
		},
	}
}

// setDefaults registers every default so missing keys resolve to
// sensible values and env overrides can bind to them.
func setDefaults(v *viper.Viper) {
	d := defaultAppConfig()
	v.SetDefault("api.base_url", d.API.BaseURL)
	v.SetDefault("api.timeout_sec", d.API.TimeoutSec)
	v.SetDefault("notifications.poll_interval_sec", d.Notifications.PollIntervalSec)
	v.SetDefault("notifications.max_poll_interval_sec", d.Notifications.MaxPollIntervalSec)
	v.SetDefault("notifications.backoff_threshold", d.Notifications.BackoffThreshold)
	v.SetDefault("notifications.backoff_factor", d.Notifications.BackoffFactor)
	v.SetDefault("notifications.page_size", d.Notifications.PageSize)
	v.SetDefault("session.keyring_service", d.Session.KeyringService)
	v.SetDefault("session.keyring_dir", d.Session.KeyringDir)
	v.SetDefault("session.expiry_window_ms", d.Session.ExpiryWindowMs)
	v.SetDefault("cache.path", d.Cache.Path)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.format", d.Log.Format)
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// HERITAGE_* environment variables override file values (for example
// HERITAGE_API_BASE_URL). If the file does not exist, defaults apply.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("heritage")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		_, pathErr := err.(*os.PathError)
		if !notFound && !pathErr {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.normalize()
	return cfg, nil
}

// normalize replaces out-of-range values with their defaults.
func (c *AppConfig) normalize() {
	d := defaultAppConfig()
	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	if c.API.BaseURL == "" {
		c.API.BaseURL = d.API.BaseURL
	}
	if c.API.TimeoutSec <= 0 {
		c.API.TimeoutSec = d.API.TimeoutSec
	}
	n := &c.Notifications
	if n.PollIntervalSec <= 0 {
		n.PollIntervalSec = d.Notifications.PollIntervalSec
	}
	if n.MaxPollIntervalSec < n.PollIntervalSec {
		n.MaxPollIntervalSec = d.Notifications.MaxPollIntervalSec
	}
	if n.BackoffThreshold <= 0 {
		n.BackoffThreshold = d.Notifications.BackoffThreshold
	}
	if n.BackoffFactor <= 1 {
		n.BackoffFactor = d.Notifications.BackoffFactor
	}
	if n.PageSize <= 0 {
		n.PageSize = d.Notifications.PageSize
	}
	if c.Cache.Path == "" {
		c.Cache.Path = d.Cache.Path
	}
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("api", cfg.API)
	v.Set("notifications", cfg.Notifications)
	v.Set("session", cfg.Session)
	v.Set("cache", cfg.Cache)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
