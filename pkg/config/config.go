// Package config loads and persists chatbridge settings. Settings live in a
// YAML file (default ~/.chatbridge/config.yaml) which is created with
// defaults on first run; individual fields can be overridden through
// CHATBRIDGE_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for every tunable.
const (
	DefaultPort            = 8110
	DefaultMaxSessions     = 20
	DefaultIdleTimeout     = 5 * time.Minute
	DefaultAcceptTimeout   = 10 * time.Second
	DefaultLoopInterval    = 200 * time.Millisecond
	DefaultPageLoadTimeout = 3 * time.Second
	DefaultViewportWidth   = 1280
	DefaultViewportHeight  = 720
)

// Config holds every chatbridge setting.
type Config struct {
	// Port the broker listens on.
	Port int `yaml:"port"`

	// MaxSessions caps concurrently live chat sessions.
	MaxSessions int `yaml:"max_sessions"`

	// IdleTimeout is how long a session may sit unused before reaping.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// AcceptTimeout bounds each blocking accept in the serve loop.
	AcceptTimeout time.Duration `yaml:"accept_timeout"`

	// LoopInterval is the pause between serve-loop iterations.
	LoopInterval time.Duration `yaml:"loop_interval"`

	// ServiceURL is the chat service entry page; empty means the built-in
	// default site.
	ServiceURL string `yaml:"service_url"`

	// Browser settings for the automation driver.
	Headless        bool          `yaml:"headless"`
	ViewportWidth   int           `yaml:"viewport_width"`
	ViewportHeight  int           `yaml:"viewport_height"`
	PageLoadTimeout time.Duration `yaml:"page_load_timeout"`
}

// Default returns a config populated with every default.
func Default() Config {
	return Config{
		Port:            DefaultPort,
		MaxSessions:     DefaultMaxSessions,
		IdleTimeout:     DefaultIdleTimeout,
		AcceptTimeout:   DefaultAcceptTimeout,
		LoopInterval:    DefaultLoopInterval,
		ViewportWidth:   DefaultViewportWidth,
		ViewportHeight:  DefaultViewportHeight,
		PageLoadTimeout: DefaultPageLoadTimeout,
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(homeDir, ".chatbridge", "config.yaml"), nil
}

// Load reads the config at path, creating the file with defaults when it
// does not exist yet. An empty path means the default location. Environment
// overrides are applied after the file, and the result is validated.
func Load(path string) (Config, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return Config{}, err
		}
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if err := Save(path, cfg); err != nil {
			return Config{}, fmt.Errorf("writing initial config: %w", err)
		}
	case err != nil:
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes the config as YAML, creating parent directories as needed.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides fields from CHATBRIDGE_* environment variables.
// Malformed values are ignored in favor of the file's value.
func (c *Config) applyEnv() {
	if v := os.Getenv("CHATBRIDGE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv("CHATBRIDGE_MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxSessions = n
		}
	}
	if v := os.Getenv("CHATBRIDGE_IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.IdleTimeout = d
		}
	}
	if v := os.Getenv("CHATBRIDGE_SERVICE_URL"); v != "" {
		c.ServiceURL = v
	}
	if v := os.Getenv("CHATBRIDGE_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Headless = b
		}
	}
}

// Validate rejects configurations the broker cannot run with.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.MaxSessions < 1 {
		return fmt.Errorf("config: max_sessions must be at least 1, got %d", c.MaxSessions)
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("config: idle_timeout must be positive, got %s", c.IdleTimeout)
	}
	if c.AcceptTimeout <= 0 {
		return fmt.Errorf("config: accept_timeout must be positive, got %s", c.AcceptTimeout)
	}
	if c.LoopInterval <= 0 {
		return fmt.Errorf("config: loop_interval must be positive, got %s", c.LoopInterval)
	}
	if c.ViewportWidth < 1 || c.ViewportHeight < 1 {
		return fmt.Errorf("config: viewport %dx%d invalid", c.ViewportWidth, c.ViewportHeight)
	}
	if c.PageLoadTimeout <= 0 {
		return fmt.Errorf("config: page_load_timeout must be positive, got %s", c.PageLoadTimeout)
	}
	return nil
}
