// Package config handles entitysync configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order:
// ./config.yaml, ~/.config/entitysync/config.yaml, /config/config.yaml,
// /etc/entitysync/config.yaml. FindConfig checks an explicit path (from
// the -config flag) before these.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "entitysync", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/entitysync/config.yaml")
	return paths
}

// searchPathsFunc is DefaultSearchPaths by default; tests override it to
// avoid picking up real config files on the developer's machine.
var searchPathsFunc = DefaultSearchPaths

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches searchPathsFunc() and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range searchPathsFunc() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPathsFunc())
}

// Config holds all entitysync configuration.
type Config struct {
	Listen   ListenConfig `yaml:"listen"`
	Frame    FrameConfig  `yaml:"frame"`
	Auth     AuthConfig   `yaml:"auth"`
	DataDir  string       `yaml:"data_dir"`
	LogLevel string       `yaml:"log_level"`
}

// ListenConfig defines the WebSocket transport's bind settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// FrameConfig controls the server's per-frame stage loop.
type FrameConfig struct {
	// Interval is the period between (ingress, detect, snapshot, mutate,
	// dispatch) passes. Default: 50ms (20Hz).
	Interval time.Duration `yaml:"interval"`
}

// AuthConfig defines connection authentication and ownership authorization.
type AuthConfig struct {
	// BcryptHash is the bcrypt hash of the bearer token required on the
	// WebSocket upgrade handshake. Empty disables bearer-token auth.
	BcryptHash string `yaml:"bcrypt_hash"`
	// OwnershipDBPath is the SQLite database backing the ownership
	// authorizer. Empty disables it in favor of server-only authorization.
	OwnershipDBPath string `yaml:"ownership_db_path"`
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates
// the result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${HOME}, ${ENTITYSYNC_AUTH_TOKEN}).
	// This is a convenience for container deployments; the recommended
	// approach is to put values directly in the config file.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. After this, callers can read any field
// without checking for empty strings or zero values.
func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 7777
	}
	if c.Frame.Interval == 0 {
		c.Frame.Interval = 50 * time.Millisecond
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
}

// Validate checks that the configuration is internally consistent.
// It runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range (1-65535)", c.Listen.Port)
	}
	if c.Frame.Interval <= 0 {
		return fmt.Errorf("frame.interval must be positive, got %s", c.Frame.Interval)
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Configured reports whether the ownership authorizer has a database to
// open. A server with no path falls back to server-only authorization.
func (c AuthConfig) Configured() bool {
	return c.OwnershipDBPath != ""
}

// Default returns a default configuration suitable for local development.
// All defaults are already applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
