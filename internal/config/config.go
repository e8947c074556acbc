// Package config handles the vdt tool configuration (~/.vdt/config.toml)
// and the per-root reasoner backend configuration (reasoners.toml).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// DefaultRoot is the session root used when none is configured.
const DefaultRoot = ".vdt"

// Config holds vdt tool settings.
type Config struct {
	Root             string  `toml:"root,omitempty" json:"root,omitempty"`
	DBPath           string  `toml:"db_path,omitempty" json:"db_path,omitempty"`
	DefaultFormat    string  `toml:"default_format,omitempty" json:"default_format,omitempty"`
	LogLevel         string  `toml:"log_level,omitempty" json:"log_level,omitempty"`
	WindowSize       int     `toml:"window_size,omitempty" json:"window_size,omitempty"`
	WindowStride     int     `toml:"window_stride,omitempty" json:"window_stride,omitempty"`
	DensityThreshold float64 `toml:"density_threshold,omitempty" json:"density_threshold,omitempty"`
	MaxRetries       *int    `toml:"max_retries,omitempty" json:"max_retries,omitempty"`
}

// validKeys lists the allowed configuration keys.
var validKeys = map[string]bool{
	"root":              true,
	"db_path":           true,
	"default_format":    true,
	"log_level":         true,
	"window_size":       true,
	"window_stride":     true,
	"density_threshold": true,
	"max_retries":       true,
}

// ValidKeys returns the sorted list of valid configuration keys.
func ValidKeys() []string {
	return []string{"db_path", "default_format", "density_threshold", "log_level", "max_retries", "root", "window_size", "window_stride"}
}

// Path returns the default config file path (~/.vdt/config.toml).
func Path() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".vdt", "config.toml")
	}
	return filepath.Join(home, ".vdt", "config.toml")
}

// LoadFrom reads the config from a specific path. Returns an empty Config if
// the file does not exist. Supports both TOML and JSON formats (detected by
// file extension; defaults to TOML).
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if filepath.Ext(path) == ".json" {
		err = json.Unmarshal(data, &cfg)
	} else {
		err = toml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// SaveTo writes the config to path, creating parent directories as needed.
// A .json path is written as JSON, anything else as TOML.
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	var (
		data []byte
		err  error
	)
	if filepath.Ext(path) == ".json" {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = toml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// RootDir returns the configured session root, or DefaultRoot.
func (c *Config) RootDir() string {
	if c.Root != "" {
		return c.Root
	}
	return DefaultRoot
}

// Database returns the configured database path, or vdt.db under the root.
func (c *Config) Database() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return filepath.Join(c.RootDir(), "vdt.db")
}

// Retries returns the configured retry count, or def when unset.
func (c *Config) Retries(def int) int {
	if c.MaxRetries != nil {
		return *c.MaxRetries
	}
	return def
}

// Get returns the string value of a configuration key.
func (c *Config) Get(key string) (string, error) {
	if !validKeys[key] {
		return "", fmt.Errorf("unknown config key %q (valid keys: %s)", key, strings.Join(ValidKeys(), ", "))
	}
	switch key {
	case "root":
		return c.Root, nil
	case "db_path":
		return c.DBPath, nil
	case "default_format":
		return c.DefaultFormat, nil
	case "log_level":
		return c.LogLevel, nil
	case "window_size":
		return intString(c.WindowSize), nil
	case "window_stride":
		return intString(c.WindowStride), nil
	case "density_threshold":
		if c.DensityThreshold == 0 {
			return "", nil
		}
		return strconv.FormatFloat(c.DensityThreshold, 'f', -1, 64), nil
	case "max_retries":
		if c.MaxRetries == nil {
			return "", nil
		}
		return strconv.Itoa(*c.MaxRetries), nil
	}
	return "", fmt.Errorf("unknown config key %q", key)
}

func intString(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

// Set assigns a value to a configuration key. An empty value clears it.
func (c *Config) Set(key, value string) error {
	if !validKeys[key] {
		return fmt.Errorf("unknown config key %q (valid keys: %s)", key, strings.Join(ValidKeys(), ", "))
	}
	switch key {
	case "root":
		c.Root = value
	case "db_path":
		c.DBPath = value
	case "default_format":
		if value != "" && value != "table" && value != "json" {
			return fmt.Errorf("default_format must be \"table\" or \"json\", got %q", value)
		}
		c.DefaultFormat = value
	case "log_level":
		switch strings.ToLower(value) {
		case "", "debug", "info", "warn", "error":
			c.LogLevel = strings.ToLower(value)
		default:
			return fmt.Errorf("log_level must be debug, info, warn or error, got %q", value)
		}
	case "window_size", "window_stride":
		n, err := parseNonNegative(key, value)
		if err != nil {
			return err
		}
		if key == "window_size" {
			c.WindowSize = n
		} else {
			c.WindowStride = n
		}
	case "density_threshold":
		if value == "" {
			c.DensityThreshold = 0
			return nil
		}
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || f <= 0 || f >= 1 {
			return fmt.Errorf("density_threshold must be a number between 0 and 1, got %q", value)
		}
		c.DensityThreshold = f
	case "max_retries":
		if value == "" {
			c.MaxRetries = nil
			return nil
		}
		n, err := parseNonNegative(key, value)
		if err != nil {
			return err
		}
		c.MaxRetries = &n
	}
	return nil
}

func parseNonNegative(key, value string) (int, error) {
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", key, value)
	}
	return n, nil
}
