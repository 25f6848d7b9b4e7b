// Package config provides configuration management for the G15
// configuration controller. It handles loading, saving, and validating
// application settings. Device, profile and macro data live in the
// configuration store, not here.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/yllada/g15-config/common"
)

// Config represents the application configuration.
// All settings are persisted to a YAML file in the user's config directory.
type Config struct {
	// LogLevel is one of "debug", "info", "warn" or "error".
	LogLevel string `yaml:"log_level"`
	// LogToFile also writes the log to ~/.config/gnome15/logs.
	LogToFile bool `yaml:"log_to_file"`
	// StorePath is the sqlite file backing the configuration store.
	// Empty means ~/.config/gnome15/config.db.
	StorePath string `yaml:"store_path"`
	// WatchStore follows writes made to the store by other processes.
	WatchStore bool `yaml:"watch_store"`
	// EventQueueSize bounds a device session's inbound event queue.
	EventQueueSize int `yaml:"event_queue_size"`
	// ModelsFile optionally replaces the built-in device model catalogue.
	ModelsFile string `yaml:"models_file"`
	// HIDDiscovery enumerates attached Logitech keyboards over USB.
	HIDDiscovery bool `yaml:"hid_discovery"`
	// VirtualDevice always offers the virtual (LCD-only) device.
	VirtualDevice bool `yaml:"virtual_device"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:       "info",
		LogToFile:      false,
		WatchStore:     true,
		EventQueueSize: common.DefaultEventQueueSize,
		HIDDiscovery:   true,
		VirtualDevice:  true,
	}
}

// Load loads the configuration from the default config file.
// If the file doesn't exist, it creates one with default values.
func Load() (*Config, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(configPath)
}

// LoadFile loads the configuration from path, writing defaults there when
// the file does not exist yet.
func LoadFile(path string) (*Config, error) {
	if !common.FileExists(path) {
		cfg := DefaultConfig()
		if err := cfg.SaveFile(path); err != nil {
			return cfg, err
		}
		return cfg, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrConfigLoad, err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)

	config := DefaultConfig()
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", common.ErrConfigLoad, path, err)
	}

	config.validate()
	return config, nil
}

// validate replaces out-of-range values with their defaults.
func (c *Config) validate() {
	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		c.LogLevel = "info"
	}
	if c.EventQueueSize <= 0 {
		c.EventQueueSize = common.DefaultEventQueueSize
	}
}

// ResolvedStorePath returns StorePath, or the default store location when
// it is unset.
func (c *Config) ResolvedStorePath() (string, error) {
	if c.StorePath != "" {
		return c.StorePath, nil
	}
	dir, err := common.GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, common.StoreFileName), nil
}

// Save saves the configuration to the default file.
func (c *Config) Save() error {
	configPath, err := getConfigPath()
	if err != nil {
		return err
	}
	return c.SaveFile(configPath)
}

// SaveFile saves the configuration to path.
func (c *Config) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("%w: creating config directory: %v", common.ErrConfigSave, err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("%w: serializing: %v", common.ErrConfigSave, err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("%w: %v", common.ErrConfigSave, err)
	}

	return nil
}

func getConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("error getting home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", common.ConfigDirName, common.ConfigFileName), nil
}
