package config

import (
	"os"
	"path/filepath"

	"wlproxy/pkg/errors"

	"gopkg.in/yaml.v3"
)

// Defaults applied when neither the config file nor the environment
// says otherwise.
const (
	DefaultDownstreamDisplay = "wayland-2"
	DefaultEventsPath        = "./events.bin"
	DefaultChildStdoutPath   = "./out.log"
	DefaultChildStderrPath   = "./err.log"
)

// Config holds the proxy configuration loaded from the YAML file.
type Config struct {
	Display DisplayConfig `yaml:"display"`
	Paths   PathsConfig   `yaml:"paths"`
	Catalog CatalogConfig `yaml:"catalog"`
}

type DisplayConfig struct {
	// Downstream is the socket name exported to the child via
	// WAYLAND_DISPLAY.
	Downstream string `yaml:"downstream"`
}

type PathsConfig struct {
	Events      string `yaml:"events"`
	ChildStdout string `yaml:"child_stdout"`
	ChildStderr string `yaml:"child_stderr"`
}

type CatalogConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Path    string `yaml:"path"`
}

// Load reads the configuration file if present, applies environment
// overrides, and fills in defaults. A missing file is not an error.
func Load() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, errors.NewWithError(errors.ExitCodeSetup, "failed to get config path", err)
	}
	return loadFromPath(configPath)
}

// GetConfigPath returns the path to the config file.
func GetConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "wlproxy", "config.yaml"), nil
}

// Save writes the configuration to its file, creating the directory if
// needed.
func Save(cfg *Config) error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return errors.NewWithError(errors.ExitCodeSetup, "failed to create config directory", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.NewWithError(errors.ExitCodeSetup, "failed to marshal config", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return errors.NewWithError(errors.ExitCodeSetup, "failed to write config file", err)
	}

	return nil
}

// CatalogEnabled reports whether session bookkeeping is on. Unset means
// enabled.
func (c *Config) CatalogEnabled() bool {
	return c.Catalog.Enabled == nil || *c.Catalog.Enabled
}

// CatalogPath returns the catalog database location, defaulting next to
// the config file.
func (c *Config) CatalogPath() (string, error) {
	if c.Catalog.Path != "" {
		return c.Catalog.Path, nil
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "wlproxy", "catalog.db"), nil
}

func loadFromPath(configPath string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(configPath)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.NewWithError(errors.ExitCodeSetup, "failed to parse config file", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.NewWithError(errors.ExitCodeSetup, "failed to read config file", err)
	}

	applyEnvironmentOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

func applyEnvironmentOverrides(cfg *Config) {
	cfg.Display.Downstream = getEnv("WLPROXY_DOWNSTREAM_DISPLAY", cfg.Display.Downstream)
	cfg.Paths.Events = getEnv("WLPROXY_EVENTS", cfg.Paths.Events)
	cfg.Catalog.Path = getEnv("WLPROXY_CATALOG", cfg.Catalog.Path)
}

func applyDefaults(cfg *Config) {
	if cfg.Display.Downstream == "" {
		cfg.Display.Downstream = DefaultDownstreamDisplay
	}
	if cfg.Paths.Events == "" {
		cfg.Paths.Events = DefaultEventsPath
	}
	if cfg.Paths.ChildStdout == "" {
		cfg.Paths.ChildStdout = DefaultChildStdoutPath
	}
	if cfg.Paths.ChildStderr == "" {
		cfg.Paths.ChildStderr = DefaultChildStderrPath
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
