// Package config loads the Chromon run configuration: YAML file defaults
// overridden by command-line flags, per spec §6's configuration surface.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RemoteConfig is the optional remote log-shipping endpoint.
type RemoteConfig struct {
	Enable bool   `yaml:"enable_remote"`
	Scheme string `yaml:"scheme"`
	UseSSL bool   `yaml:"usessl"`
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
}

// Config is the full recognized configuration surface (spec §6).
type Config struct {
	DebugeeHost string `yaml:"debugeehost"`
	DebugeePort int    `yaml:"debugeeport"`

	LogDir   string `yaml:"logdir"`
	Username string `yaml:"username"`
	Hostname string `yaml:"hostname"`
	Tag      string `yaml:"tag"`

	StrictLog bool `yaml:"strictlog"`

	Remote RemoteConfig `yaml:"remote"`
}

// Default returns the configuration's documented defaults.
func Default() *Config {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return &Config{
		DebugeeHost: "localhost",
		DebugeePort: 9222,
		LogDir:      cwd,
		Username:    "default",
		Hostname:    "default",
		Tag:         "default",
		StrictLog:   false,
	}
}

// Load reads a YAML configuration file at path over top of the documented
// defaults. A missing file is not an error — it yields the defaults
// unchanged, matching the source's permissive first-run behavior.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate enforces the ConfigError conditions spec §7 assigns to startup:
// a bad port is fail-fast, not recoverable.
func (c *Config) Validate() error {
	if c.DebugeePort <= 0 || c.DebugeePort > 65535 {
		return fmt.Errorf("config: debugeeport out of range: %d", c.DebugeePort)
	}
	if c.Remote.Enable {
		if c.Remote.Host == "" {
			return fmt.Errorf("config: enable_remote is set but remote.host is empty")
		}
		if c.Remote.Port <= 0 || c.Remote.Port > 65535 {
			return fmt.Errorf("config: remote.port out of range: %d", c.Remote.Port)
		}
	}
	return nil
}
