// Package config handles fedeploy tool settings and deploy target files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration structure for fedeploy itself. Deploy
// targets live in a separate per-project file, see LoadTargets.
type Config struct {
	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// SSH transport settings
	SSH SSHConfig `yaml:"ssh" mapstructure:"ssh"`

	// History ledger settings
	History HistoryConfig `yaml:"history" mapstructure:"history"`

	// Deploy file settings
	Deploy DeployConfig `yaml:"deploy" mapstructure:"deploy"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console).
	Format string `yaml:"format" mapstructure:"format"`

	// File is an optional log file path. Logs go to stderr when empty.
	File string `yaml:"file" mapstructure:"file"`
}

// SSHConfig contains SSH transport settings shared by every target.
type SSHConfig struct {
	// Backend is the SSH implementation (native, system).
	Backend string `yaml:"backend" mapstructure:"backend"`

	// Timeout bounds connection establishment.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	// KnownHosts enables host key verification when set.
	KnownHosts string `yaml:"known_hosts" mapstructure:"known_hosts"`
}

// HistoryConfig controls the local deployment ledger.
type HistoryConfig struct {
	// Enabled records every run in the ledger.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// Path is the SQLite database file path.
	Path string `yaml:"path" mapstructure:"path"`
}

// DeployConfig locates the per-project deploy file.
type DeployConfig struct {
	// ConfigPath is the deploy config file, relative to the working directory.
	ConfigPath string `yaml:"config_path" mapstructure:"config_path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "console",
		},
		SSH: SSHConfig{
			Backend: "native",
			Timeout: 30 * time.Second,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    filepath.Join(homeDir, ".local", "share", "fedeploy", "history.db"),
		},
		Deploy: DeployConfig{
			ConfigPath: DefaultDeployConfigPath(),
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be one of console, json")
	}

	switch c.SSH.Backend {
	case "native", "system":
	default:
		return fmt.Errorf("ssh.backend must be one of native, system")
	}

	if c.SSH.Timeout < time.Second {
		return fmt.Errorf("ssh.timeout must be at least 1s")
	}

	if c.History.Enabled && c.History.Path == "" {
		return fmt.Errorf("history.path is required when history is enabled")
	}

	if c.Deploy.ConfigPath == "" {
		return fmt.Errorf("deploy.config_path is required")
	}

	return nil
}

// EnsureDirectories creates the directories the configuration writes into.
func (c *Config) EnsureDirectories() error {
	var dirs []string
	if c.History.Enabled {
		dirs = append(dirs, filepath.Dir(c.History.Path))
	}
	if c.Logging.File != "" {
		dirs = append(dirs, filepath.Dir(c.Logging.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
