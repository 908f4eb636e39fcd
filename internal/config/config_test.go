package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, "native", cfg.SSH.Backend)
	require.Equal(t, 30*time.Second, cfg.SSH.Timeout)
	require.True(t, cfg.History.Enabled)
	require.Equal(t, filepath.Join("deploy", "deploy.config.yaml"), cfg.Deploy.ConfigPath)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad backend", func(c *Config) { c.SSH.Backend = "telnet" }, "ssh.backend"},
		{"short timeout", func(c *Config) { c.SSH.Timeout = time.Millisecond }, "ssh.timeout"},
		{"history without path", func(c *Config) { c.History.Path = "" }, "history.path"},
		{"disabled history without path", func(c *Config) {
			c.History.Enabled = false
			c.History.Path = ""
		}, ""},
		{"empty deploy path", func(c *Config) { c.Deploy.ConfigPath = "" }, "deploy.config_path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoaderFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
logging:
  level: debug
ssh:
  backend: system
  timeout: 5s
  known_hosts: ~/.ssh/known_hosts
history:
  enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	t.Setenv("FEDEPLOY_LOGGING_FORMAT", "json")
	t.Setenv("FEDEPLOY_DEPLOY_CONFIG_PATH", "ops/deploy.yaml")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	home, _ := os.UserHomeDir()
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "json", cfg.Logging.Format)
	require.Equal(t, "system", cfg.SSH.Backend)
	require.Equal(t, 5*time.Second, cfg.SSH.Timeout)
	require.Equal(t, filepath.Join(home, ".ssh", "known_hosts"), cfg.SSH.KnownHosts)
	require.False(t, cfg.History.Enabled)
	require.Equal(t, "ops/deploy.yaml", cfg.Deploy.ConfigPath)
}

func TestLoaderExplicitFileMustExist(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoaderWithoutFileUsesDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := LoadDefault()
	require.NoError(t, err)
	require.Equal(t, "warn", cfg.Logging.Level)
	require.Equal(t, "native", cfg.SSH.Backend)
}

func TestLoaderInvalidValue(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("FEDEPLOY_SSH_BACKEND", "rsh")

	_, err := LoadDefault()
	require.ErrorContains(t, err, "ssh.backend")
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.History.Path = filepath.Join(dir, "data", "history.db")
	cfg.Logging.File = filepath.Join(dir, "logs", "fedeploy.log")

	require.NoError(t, cfg.EnsureDirectories())
	require.DirExists(t, filepath.Join(dir, "data"))
	require.DirExists(t, filepath.Join(dir, "logs"))
}
