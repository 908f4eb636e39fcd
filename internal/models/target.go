// Package models defines the core domain types for fedeploy.
package models

import (
	"path/filepath"
	"strconv"
)

// ArtifactName is the local archive file name, created inside the project directory.
const ArtifactName = "dist.zip"

// AuthMode identifies how a target authenticates over SSH.
type AuthMode string

const (
	AuthPassword AuthMode = "password"
	AuthKey      AuthMode = "key"
)

// Mode selects which content is shipped and which remote paths are replaced.
type Mode int

const (
	// ModeIncremental replaces only index.html, index.html.gz and static/.
	ModeIncremental Mode = iota
	// ModeFull replaces everything under the live directory.
	ModeFull
)

func (m Mode) String() string {
	switch m {
	case ModeIncremental:
		return "incremental"
	case ModeFull:
		return "full"
	default:
		return "unknown"
	}
}

// ModeFromIncremental maps a yes/no answer to a Mode.
func ModeFromIncremental(incremental bool) Mode {
	if incremental {
		return ModeIncremental
	}
	return ModeFull
}

// Target is one fully resolved environment deployment.
type Target struct {
	// Name is the display label (e.g. "staging").
	Name string `json:"name" mapstructure:"name"`

	// Command is the environment key used as the CLI subcommand.
	Command string `json:"command" mapstructure:"-"`

	// ProjectName is shared across all environments of a config file.
	ProjectName string `json:"project_name" mapstructure:"-"`

	// Script is the local build command.
	Script string `json:"script" mapstructure:"script"`

	Host     string `json:"host" mapstructure:"host"`
	Port     int    `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`

	// Password is used only when PrivateKey is empty.
	Password string `json:"password,omitempty" mapstructure:"password"`

	// PrivateKey is a path to a local private key file.
	PrivateKey string `json:"private_key,omitempty" mapstructure:"-"`

	// Passphrase optionally unlocks PrivateKey.
	Passphrase string `json:"passphrase,omitempty" mapstructure:"-"`

	// ProjectDir is the local project root.
	ProjectDir string `json:"project_dir" mapstructure:"projectDir"`

	// DistPath is the build output directory, relative to ProjectDir.
	DistPath string `json:"dist_path" mapstructure:"distPath"`

	// WebDir is the remote live directory.
	WebDir string `json:"web_dir" mapstructure:"webDir"`

	// BackupDir is the remote directory that receives backup tarballs.
	BackupDir string `json:"backup_dir" mapstructure:"backupDir"`
}

// AuthMode reports which credential the target uses. Key auth wins whenever
// a private key is configured; the password is then ignored entirely.
func (t *Target) AuthMode() AuthMode {
	if t.PrivateKey != "" {
		return AuthKey
	}
	return AuthPassword
}

// DistDir returns the build output directory resolved against ProjectDir.
func (t *Target) DistDir() string {
	if filepath.IsAbs(t.DistPath) {
		return filepath.Clean(t.DistPath)
	}
	return filepath.Join(t.ProjectDir, t.DistPath)
}

// ArtifactPath returns the local archive path.
func (t *Target) ArtifactPath() string {
	return filepath.Join(t.ProjectDir, ArtifactName)
}

// Address returns host:port for dialing.
func (t *Target) Address() string {
	port := t.Port
	if port == 0 {
		port = 22
	}
	return t.Host + ":" + strconv.Itoa(port)
}

// RequiredKeys lists the config keys an environment must set for the given
// auth mode, in reporting order.
func RequiredKeys(mode AuthMode) []string {
	keys := []string{"name", "script", "host", "port", "username"}
	if mode == AuthPassword {
		keys = append(keys, "password")
	}
	return append(keys, "projectDir", "distPath", "webDir", "backupDir")
}

// Validate checks that every required field is populated. It is a
// precondition for a deployment, not a pipeline step.
func (t *Target) Validate() error {
	empty := map[string]bool{
		"name":       t.Name == "",
		"script":     t.Script == "",
		"host":       t.Host == "",
		"port":       t.Port == 0,
		"username":   t.Username == "",
		"password":   t.Password == "",
		"projectDir": t.ProjectDir == "",
		"distPath":   t.DistPath == "",
		"webDir":     t.WebDir == "",
		"backupDir":  t.BackupDir == "",
	}

	validation := &ValidationErrors{Scope: t.Command}
	for _, key := range RequiredKeys(t.AuthMode()) {
		if empty[key] {
			validation.AddMessage(key, "is not set")
		}
	}
	if t.Port < 0 || t.Port > 65535 {
		validation.AddMessage("port", "must be between 1 and 65535")
	}
	return validation.Err()
}

// Redacted returns a copy safe for logging.
func (t Target) Redacted() Target {
	if t.Password != "" {
		t.Password = redactedValue
	}
	if t.Passphrase != "" {
		t.Passphrase = redactedValue
	}
	return t
}

const redactedValue = "[REDACTED]"
