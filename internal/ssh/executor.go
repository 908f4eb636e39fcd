// Package ssh owns the remote shell connection used for one deployment.
package ssh

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tOgg1/fedeploy/internal/models"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Result is the outcome of one remote command. A nonzero ExitCode is not an
// error at this layer; callers decide whether it is fatal.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// OK reports whether the command exited with status zero.
func (r Result) OK() bool {
	return r.ExitCode == 0
}

// Runner runs commands on the remote host.
type Runner interface {
	// Run executes cmd with cwd as working directory (ignored when empty).
	Run(ctx context.Context, cmd, cwd string) (Result, error)
}

// Session is a single authenticated connection, owned by one deployment.
type Session interface {
	Runner

	// Connect establishes the connection. Valid only once, from StateDisconnected.
	Connect(ctx context.Context) error

	// Upload copies a local file to remotePath, writing transferred bytes to
	// progress when it is non-nil.
	Upload(ctx context.Context, localPath, remotePath string, progress io.Writer) error

	// State reports the current lifecycle state.
	State() State

	// Close ends the session. Closing twice is a no-op.
	Close() error
}

// Backend selects the SSH implementation.
type Backend string

const (
	BackendNative Backend = "native" // golang.org/x/crypto/ssh
	BackendSystem Backend = "system" // system ssh binary with a control master
)

// ConnectionOptions configures how an SSH connection is established.
type ConnectionOptions struct {
	// Host is the target host name or IP.
	Host string

	// Port is the SSH port (defaults to 22 when unset).
	Port int

	// User is the SSH username.
	User string

	// Password is used when KeyPath is empty.
	Password string

	// KeyPath is the private key path. When set, only key auth is attempted.
	KeyPath string

	// Passphrase unlocks an encrypted KeyPath.
	Passphrase string

	// KnownHostsPath enables host key verification against a known_hosts file.
	KnownHostsPath string

	// Timeout controls how long to wait when establishing connections.
	Timeout time.Duration
}

// OptionsFromTarget builds connection options for a deployment target.
// Exactly one credential is carried over.
func OptionsFromTarget(target *models.Target) ConnectionOptions {
	options := ConnectionOptions{
		Host: target.Host,
		Port: target.Port,
		User: target.Username,
	}
	if target.AuthMode() == models.AuthKey {
		options.KeyPath = target.PrivateKey
		options.Passphrase = target.Passphrase
	} else {
		options.Password = target.Password
	}
	return options
}

func (o ConnectionOptions) addr() string {
	port := o.Port
	if port <= 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", o.Host, port)
}

// New creates a session for the requested backend.
func New(backend Backend, options ConnectionOptions) (Session, error) {
	switch backend {
	case "", BackendNative:
		return NewNativeSession(options), nil
	case BackendSystem:
		return NewSystemSession(options), nil
	default:
		return nil, fmt.Errorf("unknown ssh backend %q", backend)
	}
}

// Quote single-quotes s for a POSIX shell.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func withCwd(cmd, cwd string) string {
	if cwd == "" {
		return cmd
	}
	return "cd " + Quote(cwd) + " && " + cmd
}
