package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	xssh "golang.org/x/crypto/ssh"

	"github.com/tOgg1/fedeploy/internal/logging"
)

const defaultConnectTimeout = 30 * time.Second

// NativeSession implements Session with golang.org/x/crypto/ssh over a
// single client connection.
type NativeSession struct {
	options ConnectionOptions
	logger  zerolog.Logger

	// PassphrasePrompt is consulted for encrypted keys without a configured passphrase.
	PassphrasePrompt PassphrasePrompt

	mu     sync.Mutex
	state  State
	client *xssh.Client
}

// NewNativeSession creates a disconnected session.
func NewNativeSession(options ConnectionOptions) *NativeSession {
	return &NativeSession{
		options: options,
		logger:  logging.Component("ssh"),
	}
}

// State reports the current lifecycle state.
func (s *NativeSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect dials and authenticates. It fails fast when called in any state
// other than StateDisconnected.
func (s *NativeSession) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return ErrSessionClosed
	case StateConnecting, StateConnected:
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.state = StateConnecting
	s.mu.Unlock()

	client, err := s.dial(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateDisconnected
		return err
	}
	s.client = client
	s.state = StateConnected
	s.logger.Debug().Str("addr", s.options.addr()).Str("user", s.options.User).Msg("ssh connected")
	return nil
}

func (s *NativeSession) dial(ctx context.Context) (*xssh.Client, error) {
	addr := s.options.addr()
	if s.options.Host == "" {
		return nil, &ConnectError{Addr: addr, Err: ErrMissingHost}
	}

	config, err := s.clientConfig()
	if err != nil {
		return nil, &ConnectError{Addr: addr, Auth: true, Err: err}
	}

	dialer := net.Dialer{Timeout: config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectError{Addr: addr, Err: err}
	}

	// The handshake itself is not context aware; bound it with a deadline.
	deadline := time.Now().Add(config.Timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = conn.SetDeadline(deadline)

	clientConn, chans, reqs, err := xssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, &ConnectError{Addr: addr, Auth: isAuthFailure(err), Err: err}
	}
	_ = conn.SetDeadline(time.Time{})

	return xssh.NewClient(clientConn, chans, reqs), nil
}

func (s *NativeSession) clientConfig() (*xssh.ClientConfig, error) {
	auth, err := s.authMethod()
	if err != nil {
		return nil, err
	}

	hostKeys, err := hostKeyCallback(s.options.KnownHostsPath)
	if err != nil {
		return nil, err
	}

	timeout := s.options.Timeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	return &xssh.ClientConfig{
		User:            s.options.User,
		Auth:            []xssh.AuthMethod{auth},
		HostKeyCallback: hostKeys,
		Timeout:         timeout,
	}, nil
}

// authMethod returns exactly one auth method: the key when a key path is
// configured, the password otherwise.
func (s *NativeSession) authMethod() (xssh.AuthMethod, error) {
	if s.options.KeyPath != "" {
		signer, err := LoadPrivateKey(s.options.KeyPath, s.options.Passphrase, s.PassphrasePrompt)
		if err != nil {
			return nil, err
		}
		return xssh.PublicKeys(signer), nil
	}
	if s.options.Password != "" {
		return xssh.Password(s.options.Password), nil
	}
	return nil, ErrMissingCredentials
}

func isAuthFailure(err error) bool {
	return err != nil && strings.Contains(err.Error(), "unable to authenticate")
}

func (s *NativeSession) connectedClient() (*xssh.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateConnected:
		return s.client, nil
	case StateClosed:
		return nil, ErrSessionClosed
	default:
		return nil, ErrNotConnected
	}
}

// Run executes cmd remotely. Only transport failures are returned as errors.
func (s *NativeSession) Run(ctx context.Context, cmd, cwd string) (Result, error) {
	client, err := s.connectedClient()
	if err != nil {
		return Result{}, err
	}

	session, err := client.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("open ssh session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	full := withCwd(cmd, cwd)
	s.logger.Debug().Str("cmd", full).Msg("running remote command")

	err = runWithContext(ctx, session, full)
	result := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	var exitErr *xssh.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitStatus()
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("run %q: %w", cmd, err)
	}
	return result, nil
}

// Upload streams localPath into remotePath through `cat` on the remote side.
func (s *NativeSession) Upload(ctx context.Context, localPath, remotePath string, progress io.Writer) error {
	client, err := s.connectedClient()
	if err != nil {
		return &TransferError{Local: localPath, Remote: remotePath, Err: err}
	}

	file, err := os.Open(localPath)
	if err != nil {
		return &TransferError{Local: localPath, Remote: remotePath, Err: err}
	}
	defer file.Close()

	session, err := client.NewSession()
	if err != nil {
		return &TransferError{Local: localPath, Remote: remotePath, Err: err}
	}
	defer session.Close()

	var stdin io.Reader = file
	if progress != nil {
		stdin = io.TeeReader(file, progress)
	}
	var stderr bytes.Buffer
	session.Stdin = stdin
	session.Stderr = &stderr

	if err := runWithContext(ctx, session, "cat > "+Quote(remotePath)); err != nil {
		return &TransferError{
			Local:  localPath,
			Remote: remotePath,
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
	}
	s.logger.Debug().Str("local", localPath).Str("remote", remotePath).Msg("upload complete")
	return nil
}

// Close ends the connection. Closing twice is a no-op.
func (s *NativeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func runWithContext(ctx context.Context, session *xssh.Session, cmd string) error {
	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = session.Signal(xssh.SIGKILL)
		_ = session.Close()
		return ctx.Err()
	}
}
