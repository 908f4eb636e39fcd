package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tOgg1/fedeploy/internal/logging"
)

// ErrPasswordUnsupported is returned by the system backend, which runs ssh in
// batch mode and cannot type a password.
var ErrPasswordUnsupported = errors.New("system ssh backend supports key auth only")

// sshFailureExit is the status the ssh client itself exits with on
// connection or protocol errors.
const sshFailureExit = 255

// ExecError wraps ssh binary failures with exit details.
type ExecError struct {
	Command  string
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Err      error
}

func (e *ExecError) Error() string {
	msg := fmt.Sprintf("ssh command failed (exit=%d): %s", e.ExitCode, e.Command)
	if stderr := strings.TrimSpace(string(e.Stderr)); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// SystemSession runs commands through the system ssh binary, multiplexed
// over one control-master connection opened by Connect.
type SystemSession struct {
	options ConnectionOptions
	binary  string
	logger  zerolog.Logger

	mu          sync.Mutex
	state       State
	controlDir  string
	controlPath string
}

// NewSystemSession creates a disconnected session backed by the ssh binary.
func NewSystemSession(options ConnectionOptions) *SystemSession {
	return &SystemSession{
		options: options,
		binary:  "ssh",
		logger:  logging.Component("ssh"),
	}
}

// SetBinary overrides the ssh binary path.
func (s *SystemSession) SetBinary(path string) {
	if path != "" {
		s.binary = path
	}
}

// State reports the current lifecycle state.
func (s *SystemSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect starts the control master by running a no-op command.
func (s *SystemSession) Connect(ctx context.Context) error {
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

	err := s.connect(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateDisconnected
		s.removeControlDir()
		return err
	}
	s.state = StateConnected
	return nil
}

func (s *SystemSession) connect(ctx context.Context) error {
	addr := s.options.addr()
	if s.options.Host == "" {
		return &ConnectError{Addr: addr, Err: ErrMissingHost}
	}
	if s.options.KeyPath == "" {
		return &ConnectError{Addr: addr, Auth: true, Err: ErrPasswordUnsupported}
	}

	dir, err := os.MkdirTemp("", "fedeploy-ssh-")
	if err != nil {
		return &ConnectError{Addr: addr, Err: err}
	}
	s.controlDir = dir
	s.controlPath = filepath.Join(dir, "control")

	if _, _, err := s.exec(ctx, "true", nil); err != nil {
		var execErr *ExecError
		auth := errors.As(err, &execErr) && strings.Contains(string(execErr.Stderr), "Permission denied")
		return &ConnectError{Addr: addr, Auth: auth, Err: err}
	}
	return nil
}

func (s *SystemSession) requireConnected() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateConnected:
		return nil
	case StateClosed:
		return ErrSessionClosed
	default:
		return ErrNotConnected
	}
}

// Run executes cmd remotely. Exit status 255 is reported as a transport
// error because ssh reserves it for its own failures.
func (s *SystemSession) Run(ctx context.Context, cmd, cwd string) (Result, error) {
	if err := s.requireConnected(); err != nil {
		return Result{}, err
	}

	stdout, stderr, err := s.exec(ctx, withCwd(cmd, cwd), nil)
	result := Result{Stdout: stdout, Stderr: stderr}

	var execErr *ExecError
	if errors.As(err, &execErr) && execErr.ExitCode != sshFailureExit {
		result.ExitCode = execErr.ExitCode
		return result, nil
	}
	return result, err
}

// Upload streams localPath to remotePath through `cat`.
func (s *SystemSession) Upload(ctx context.Context, localPath, remotePath string, progress io.Writer) error {
	if err := s.requireConnected(); err != nil {
		return &TransferError{Local: localPath, Remote: remotePath, Err: err}
	}

	file, err := os.Open(localPath)
	if err != nil {
		return &TransferError{Local: localPath, Remote: remotePath, Err: err}
	}
	defer file.Close()

	var stdin io.Reader = file
	if progress != nil {
		stdin = io.TeeReader(file, progress)
	}

	if _, stderr, err := s.exec(ctx, "cat > "+Quote(remotePath), stdin); err != nil {
		return &TransferError{
			Local:  localPath,
			Remote: remotePath,
			Stderr: strings.TrimSpace(string(stderr)),
			Err:    err,
		}
	}
	return nil
}

// Close stops the control master.
func (s *SystemSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil
	}
	wasConnected := s.state == StateConnected
	s.state = StateClosed

	var err error
	if wasConnected {
		args, target := buildSSHArgs(s.options, s.controlPath)
		args = append(args, "-O", "exit", target)
		err = exec.Command(s.binary, args...).Run()
		if err != nil {
			s.logger.Debug().Err(err).Msg("control master exit failed")
		}
	}
	s.removeControlDir()
	return err
}

func (s *SystemSession) removeControlDir() {
	if s.controlDir == "" {
		return
	}
	_ = os.RemoveAll(s.controlDir)
	s.controlDir = ""
	s.controlPath = ""
}

func (s *SystemSession) exec(ctx context.Context, cmd string, stdin io.Reader) ([]byte, []byte, error) {
	args, target := buildSSHArgs(s.options, s.controlPath)
	args = append(args, target, cmd)

	command := exec.CommandContext(ctx, s.binary, args...)
	if stdin != nil {
		command.Stdin = stdin
	}

	var stdoutBuf bytes.Buffer
	var stderrBuf bytes.Buffer
	command.Stdout = &stdoutBuf
	command.Stderr = &stderrBuf

	s.logger.Debug().Str("cmd", cmd).Msg("running ssh")
	err := command.Run()
	stdout := stdoutBuf.Bytes()
	stderr := stderrBuf.Bytes()
	if err != nil {
		return stdout, stderr, wrapExecError(err, cmd, stdout, stderr)
	}
	return stdout, stderr, nil
}

func buildSSHArgs(options ConnectionOptions, controlPath string) ([]string, string) {
	args := []string{"-o", "BatchMode=yes"}
	if options.Port > 0 {
		args = append(args, "-p", fmt.Sprintf("%d", options.Port))
	}
	if options.KeyPath != "" {
		args = append(args, "-i", options.KeyPath, "-o", "IdentitiesOnly=yes")
	}
	if options.KnownHostsPath != "" {
		args = append(args,
			"-o", "StrictHostKeyChecking=yes",
			"-o", fmt.Sprintf("UserKnownHostsFile=%s", options.KnownHostsPath))
	} else {
		args = append(args,
			"-o", "StrictHostKeyChecking=no",
			"-o", "UserKnownHostsFile=/dev/null")
	}
	if controlPath != "" {
		args = append(args,
			"-o", "ControlMaster=auto",
			"-o", fmt.Sprintf("ControlPath=%s", controlPath),
			"-o", "ControlPersist=10m")
	}
	if options.Timeout > 0 {
		seconds := int(math.Ceil(options.Timeout.Seconds()))
		args = append(args, "-o", fmt.Sprintf("ConnectTimeout=%d", seconds))
	}

	target := options.Host
	if options.User != "" {
		target = fmt.Sprintf("%s@%s", options.User, options.Host)
	}
	return args, target
}

func wrapExecError(err error, cmd string, stdout, stderr []byte) error {
	if exitErr, ok := err.(*exec.ExitError); ok {
		return &ExecError{
			Command:  cmd,
			ExitCode: exitErr.ExitCode(),
			Stdout:   stdout,
			Stderr:   stderr,
			Err:      err,
		}
	}
	return err
}
