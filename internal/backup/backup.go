// Package backup archives the remote live directory and clears it ahead of
// a new upload.
package backup

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/tOgg1/fedeploy/internal/logging"
	"github.com/tOgg1/fedeploy/internal/models"
	"github.com/tOgg1/fedeploy/internal/ssh"
)

const (
	unnamed         = "unnamed"
	timestampLayout = "20060102_150405"
)

// ErrUnsafeWebDir guards against clearing the filesystem root.
var ErrUnsafeWebDir = errors.New("refusing to operate on an empty or root web directory")

// Stage identifies a completed part of BackupAndClear.
type Stage int

const (
	StageBackup Stage = iota + 1
	StageDelete
)

// RemoteCommandError reports a remote command that exited nonzero.
type RemoteCommandError struct {
	Op       string
	Cmd      string
	ExitCode int
	Stderr   string
}

func (e *RemoteCommandError) Error() string {
	msg := fmt.Sprintf("%s failed: %q exited with code %d", e.Op, e.Cmd, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Result describes what BackupAndClear did.
type Result struct {
	// BackupPath is the remote tarball path.
	BackupPath string

	// Removed lists the remote paths deleted.
	Removed []string
}

// Name returns the tarball name for webDir at now:
// <basename>_YYYYMMDD_HHMMSS.tar.gz, in now's location.
func Name(webDir string, now time.Time) string {
	base := path.Base(strings.TrimSpace(webDir))
	if base == "" || base == "." || base == "/" {
		base = unnamed
	}
	return base + "_" + now.Format(timestampLayout) + ".tar.gz"
}

// Manager runs backup and deletion commands over a caller-owned runner.
type Manager struct {
	// Now is the clock used for backup names.
	Now func() time.Time

	// EnsureDir creates the backup directory before archiving.
	EnsureDir bool

	// Notify, when set, is called after each completed stage.
	Notify func(stage Stage, result Result)
}

// NewManager returns a Manager using the local wall clock.
func NewManager() *Manager {
	return &Manager{Now: time.Now, EnsureDir: true}
}

// BackupAndClear archives webDir into backupDir, then removes the paths the
// mode replaces. Deletion never starts unless the backup succeeded.
func (m *Manager) BackupAndClear(ctx context.Context, runner ssh.Runner, webDir, backupDir string, mode models.Mode) (Result, error) {
	var result Result

	webDir = path.Clean(webDir)
	if webDir == "/" || webDir == "." {
		return result, ErrUnsafeWebDir
	}

	backupPath, err := m.backup(ctx, runner, webDir, backupDir)
	if err != nil {
		return result, err
	}
	result.BackupPath = backupPath
	m.notify(StageBackup, result)

	removed, err := m.clear(ctx, runner, webDir, mode)
	result.Removed = removed
	if err != nil {
		return result, err
	}
	m.notify(StageDelete, result)
	return result, nil
}

func (m *Manager) backup(ctx context.Context, runner ssh.Runner, webDir, backupDir string) (string, error) {
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	backupPath := path.Join(backupDir, Name(webDir, now()))

	if m.EnsureDir {
		if err := Exec(ctx, runner, "backup", "mkdir -p "+ssh.Quote(backupDir), ""); err != nil {
			return "", err
		}
	}

	cmd := fmt.Sprintf("tar -czf %s %s", ssh.Quote(backupPath), ssh.Quote(path.Base(webDir)))
	if err := Exec(ctx, runner, "backup", cmd, path.Dir(webDir)); err != nil {
		return "", err
	}
	return backupPath, nil
}

func (m *Manager) clear(ctx context.Context, runner ssh.Runner, webDir string, mode models.Mode) ([]string, error) {
	switch mode {
	case models.ModeIncremental:
		var removed []string
		for _, name := range []string{"index.html", "index.html.gz", "static"} {
			target := path.Join(webDir, name)
			if err := Exec(ctx, runner, "delete", "rm -rf "+ssh.Quote(target), webDir); err != nil {
				return removed, err
			}
			removed = append(removed, target)
		}
		return removed, nil
	case models.ModeFull:
		cmd := fmt.Sprintf("find %s -mindepth 1 -delete", ssh.Quote(webDir))
		if err := Exec(ctx, runner, "delete", cmd, webDir); err != nil {
			return nil, err
		}
		return []string{webDir + "/*"}, nil
	default:
		return nil, fmt.Errorf("unsupported mode %s", mode)
	}
}

func (m *Manager) notify(stage Stage, result Result) {
	if m.Notify != nil {
		m.Notify(stage, result)
	}
}

// Exec runs cmd in cwd and turns a nonzero exit into *RemoteCommandError
// tagged with op. Remote stdout is logged at debug level.
func Exec(ctx context.Context, runner ssh.Runner, op, cmd, cwd string) error {
	logger := logging.FromContext(ctx)

	result, err := runner.Run(ctx, cmd, cwd)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !result.OK() {
		return &RemoteCommandError{
			Op:       op,
			Cmd:      cmd,
			ExitCode: result.ExitCode,
			Stderr:   strings.TrimSpace(string(result.Stderr)),
		}
	}
	if out := strings.TrimSpace(string(result.Stdout)); out != "" {
		logger.Debug().Str("op", op).Str("cmd", cmd).Str("stdout", out).Msg("remote output")
	}
	return nil
}
