package deploy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/fedeploy/internal/backup"
	"github.com/tOgg1/fedeploy/internal/build"
	"github.com/tOgg1/fedeploy/internal/console"
	"github.com/tOgg1/fedeploy/internal/models"
	"github.com/tOgg1/fedeploy/internal/prompt"
	"github.com/tOgg1/fedeploy/internal/ssh"
	"github.com/tOgg1/fedeploy/internal/testutil"
)

type fakeSession struct {
	commands  []string
	fail      map[string]ssh.Result
	uploadErr error
	uploaded  []byte
	remote    string
	connected bool
	closed    int
}

func (s *fakeSession) Connect(context.Context) error {
	s.connected = true
	return nil
}

func (s *fakeSession) Run(_ context.Context, cmd, cwd string) (ssh.Result, error) {
	s.commands = append(s.commands, cmd)
	for prefix, result := range s.fail {
		if strings.HasPrefix(cmd, prefix) {
			return result, nil
		}
	}
	return ssh.Result{}, nil
}

func (s *fakeSession) Upload(_ context.Context, localPath, remotePath string, progress io.Writer) error {
	if s.uploadErr != nil {
		return s.uploadErr
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	s.uploaded = data
	s.remote = remotePath
	if progress != nil {
		_, _ = progress.Write(data)
	}
	return nil
}

func (s *fakeSession) State() ssh.State {
	if s.closed > 0 {
		return ssh.StateClosed
	}
	return ssh.StateConnected
}

func (s *fakeSession) Close() error {
	s.closed++
	return nil
}

type fakeBuild struct {
	script string
	dir    string
	err    error
}

func (b *fakeBuild) Run(_ context.Context, script, dir string) (build.Result, error) {
	b.script, b.dir = script, dir
	return build.Result{}, b.err
}

type fakeHistory struct {
	created  []models.Run
	finished []models.Run
}

func (h *fakeHistory) Create(_ context.Context, run *models.Run) error {
	h.created = append(h.created, *run)
	return nil
}

func (h *fakeHistory) Finish(_ context.Context, run *models.Run) error {
	h.finished = append(h.finished, *run)
	return nil
}

type fixture struct {
	orch    *Orchestrator
	out     *bytes.Buffer
	session *fakeSession
	build   *fakeBuild
	history *fakeHistory
	confirm *prompt.Scripted
	target  *models.Target
	created int
}

func newFixture(t *testing.T, answers ...bool) *fixture {
	t.Helper()

	project := t.TempDir()
	dist := filepath.Join(project, "dist")
	testutil.WriteFile(t, dist, "index.html", "<html></html>")
	testutil.WriteFile(t, dist, "index.html.gz", "gz")
	testutil.WriteFile(t, dist, "static/js/app.js", "console.log(1)")
	testutil.WriteFile(t, dist, "robots.txt", "*")

	f := &fixture{
		out:     &bytes.Buffer{},
		session: &fakeSession{},
		build:   &fakeBuild{},
		history: &fakeHistory{},
		confirm: prompt.NewScripted(answers...),
		target: &models.Target{
			Name:        "staging",
			Command:     "dev",
			ProjectName: "shop",
			Script:      "npm run build",
			Host:        "web1",
			Port:        22,
			Username:    "deploy",
			Password:    "secret",
			ProjectDir:  project,
			DistPath:    "dist",
			WebDir:      "/srv/www/shop",
			BackupDir:   "/srv/backup",
		},
	}

	clock := time.Date(2024, 3, 5, 14, 7, 22, 0, time.Local)
	out := console.New(f.out, console.Options{NoColor: true})
	f.orch = &Orchestrator{
		Console: out,
		Confirm: f.confirm,
		Build:   f.build,
		Sessions: func(*models.Target) (ssh.Session, error) {
			f.created++
			return f.session, nil
		},
		Archiver: FileArchiver{},
		Backup:   &backup.Manager{Now: func() time.Time { return clock }, EnsureDir: true},
		History:  f.history,
		Now:      func() time.Time { return clock },
	}
	return f
}

func stepLines(output string) []string {
	var steps []string
	for _, line := range strings.Split(output, "\n") {
		if strings.HasPrefix(line, "(") {
			steps = append(steps, line)
		}
	}
	return steps
}

func TestRunIncrementalSkipBuild(t *testing.T) {
	f := newFixture(t, true, true)

	outcome, err := f.orch.Run(context.Background(), f.target)
	require.NoError(t, err)

	require.Equal(t, []string{
		"(1) build",
		"(2) archive",
		"(3) connect",
		"(4) backup",
		"(5) upload",
		"(6) unpack",
		"(7) clean",
	}, stepLines(f.out.String()))

	require.Equal(t, []string{QuestionIncremental, QuestionSkipBuild}, f.confirm.Questions)
	require.Empty(t, f.build.script)
	require.True(t, outcome.BuildSkipped)
	require.Equal(t, models.ModeIncremental, outcome.Mode)
	require.NotEmpty(t, outcome.RunID)

	require.Equal(t, []string{
		"mkdir -p '/srv/backup'",
		"tar -czf '/srv/backup/shop_20240305_140722.tar.gz' 'shop'",
		"rm -rf '/srv/www/shop/index.html'",
		"rm -rf '/srv/www/shop/index.html.gz'",
		"rm -rf '/srv/www/shop/static'",
		"unzip -o dist.zip -d '/srv/www/shop' && rm -f dist.zip",
	}, f.session.commands)

	require.True(t, f.session.connected)
	require.Equal(t, 1, f.session.closed)
	require.Equal(t, "/srv/www/shop/dist.zip", f.session.remote)
	require.NotEmpty(t, f.session.uploaded)
	require.ElementsMatch(t, []string{"index.html", "index.html.gz", "static/js/app.js"}, outcome.Archive.Files)

	_, statErr := os.Stat(f.target.ArtifactPath())
	require.True(t, os.IsNotExist(statErr))

	output := f.out.String()
	require.Contains(t, output, "  1) backup written to /srv/backup/shop_20240305_140722.tar.gz")
	require.Contains(t, output, "  2) removed /srv/www/shop/index.html")
	require.Contains(t, output, "shop deployed to staging (incremental deployment)")
}

func TestRunFullWithBuild(t *testing.T) {
	f := newFixture(t, false, false)

	outcome, err := f.orch.Run(context.Background(), f.target)
	require.NoError(t, err)

	require.Equal(t, "npm run build", f.build.script)
	require.Equal(t, f.target.ProjectDir, f.build.dir)
	require.Equal(t, models.ModeFull, outcome.Mode)
	require.Contains(t, outcome.Archive.Files, "robots.txt")
	require.Contains(t, f.session.commands, "find '/srv/www/shop' -mindepth 1 -delete")
	require.Contains(t, f.out.String(), "(full deployment)")
}

func TestRunRemovesStaleArtifactFirst(t *testing.T) {
	f := newFixture(t, true, true)
	require.NoError(t, os.WriteFile(f.target.ArtifactPath(), []byte("stale"), 0o644))

	outcome, err := f.orch.Run(context.Background(), f.target)
	require.NoError(t, err)
	require.NotEqual(t, []byte("stale"), f.session.uploaded)
	require.NotContains(t, outcome.Archive.Files, models.ArtifactName)
}

func TestRunBuildFailureStopsBeforeArchive(t *testing.T) {
	f := newFixture(t, true, false)
	f.build.err = &build.BuildError{Script: "npm run build", ExitCode: 2}

	_, err := f.orch.Run(context.Background(), f.target)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, 1, stepErr.Step)
	var buildErr *build.BuildError
	require.ErrorAs(t, err, &buildErr)

	require.Equal(t, 0, f.created)
	_, statErr := os.Stat(f.target.ArtifactPath())
	require.True(t, os.IsNotExist(statErr))
}

func TestRunBackupFailureHaltsBeforeUpload(t *testing.T) {
	f := newFixture(t, true, true)
	f.session.fail = map[string]ssh.Result{
		"tar ": {ExitCode: 2, Stderr: []byte("tar: shop: Cannot stat")},
	}

	_, err := f.orch.Run(context.Background(), f.target)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, 4, stepErr.Step)

	var remoteErr *backup.RemoteCommandError
	require.ErrorAs(t, err, &remoteErr)
	require.Equal(t, 2, remoteErr.ExitCode)
	require.Contains(t, err.Error(), "Cannot stat")

	for _, cmd := range f.session.commands {
		require.False(t, strings.HasPrefix(cmd, "rm "), "deleted after failed backup: %s", cmd)
	}
	require.Empty(t, f.session.remote)
	require.Equal(t, 1, f.session.closed)
	require.NotContains(t, f.out.String(), "(5) upload")

	require.Len(t, f.history.finished, 1)
	require.Equal(t, models.RunStatusFailed, f.history.finished[0].Status)
	require.Equal(t, 4, f.history.finished[0].FailedStep)
}

func TestRunUploadFailureNamesBackup(t *testing.T) {
	f := newFixture(t, true, true)
	f.session.uploadErr = &ssh.TransferError{Local: "dist.zip", Remote: "/srv/www/shop/dist.zip", Err: errors.New("broken pipe")}

	_, err := f.orch.Run(context.Background(), f.target)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, 5, stepErr.Step)
	var transferErr *ssh.TransferError
	require.ErrorAs(t, err, &transferErr)
	require.Contains(t, err.Error(), "already cleared")
	require.Contains(t, err.Error(), "/srv/backup/shop_20240305_140722.tar.gz")
	require.Contains(t, f.out.String(), "restore it from /srv/backup/shop_20240305_140722.tar.gz")
	require.Equal(t, 1, f.session.closed)
}

func TestRunConfirmCanceledTouchesNothing(t *testing.T) {
	f := newFixture(t)
	f.orch.Confirm = cancelConfirmer{}

	_, err := f.orch.Run(context.Background(), f.target)
	require.ErrorIs(t, err, prompt.ErrCanceled)
	require.Equal(t, 0, f.created)
	require.Empty(t, f.history.created)
	require.Empty(t, stepLines(f.out.String()))
}

func TestRunRecordsHistory(t *testing.T) {
	f := newFixture(t, true, true)

	outcome, err := f.orch.Run(context.Background(), f.target)
	require.NoError(t, err)

	require.Len(t, f.history.created, 1)
	require.Equal(t, models.RunStatusRunning, f.history.created[0].Status)
	require.Equal(t, outcome.RunID, f.history.created[0].ID)

	require.Len(t, f.history.finished, 1)
	finished := f.history.finished[0]
	require.Equal(t, models.RunStatusSucceeded, finished.Status)
	require.Equal(t, "incremental", finished.Mode)
	require.Equal(t, "web1:22", finished.Host)
	require.Equal(t, "/srv/backup/shop_20240305_140722.tar.gz", finished.BackupPath)
	require.Equal(t, outcome.Archive.Size, finished.ArchiveSize)
	require.NotNil(t, finished.FinishedAt)
}

func TestRunUnpackFailureStopsBeforeClean(t *testing.T) {
	f := newFixture(t, true, true)
	f.session.fail = map[string]ssh.Result{
		"unzip ": {ExitCode: 9, Stderr: []byte("unzip: cannot find zipfile directory")},
	}

	_, err := f.orch.Run(context.Background(), f.target)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, 6, stepErr.Step)
	require.Equal(t, "unpack", stepErr.Name)
	var remoteErr *backup.RemoteCommandError
	require.ErrorAs(t, err, &remoteErr)
	require.Equal(t, 9, remoteErr.ExitCode)
	require.Contains(t, err.Error(), "/srv/backup/shop_20240305_140722.tar.gz")

	output := f.out.String()
	require.NotContains(t, output, "(7) clean")
	require.Contains(t, output, "restore it from /srv/backup/shop_20240305_140722.tar.gz")
	require.Contains(t, output, "step 6 (unpack) failed")
	require.FileExists(t, f.target.ArtifactPath())
	require.Equal(t, 1, f.session.closed)

	require.Len(t, f.history.finished, 1)
	require.Equal(t, 6, f.history.finished[0].FailedStep)
}

func TestRunFailureLineNamesStep(t *testing.T) {
	f := newFixture(t, true, true)
	f.session.fail = map[string]ssh.Result{
		"tar ": {ExitCode: 2, Stderr: []byte("tar: shop: Cannot stat")},
	}

	_, err := f.orch.Run(context.Background(), f.target)
	require.Error(t, err)

	output := f.out.String()
	require.Contains(t, output, "step 4 (backup) failed: backup failed")
	require.NotContains(t, output, "backup failed: backup failed")
}

func TestSessionFactoryPassphrasePrompt(t *testing.T) {
	target := &models.Target{Host: "web1", Port: 22, Username: "deploy", PrivateKey: "/keys/id_ed25519"}
	prompt := func(string) (string, error) { return "hunter2", nil }

	session, err := NewSessionFactory(ssh.BackendNative, time.Second, "", prompt)(target)
	require.NoError(t, err)
	native, ok := session.(*ssh.NativeSession)
	require.True(t, ok)
	require.NotNil(t, native.PassphrasePrompt)
	passphrase, err := native.PassphrasePrompt("/keys/id_ed25519")
	require.NoError(t, err)
	require.Equal(t, "hunter2", passphrase)

	session, err = NewSessionFactory(ssh.BackendNative, time.Second, "", nil)(target)
	require.NoError(t, err)
	require.Nil(t, session.(*ssh.NativeSession).PassphrasePrompt)

	session, err = NewSessionFactory(ssh.BackendSystem, time.Second, "", prompt)(target)
	require.NoError(t, err)
	_, ok = session.(*ssh.NativeSession)
	require.False(t, ok)
}

type cancelConfirmer struct{}

func (cancelConfirmer) Confirm(context.Context, string, bool) (bool, error) {
	return false, prompt.ErrCanceled
}
