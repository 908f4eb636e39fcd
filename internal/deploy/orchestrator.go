// Package deploy sequences one front-end deployment: build, archive,
// connect, back up and clear, upload, unpack and clean.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tOgg1/fedeploy/internal/archive"
	"github.com/tOgg1/fedeploy/internal/backup"
	"github.com/tOgg1/fedeploy/internal/build"
	"github.com/tOgg1/fedeploy/internal/console"
	"github.com/tOgg1/fedeploy/internal/logging"
	"github.com/tOgg1/fedeploy/internal/models"
	"github.com/tOgg1/fedeploy/internal/ssh"
)

// Questions asked before any step runs.
const (
	QuestionIncremental = "incremental deployment? (replaces only index.html, index.html.gz and static/)"
	QuestionSkipBuild   = "skip the build step?"
)

// Confirmer answers a yes/no question; defaultYes applies to a bare enter.
type Confirmer interface {
	Confirm(ctx context.Context, question string, defaultYes bool) (bool, error)
}

// BuildRunner runs the local build script.
type BuildRunner interface {
	Run(ctx context.Context, script, dir string) (build.Result, error)
}

// Archiver writes and removes the local artifact.
type Archiver interface {
	Build(ctx context.Context, distDir, outputPath string, mode models.Mode) (archive.Result, error)
	Clean(path string) (bool, error)
}

// SessionFactory creates an unconnected session for a target.
type SessionFactory func(target *models.Target) (ssh.Session, error)

// History records runs. Failures to record are logged, never fatal.
type History interface {
	Create(ctx context.Context, run *models.Run) error
	Finish(ctx context.Context, run *models.Run) error
}

// StepError reports the numbered step a deployment failed in.
type StepError struct {
	Step int
	Name string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s) failed: %v", e.Step, e.Name, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Outcome summarizes a finished deployment.
type Outcome struct {
	RunID        string
	Mode         models.Mode
	BuildSkipped bool
	Archive      archive.Result
	Backup       backup.Result
	Duration     time.Duration
}

// Orchestrator runs deployments. Collaborators are exported so callers and
// tests can swap them; New fills in the production ones.
type Orchestrator struct {
	Console  *console.Console
	Confirm  Confirmer
	Build    BuildRunner
	Sessions SessionFactory
	Archiver Archiver
	Backup   *backup.Manager
	History  History
	Now      func() time.Time
}

// New returns an Orchestrator wired to the real build runner, archiver,
// backup manager and a native SSH backend.
func New(out *console.Console, confirm Confirmer) *Orchestrator {
	runner := build.NewRunner(out)
	runner.Activity = func(label string) func() {
		return out.Spinner(label).Stop
	}
	return &Orchestrator{
		Console:  out,
		Confirm:  confirm,
		Build:    runner,
		Sessions: NewSessionFactory(ssh.BackendNative, 30*time.Second, "", nil),
		Archiver: FileArchiver{},
		Backup:   backup.NewManager(),
		Now:      time.Now,
	}
}

// NewSessionFactory returns a factory for the given backend and settings.
// passphrase, when non-nil, unlocks encrypted keys on native sessions.
func NewSessionFactory(backend ssh.Backend, timeout time.Duration, knownHosts string, passphrase ssh.PassphrasePrompt) SessionFactory {
	return func(target *models.Target) (ssh.Session, error) {
		options := ssh.OptionsFromTarget(target)
		options.Timeout = timeout
		options.KnownHostsPath = knownHosts
		session, err := ssh.New(backend, options)
		if err != nil {
			return nil, err
		}
		if native, ok := session.(*ssh.NativeSession); ok && passphrase != nil {
			native.PassphrasePrompt = passphrase
		}
		return session, nil
	}
}

// FileArchiver builds zip artifacts on the local filesystem.
type FileArchiver struct{}

func (FileArchiver) Build(ctx context.Context, distDir, outputPath string, mode models.Mode) (archive.Result, error) {
	return archive.Build(ctx, distDir, outputPath, mode)
}

func (FileArchiver) Clean(path string) (bool, error) {
	return archive.Clean(path)
}

type step struct {
	n    int
	name string
	fn   func(ctx context.Context, r *run) error
}

// run is the state of one deployment.
type run struct {
	target    *models.Target
	mode      models.Mode
	skipBuild bool
	session   ssh.Session
	outcome   Outcome
}

// Run deploys target. The mode and build questions are asked before any
// step, so nothing remote happens until both are answered. The session is
// closed on every path.
func (o *Orchestrator) Run(ctx context.Context, target *models.Target) (Outcome, error) {
	now := o.Now
	if now == nil {
		now = time.Now
	}
	started := now()

	runID := uuid.NewString()
	logger := logging.WithRun(runID, target.Command)
	ctx = logging.WithContext(ctx, logger)

	if _, err := o.Archiver.Clean(target.ArtifactPath()); err != nil {
		return Outcome{RunID: runID}, fmt.Errorf("remove stale artifact: %w", err)
	}

	incremental, err := o.Confirm.Confirm(ctx, QuestionIncremental, true)
	if err != nil {
		return Outcome{RunID: runID}, err
	}
	skipBuild, err := o.Confirm.Confirm(ctx, QuestionSkipBuild, true)
	if err != nil {
		return Outcome{RunID: runID}, err
	}

	r := &run{
		target:    target,
		mode:      models.ModeFromIncremental(incremental),
		skipBuild: skipBuild,
		outcome:   Outcome{RunID: runID, BuildSkipped: skipBuild},
	}
	r.outcome.Mode = r.mode
	defer o.closeSession(ctx, r)

	record := &models.Run{
		ID:          runID,
		Command:     target.Command,
		ProjectName: target.ProjectName,
		TargetName:  target.Name,
		Host:        target.Address(),
		Mode:        r.mode.String(),
		Status:      models.RunStatusRunning,
		StartedAt:   started,
	}
	o.recordStart(ctx, record)

	logger.Info().Str("mode", r.mode.String()).Bool("skip_build", skipBuild).Msg("deployment started")

	steps := []step{
		{n: 1, name: "build", fn: o.build},
		{n: 2, name: "archive", fn: o.archive},
		{n: 3, name: "connect", fn: o.connect},
		{n: 4, name: "backup", fn: o.backupAndClear},
		{n: 5, name: "upload", fn: o.upload},
		{n: 6, name: "unpack", fn: o.unpack},
		{n: 7, name: "clean", fn: o.clean},
	}

	for _, s := range steps {
		o.Console.Step(s.n, "%s", s.name)
		if err := s.fn(ctx, r); err != nil {
			stepErr := &StepError{Step: s.n, Name: s.name, Err: err}
			o.Console.Error("  %v", stepErr)
			logger.Error().Err(err).Int("step", s.n).Str("name", s.name).Msg("deployment failed")

			r.outcome.Duration = now().Sub(started)
			record.Status = models.RunStatusFailed
			record.FailedStep = s.n
			record.Error = err.Error()
			o.recordFinish(ctx, record, r, now())
			return r.outcome, stepErr
		}
	}

	r.outcome.Duration = now().Sub(started)
	record.Status = models.RunStatusSucceeded
	o.recordFinish(ctx, record, r, now())

	o.Console.Println("")
	o.Console.Start("%s deployed to %s (%s deployment)",
		o.Console.Emph(target.ProjectName), o.Console.Emph(target.Name), r.mode)
	logger.Info().Dur("duration", r.outcome.Duration).Msg("deployment succeeded")
	return r.outcome, nil
}

func (o *Orchestrator) build(ctx context.Context, r *run) error {
	if r.skipBuild {
		o.Console.Success("build skipped")
		return nil
	}
	if _, err := o.Build.Run(ctx, r.target.Script, r.target.ProjectDir); err != nil {
		return err
	}
	o.Console.Success("build succeeded")
	return nil
}

func (o *Orchestrator) archive(ctx context.Context, r *run) error {
	result, err := o.Archiver.Build(ctx, r.target.DistDir(), r.target.ArtifactPath(), r.mode)
	if err != nil {
		return err
	}
	r.outcome.Archive = result
	for _, warning := range result.Warnings {
		o.Console.Warn("  WARNING %s", warning)
	}
	o.Console.Success("%s written (%s, %d files)", result.Path, console.Size(result.Size), len(result.Files))
	return nil
}

func (o *Orchestrator) connect(ctx context.Context, r *run) error {
	session, err := o.Sessions(r.target)
	if err != nil {
		return err
	}
	r.session = session
	if err := session.Connect(ctx); err != nil {
		return err
	}
	o.Console.Success("connected to %s@%s", r.target.Username, r.target.Address())
	return nil
}

func (o *Orchestrator) backupAndClear(ctx context.Context, r *run) error {
	manager := backup.NewManager()
	if o.Backup != nil {
		copied := *o.Backup
		manager = &copied
	}
	manager.Notify = func(stage backup.Stage, result backup.Result) {
		switch stage {
		case backup.StageBackup:
			o.Console.SubSuccess(1, "backup written to %s", result.BackupPath)
		case backup.StageDelete:
			o.Console.SubSuccess(2, "removed %s", strings.Join(result.Removed, ", "))
		}
	}

	result, err := manager.BackupAndClear(ctx, r.session, r.target.WebDir, r.target.BackupDir, r.mode)
	r.outcome.Backup = result
	return err
}

func (o *Orchestrator) upload(ctx context.Context, r *run) error {
	remote := path.Join(r.target.WebDir, models.ArtifactName)
	progress := o.Console.Progress(r.outcome.Archive.Size, "upload")
	err := r.session.Upload(ctx, r.outcome.Archive.Path, remote, progress)
	progress.Finish()
	if err != nil {
		return o.liveCleared(r, err)
	}
	o.Console.Success("uploaded %s to %s", console.Size(r.outcome.Archive.Size), remote)
	return nil
}

func (o *Orchestrator) unpack(ctx context.Context, r *run) error {
	webDir := r.target.WebDir
	cmd := fmt.Sprintf("unzip -o %s -d %s && rm -f %s", models.ArtifactName, ssh.Quote(webDir), models.ArtifactName)
	if err := backup.Exec(ctx, r.session, "unpack", cmd, webDir); err != nil {
		return o.liveCleared(r, err)
	}
	o.Console.Success("unpacked into %s", webDir)
	return nil
}

func (o *Orchestrator) clean(_ context.Context, r *run) error {
	removed, err := o.Archiver.Clean(r.target.ArtifactPath())
	if err != nil {
		return err
	}
	if removed {
		o.Console.Success("removed %s", r.target.ArtifactPath())
	} else {
		o.Console.Success("nothing to remove")
	}
	return nil
}

// liveCleared annotates a failure that happened after the live directory
// was cleared, naming the backup to restore from.
func (o *Orchestrator) liveCleared(r *run, err error) error {
	backupPath := r.outcome.Backup.BackupPath
	o.Console.Warn("  %s has already been cleared; restore it from %s", r.target.WebDir, backupPath)
	return fmt.Errorf("%w (live directory %s already cleared, backup at %s)", err, r.target.WebDir, backupPath)
}

func (o *Orchestrator) closeSession(ctx context.Context, r *run) {
	if r.session == nil {
		return
	}
	if err := r.session.Close(); err != nil && !errors.Is(err, ssh.ErrSessionClosed) {
		logger := logging.FromContext(ctx)
		logger.Warn().Err(err).Msg("closing ssh session")
	}
}

func (o *Orchestrator) recordStart(ctx context.Context, record *models.Run) {
	if o.History == nil {
		return
	}
	if err := o.History.Create(ctx, record); err != nil {
		logger := logging.FromContext(ctx)
		logger.Warn().Err(err).Msg("recording run start")
	}
}

func (o *Orchestrator) recordFinish(ctx context.Context, record *models.Run, r *run, at time.Time) {
	if o.History == nil {
		return
	}
	record.FinishedAt = &at
	record.BackupPath = r.outcome.Backup.BackupPath
	record.ArchiveSize = r.outcome.Archive.Size
	if err := o.History.Finish(ctx, record); err != nil {
		logger := logging.FromContext(ctx)
		logger.Warn().Err(err).Msg("recording run result")
	}
}
