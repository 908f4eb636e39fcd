// Package build runs the project's local build script.
package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/tOgg1/fedeploy/internal/logging"
)

// BuildError reports a build script that exited nonzero or could not start.
type BuildError struct {
	Script   string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *BuildError) Error() string {
	if e.ExitCode > 0 {
		msg := fmt.Sprintf("build %q exited with code %d", e.Script, e.ExitCode)
		if e.Stderr != "" {
			msg += ": " + e.Stderr
		}
		return msg
	}
	return fmt.Sprintf("build %q failed: %v", e.Script, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// waitDelay bounds how long Run waits for output pipes after the script is
// killed.
const waitDelay = 2 * time.Second

// Output is where a build reports what it produced.
type Output interface {
	// Println prints captured build stdout.
	Println(text string)

	// Warn prints captured build stderr.
	Warn(format string, args ...any)
}

// Result is a completed build.
type Result struct {
	Stdout string
	Stderr string
}

// Runner runs build scripts through a shell.
type Runner struct {
	// Shell is the interpreter invoked as `Shell -c script`.
	Shell string

	// Env is appended to the inherited environment.
	Env []string

	Output Output

	// Activity, when set, starts an indicator shown while the script runs
	// and returns the func that stops it.
	Activity func(label string) (stop func())
}

// NewRunner creates a Runner using /bin/sh.
func NewRunner(output Output) *Runner {
	return &Runner{Shell: "sh", Output: output}
}

// Run executes script in dir. Output on stderr is reported as a warning and
// does not fail the build; only a nonzero exit status does.
func (r *Runner) Run(ctx context.Context, script, dir string) (Result, error) {
	logger := logging.FromContext(ctx).With().Str("component", "build").Logger()

	shell := r.Shell
	if shell == "" {
		shell = "sh"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", script)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), r.Env...)
	cmd.WaitDelay = waitDelay
	configureProcessGroup(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug().Str("script", script).Str("dir", dir).Strs("env", logging.RedactEnv(r.Env)).Msg("running build")

	stop := func() {}
	if r.Activity != nil {
		stop = r.Activity("building ...")
	}
	err := cmd.Run()
	stop()

	result := Result{
		Stdout: strings.TrimRight(stdout.String(), "\n"),
		Stderr: strings.TrimSpace(stderr.String()),
	}

	if err != nil {
		buildErr := &BuildError{Script: script, Stderr: result.Stderr, Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			buildErr.ExitCode = exitErr.ExitCode()
		}
		logger.Debug().Err(err).Int("exit_code", buildErr.ExitCode).Msg("build failed")
		return result, buildErr
	}

	if r.Output != nil {
		if result.Stderr != "" {
			r.Output.Warn("WARNING %s", result.Stderr)
		}
		if result.Stdout != "" {
			r.Output.Println(result.Stdout)
		}
	}
	return result, nil
}
