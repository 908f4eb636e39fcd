// Package cli implements the fedeploy command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tOgg1/fedeploy/internal/config"
	"github.com/tOgg1/fedeploy/internal/console"
	"github.com/tOgg1/fedeploy/internal/logging"
)

// ExitError carries a process exit code. Printed means the message has
// already been shown to the operator.
type ExitError struct {
	Code    int
	Err     error
	Printed bool
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func exitError(err error) *ExitError {
	return &ExitError{Code: 1, Err: err}
}

type globalFlags struct {
	configFile   string
	deployConfig string
	logLevel     string
	logFormat    string
	yes          bool
	noColor      bool
}

// App is one CLI invocation.
type App struct {
	Stdin   *os.File
	Stdout  io.Writer
	Stderr  io.Writer
	Version string

	flags      globalFlags
	cfg        *config.Config
	console    *console.Console
	targets    *config.TargetFile
	targetsErr error
	logFile    *os.File
}

// Execute runs the CLI against the process streams.
func Execute(ctx context.Context, version string, args []string) error {
	app := &App{
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Version: version,
	}
	return app.Run(ctx, args)
}

// Run parses args and dispatches. Environment subcommands come from the
// deploy file, so global flags are read before the command tree is final.
func (a *App) Run(ctx context.Context, args []string) error {
	root := a.newRootCmd()

	early := root.PersistentFlags()
	early.ParseErrorsWhitelist.UnknownFlags = true
	_ = early.Parse(args)

	if err := a.setup(); err != nil {
		return err
	}
	defer a.close()

	a.registerTargets(root)

	root.SetArgs(args)
	root.SetIn(a.Stdin)
	root.SetOut(a.Stdout)
	root.SetErr(a.Stderr)
	return root.ExecuteContext(ctx)
}

func (a *App) newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fedeploy",
		Short: "Deploy front-end builds to remote servers over SSH",
		Long: `fedeploy packages a front-end build, backs up the live directory on the
server, replaces it and unpacks the new build.

Each environment in deploy/deploy.config.yaml becomes a subcommand.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       a.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return a.unknownCommand(cmd, args[0])
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true
	cmd.SuggestionsMinimumDistance = 2

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.flags.configFile, "config", "", "fedeploy config file (default $XDG_CONFIG_HOME/fedeploy/config.yaml)")
	flags.StringVar(&a.flags.deployConfig, "deploy-config", "", "deploy file (default deploy/deploy.config.yaml)")
	flags.StringVar(&a.flags.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	flags.StringVar(&a.flags.logFormat, "log-format", "", "log format (console, json)")
	flags.BoolVarP(&a.flags.yes, "yes", "y", false, "answer every question with its default")
	flags.BoolVar(&a.flags.noColor, "no-color", false, "disable colored output")

	cmd.AddCommand(a.newInitCmd(), a.newHistoryCmd())
	return cmd
}

func (a *App) setup() error {
	loader := config.NewLoader()
	if a.flags.configFile != "" {
		loader.SetConfigFile(a.flags.configFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return exitError(err)
	}
	if a.flags.logLevel != "" {
		cfg.Logging.Level = a.flags.logLevel
	}
	if a.flags.logFormat != "" {
		cfg.Logging.Format = a.flags.logFormat
	}
	a.cfg = cfg
	if err := cfg.EnsureDirectories(); err != nil {
		return exitError(err)
	}

	logOutput := a.Stderr
	if cfg.Logging.File != "" {
		file, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return exitError(fmt.Errorf("open log file: %w", err))
		}
		a.logFile = file
		logOutput = file
	}
	logging.Init(logging.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Output:  logOutput,
		NoColor: a.flags.noColor || a.logFile != nil,
	})

	a.console = console.New(a.Stdout, console.Options{NoColor: a.flags.noColor})

	path := a.flags.deployConfig
	if path == "" {
		path = cfg.Deploy.ConfigPath
	}
	a.targets, a.targetsErr = config.LoadTargets(path)
	if a.targetsErr != nil {
		logger := logging.Component("cli")
		logger.Debug().Err(a.targetsErr).Str("path", path).Msg("no deploy targets loaded")
		return nil
	}
	for _, skipped := range a.targets.Skipped {
		a.console.Warn("WARNING skipped %s: %v", skipped.Path, skipped.Err)
	}
	return nil
}

func (a *App) close() {
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}

// reserved names cannot be shadowed by environment keys.
var reserved = map[string]bool{"init": true, "history": true, "help": true}

func (a *App) registerTargets(root *cobra.Command) {
	if a.targets == nil {
		return
	}
	for _, command := range a.targets.Commands() {
		if reserved[command] {
			a.console.Warn("WARNING environment %q clashes with a built-in command and is ignored", command)
			continue
		}
		root.AddCommand(a.newTargetCmd(command))
	}
}

func (a *App) unknownCommand(cmd *cobra.Command, name string) error {
	err := fmt.Errorf("unknown command %q", name)
	a.console.Error("error: %v", err)

	switch {
	case errors.Is(a.targetsErr, fs.ErrNotExist):
		a.console.Info("no deploy config found; run %s to create one", a.console.Emph("fedeploy init"))
	case a.targetsErr != nil:
		a.console.Warn("deploy config could not be loaded: %v", a.targetsErr)
	}
	if suggestions := cmd.SuggestionsFor(name); len(suggestions) > 0 {
		a.console.Info("did you mean %s?", strings.Join(suggestions, " or "))
	}

	_ = cmd.Help()
	return &ExitError{Code: 1, Err: err, Printed: true}
}
