package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tOgg1/fedeploy/internal/config"
	"github.com/tOgg1/fedeploy/internal/console"
	"github.com/tOgg1/fedeploy/internal/db"
	"github.com/tOgg1/fedeploy/internal/deploy"
	"github.com/tOgg1/fedeploy/internal/logging"
	"github.com/tOgg1/fedeploy/internal/prompt"
	"github.com/tOgg1/fedeploy/internal/ssh"
)

func (a *App) newTargetCmd(command string) *cobra.Command {
	short := "deploy to " + command
	if target, ok := a.targets.Target(command); ok && target.Name != "" {
		short = fmt.Sprintf("deploy %s to %s", a.targets.ProjectName, target.Name)
	}
	return &cobra.Command{
		Use:   command,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.deploy(cmd.Context(), command)
		},
	}
}

func (a *App) deploy(ctx context.Context, command string) error {
	if err := a.targets.Check(command); err != nil {
		a.console.Error("deploy config for %s is invalid: %v", command, err)
		return &ExitError{Code: 1, Err: err, Printed: true}
	}

	registered, _ := a.targets.Target(command)
	target := *registered
	if err := config.ResolveCredentials(&target); err != nil {
		return exitError(fmt.Errorf("resolve credentials for %s: %w", command, err))
	}

	logger := logging.Component("cli")
	logger.Debug().Interface("target", target.Redacted()).Msg("deploy target resolved")

	confirmer := prompt.New(a.Stdin, a.Stdout, a.flags.yes)
	question := fmt.Sprintf("deploy %s to %s?", a.console.Emph(target.ProjectName), a.console.Emph(target.Name))
	ok, err := confirmer.Confirm(ctx, question, true)
	if err != nil {
		return exitError(err)
	}
	if !ok {
		a.console.Info("deployment canceled")
		return &ExitError{Code: 1, Err: errors.New("deployment declined"), Printed: true}
	}

	orch := deploy.New(a.console, confirmer)
	var passphrase ssh.PassphrasePrompt
	if !a.flags.yes && console.IsTerminal(a.Stdin) {
		passphrase = ssh.DefaultPassphrasePrompt
	}
	orch.Sessions = deploy.NewSessionFactory(ssh.Backend(a.cfg.SSH.Backend), a.cfg.SSH.Timeout, a.cfg.SSH.KnownHosts, passphrase)

	if a.cfg.History.Enabled {
		database, err := db.Open(a.cfg.History.Path)
		if err != nil {
			logger.Warn().Err(err).Str("path", a.cfg.History.Path).Msg("history unavailable, run will not be recorded")
		} else {
			defer database.Close()
			orch.History = db.NewRunRepository(database)
		}
	}

	if _, err := orch.Run(ctx, &target); err != nil {
		var stepErr *deploy.StepError
		return &ExitError{Code: 1, Err: err, Printed: errors.As(err, &stepErr)}
	}
	return nil
}
