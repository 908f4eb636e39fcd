package cli

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/tOgg1/fedeploy/internal/config"
)

func (a *App) newInitCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create deploy/deploy.config.yaml and deploy/conf/",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dir == "" {
				wd, err := os.Getwd()
				if err != nil {
					return exitError(err)
				}
				dir = wd
			}

			path, err := config.Scaffold(dir)
			if errors.Is(err, config.ErrConfigExists) {
				a.console.Error("%s already exists, remove it first to start over", path)
				return &ExitError{Code: 1, Err: err, Printed: true}
			}
			if err != nil {
				return exitError(err)
			}

			a.console.Success("%s created, fill in your environments", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "project directory (default current directory)")
	return cmd
}
