package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/tOgg1/fedeploy/internal/console"
	"github.com/tOgg1/fedeploy/internal/db"
	"github.com/tOgg1/fedeploy/internal/models"
)

func (a *App) newHistoryCmd() *cobra.Command {
	var (
		limit   int
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "history [environment]",
		Short: "List recorded deployments, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := db.Open(a.cfg.History.Path)
			if err != nil {
				return exitError(fmt.Errorf("open history: %w", err))
			}
			defer database.Close()

			query := db.RunQuery{Limit: limit}
			if len(args) == 1 {
				query.Command = args[0]
			}
			runs, err := db.NewRunRepository(database).List(cmd.Context(), query)
			if err != nil {
				return exitError(err)
			}

			if jsonOut {
				return writeRunsJSON(cmd.OutOrStdout(), runs)
			}
			if len(runs) == 0 {
				a.console.Info("no deployments recorded")
				return nil
			}
			writeRunsTable(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print runs as JSON")
	return cmd
}

func writeRunsJSON(out io.Writer, runs []*models.Run) error {
	if runs == nil {
		runs = []*models.Run{}
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(runs)
}

func writeRunsTable(out io.Writer, runs []*models.Run) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"ID", "ENV", "PROJECT", "MODE", "STATUS", "STEP", "SIZE", "STARTED", "DURATION"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(false)
	table.SetColumnSeparator("")
	table.SetHeaderLine(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)

	for _, run := range runs {
		step := "-"
		if run.FailedStep > 0 {
			step = strconv.Itoa(run.FailedStep)
		}
		duration := "-"
		if run.FinishedAt != nil {
			duration = run.Duration().Round(100 * time.Millisecond).String()
		}
		table.Append([]string{
			shortID(run.ID),
			run.Command,
			run.ProjectName,
			run.Mode,
			string(run.Status),
			step,
			console.Size(run.ArchiveSize),
			humanize.Time(run.StartedAt),
			duration,
		})
	}
	table.Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
