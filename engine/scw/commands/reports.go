package commands

import (
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/crossbatch/scrna-integration-framework/engine/scw/config"
	"github.com/crossbatch/scrna-integration-framework/pkg/logger"
)

var reportsLong = longDesc(`
	Commands over the operation reports of a run. Reports record every
	executed stage with its input fingerprint; they are what lets a re-run
	skip stages whose inputs are unchanged.
`)

// newReportsCmd creates the reports command group.
func newReportsCmd(lggr logger.Logger, cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Run report operations",
		Long:  reportsLong,
	}

	cmd.AddCommand(newReportsListCmd(lggr, cfg))

	return cmd
}

func newReportsListCmd(lggr logger.Logger, cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the reports of a run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			run, err := openRun(cmd, cfg, lggr)
			if err != nil {
				return err
			}

			reporter, err := run.LoadReports()
			if err != nil {
				return err
			}
			reports, err := reporter.GetReports()
			if err != nil {
				return err
			}

			cmd.Printf("Run %s: %d reports\n", run.ID(), len(reports))

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"ID", "Operation", "Timestamp", "Status"})
			for _, r := range reports {
				id := r.ID
				if len(id) > 8 {
					id = id[:8]
				}

				timestamp := ""
				if r.Timestamp != nil {
					timestamp = r.Timestamp.Format("2006-01-02 15:04:05")
				}

				status := "ok"
				if r.Err != nil {
					status = "error: " + r.Err.Message
				}

				operation := r.Def.ID
				if r.Def.Version != nil {
					operation += "@" + r.Def.Version.String()
				}

				table.Append([]string{id, operation, timestamp, status})
			}
			table.Render()

			return nil
		},
	}

	runIDFlag(cmd)

	return cmd
}
