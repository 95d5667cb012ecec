package commands

import (
	"github.com/spf13/cobra"

	"github.com/crossbatch/scrna-integration-framework/engine/scw/config"
	"github.com/crossbatch/scrna-integration-framework/engine/scw/workspace"
	"github.com/crossbatch/scrna-integration-framework/pkg/logger"
)

var artifactsLong = longDesc(`
	Commands over the artifacts a workflow run saved: embeddings, cluster
	labels, marker tables and stage summaries, stored as JSON under the run's
	artifacts directory.
`)

// runIDFlag adds the shared --run/-r flag to a command.
func runIDFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("run", "r", "", "Run ID (default: the latest run)")
}

// openRun resolves the --run flag to a run handle, defaulting to the latest.
func openRun(cmd *cobra.Command, cfg *config.Config, lggr logger.Logger) (workspace.Run, error) {
	ws, err := workspace.New(cfg.WorkspaceDir, lggr)
	if err != nil {
		return workspace.Run{}, err
	}

	if id := mustString(cmd.Flags().GetString("run")); id != "" {
		return ws.Run(id)
	}

	return ws.LatestRun()
}

// newArtifactsCmd creates the artifacts command group.
func newArtifactsCmd(lggr logger.Logger, cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "artifacts",
		Short: "Run artifact operations",
		Long:  artifactsLong,
	}

	cmd.AddCommand(newArtifactsListCmd(lggr, cfg))
	cmd.AddCommand(newArtifactsShowCmd(lggr, cfg))

	return cmd
}

func newArtifactsListCmd(lggr logger.Logger, cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the artifacts of a run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			run, err := openRun(cmd, cfg, lggr)
			if err != nil {
				return err
			}

			keys, err := run.Artifacts().List()
			if err != nil {
				return err
			}

			cmd.Printf("Run %s: %d artifacts\n", run.ID(), len(keys))
			for _, key := range keys {
				cmd.Println(key)
			}

			return nil
		},
	}

	runIDFlag(cmd)

	return cmd
}

func newArtifactsShowCmd(lggr logger.Logger, cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <key>",
		Short: "Print one artifact as JSON",
		Example: examples(`
			# Print the t-SNE coordinates of the latest run
			scw artifacts show tsne_coordinates
		`),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := openRun(cmd, cfg, lggr)
			if err != nil {
				return err
			}

			raw, err := run.Artifacts().Raw(args[0])
			if err != nil {
				return err
			}
			cmd.Println(string(raw))

			return nil
		},
	}

	runIDFlag(cmd)

	return cmd
}
