package commands

import (
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/cobra"

	"github.com/crossbatch/scrna-integration-framework/engine/scw/config"
	"github.com/crossbatch/scrna-integration-framework/engine/scw/environment"
	"github.com/crossbatch/scrna-integration-framework/pkg/logger"
	"github.com/crossbatch/scrna-integration-framework/workflows"
)

var (
	runLong = longDesc(`
		Executes a registered workflow against the manifest's datasets.

		Stage results are memoized per run: re-running the same run ID skips
		stages whose inputs are unchanged, resuming after interruptions or
		parameter tweaks. Reports and artifacts are persisted under the
		workspace's run directory.
	`)

	runExample = examples(`
		# Run the integration workflow over the built-in pancreas manifest
		scw run

		# Run with a custom manifest and parameter overrides, stopping early
		scw run --manifest retina.yaml --params params.toml --stage normalize

		# Resume a run, re-executing every stage
		scw run --run 2zYkZ7... --force
	`)
)

type runFlags struct {
	workflow   string
	version    string
	manifest   string
	paramsPath string
	runID      string
	stage      string
	force      bool
}

// newRunCmd creates the run command.
func newRunCmd(lggr logger.Logger, cfg *config.Config, registry *workflows.Registry) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Execute a workflow",
		Long:    runLong,
		Example: runExample,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := runFlags{
				workflow:   mustString(cmd.Flags().GetString("workflow")),
				version:    mustString(cmd.Flags().GetString("workflow-version")),
				manifest:   mustString(cmd.Flags().GetString("manifest")),
				paramsPath: mustString(cmd.Flags().GetString("params")),
				runID:      mustString(cmd.Flags().GetString("run")),
				stage:      mustString(cmd.Flags().GetString("stage")),
				force:      mustBool(cmd.Flags().GetBool("force")),
			}

			return runWorkflow(cmd, lggr, cfg, registry, f)
		},
	}

	manifestFlag(cmd)
	cmd.Flags().StringP("workflow", "w", "integrate", "Workflow to run")
	cmd.Flags().String("workflow-version", "", "Workflow version (default: latest)")
	cmd.Flags().StringP("params", "p", "", "Path to a TOML parameter file")
	cmd.Flags().String("run", "", "Run ID to resume (default: a new run)")
	cmd.Flags().String("stage", "", "Stop after this stage")
	cmd.Flags().Bool("force", false, "Ignore memoized reports and re-execute every stage")

	return cmd
}

func runWorkflow(
	cmd *cobra.Command, lggr logger.Logger, cfg *config.Config, registry *workflows.Registry, f runFlags,
) error {
	// --- Resolve the workflow

	var (
		wf  workflows.ConfiguredWorkflow
		err error
	)
	if f.version != "" {
		version, verr := semver.NewVersion(f.version)
		if verr != nil {
			return fmt.Errorf("invalid workflow version %q: %w", f.version, verr)
		}
		wf, err = registry.Get(f.workflow, version)
	} else {
		wf, _, err = registry.Latest(f.workflow)
	}
	if err != nil {
		return err
	}

	// --- Load

	params, err := config.LoadParams(f.paramsPath)
	if err != nil {
		return err
	}
	if f.stage != "" {
		params = config.MergeParams(params, map[string]any{"stopAfter": f.stage})
	}

	opts := []environment.LoadOpt{
		environment.WithManifest(f.manifest),
		environment.WithParams(params),
	}
	if f.runID != "" {
		opts = append(opts, environment.WithRun(f.runID))
	}
	if f.force {
		opts = append(opts, environment.WithFreshReporter())
	}

	env, err := environment.Load(cmd.Context(), cfg, lggr, opts...)
	if err != nil {
		return err
	}

	cmd.Printf("▶ Running %s (run %s)\n", f.workflow, env.RunID)

	// --- Execute

	out, applyErr := wf.Apply(env.Environment)

	// Persist reports and the datastore even on failure so completed stages
	// are skipped on the next attempt.
	if err := env.Run.SaveReports(env.Reporter); err != nil {
		return errors.Join(applyErr, err)
	}
	if err := env.Workspace.SaveDataStore(env.Store); err != nil {
		return errors.Join(applyErr, err)
	}

	if applyErr != nil {
		return fmt.Errorf("workflow %s failed (resume with --run %s): %w", f.workflow, env.RunID, applyErr)
	}

	cmd.Printf("✅ Workflow %s completed: %d reports, %d artifacts\n",
		f.workflow, len(out.Reports), len(out.Artifacts))
	for _, key := range out.Artifacts {
		cmd.Printf("   artifact %s\n", key)
	}

	return nil
}
