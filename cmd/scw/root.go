package main

import (
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/crossbatch/scrna-integration-framework/engine/scw/commands"
	"github.com/crossbatch/scrna-integration-framework/engine/scw/config"
	"github.com/crossbatch/scrna-integration-framework/engine/scw/environment"
	"github.com/crossbatch/scrna-integration-framework/pkg/logger"
	"github.com/crossbatch/scrna-integration-framework/workflows"
)

// version is overridden at build time with
// -ldflags "-X main.version=v1.2.3".
var version = "dev"

// newRootCmd assembles the scw command tree.
func newRootCmd(cfg *config.Config, lggr logger.Logger) (*cobra.Command, error) {
	root := &cobra.Command{
		Use:          "scw",
		Short:        "Batch correction and integration workflows for single-cell RNA-seq",
		SilenceUsage: true,
	}

	// Declared again so they appear in help; main consumed them already.
	root.PersistentFlags().String("config", "scw.yaml", "Path to the engine config file")
	root.PersistentFlags().String("log-level", "", "Override the configured log level")

	registry, err := environment.NewWorkflowRegistry()
	if err != nil {
		return nil, err
	}

	cmds := commands.New(lggr)
	for _, build := range []func() (*cobra.Command, error){
		func() (*cobra.Command, error) { return cmds.Datasets(cfg) },
		func() (*cobra.Command, error) { return cmds.Run(cfg, registry) },
		func() (*cobra.Command, error) { return cmds.Artifacts(cfg) },
		func() (*cobra.Command, error) { return cmds.Reports(cfg) },
		func() (*cobra.Command, error) { return cmds.Datastore(cfg) },
	} {
		cmd, err := build()
		if err != nil {
			return nil, err
		}
		root.AddCommand(cmd)
	}

	root.AddCommand(newWorkflowsCmd(registry))
	root.AddCommand(newVersionCmd())

	return root, nil
}

// newWorkflowsCmd lists the registered workflows.
func newWorkflowsCmd(registry *workflows.Registry) *cobra.Command {
	return &cobra.Command{
		Use:   "workflows",
		Short: "List the registered workflows",
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, name := range registry.List() {
				cmd.Println(name)
			}

			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("scw %s\n", version)

			info, ok := debug.ReadBuildInfo()
			if !ok {
				return
			}
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs.revision", "vcs.time":
					cmd.Printf("%s: %s\n", setting.Key, setting.Value)
				}
			}
			cmd.Printf("go: %s\n", info.GoVersion)
		},
	}
}
