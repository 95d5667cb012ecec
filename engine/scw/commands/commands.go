// Package commands provides the cobra command groups of the scw CLI.
//
// Commands are created through the Commands factory so the logger is set once
// and shared:
//
//	cmds := commands.New(lggr)
//	runCmd, err := cmds.Run(cfg, registry)
//	if err != nil {
//	    return err
//	}
//	app.AddCommand(runCmd)
package commands

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crossbatch/scrna-integration-framework/engine/scw/config"
	"github.com/crossbatch/scrna-integration-framework/pkg/logger"
	"github.com/crossbatch/scrna-integration-framework/workflows"
)

// Commands provides a factory for creating CLI commands with shared
// configuration.
type Commands struct {
	lggr logger.Logger
}

// New creates a new Commands factory with the given logger.
// The logger is shared across all commands created by this factory.
func New(lggr logger.Logger) *Commands {
	return &Commands{lggr: lggr}
}

// Datasets creates the datasets command group for inspecting and prefetching
// the manifest's datasets.
func (c *Commands) Datasets(cfg *config.Config) (*cobra.Command, error) {
	if err := validate(c, cfg); err != nil {
		return nil, err
	}

	return newDatasetsCmd(c.lggr, cfg), nil
}

// Run creates the run command executing a registered workflow.
func (c *Commands) Run(cfg *config.Config, registry *workflows.Registry) (*cobra.Command, error) {
	if err := validate(c, cfg); err != nil {
		return nil, err
	}
	if registry == nil {
		return nil, errors.New("commands: workflow registry is required")
	}

	return newRunCmd(c.lggr, cfg, registry), nil
}

// Artifacts creates the artifacts command group over a run's saved artifacts.
func (c *Commands) Artifacts(cfg *config.Config) (*cobra.Command, error) {
	if err := validate(c, cfg); err != nil {
		return nil, err
	}

	return newArtifactsCmd(c.lggr, cfg), nil
}

// Datastore creates the datastore command group for inspecting, merging and
// syncing the workspace datastore.
func (c *Commands) Datastore(cfg *config.Config) (*cobra.Command, error) {
	if err := validate(c, cfg); err != nil {
		return nil, err
	}

	return newDatastoreCmd(c.lggr, cfg), nil
}

// Reports creates the reports command group over a run's operation reports.
func (c *Commands) Reports(cfg *config.Config) (*cobra.Command, error) {
	if err := validate(c, cfg); err != nil {
		return nil, err
	}

	return newReportsCmd(c.lggr, cfg), nil
}

func validate(c *Commands, cfg *config.Config) error {
	var missing []string

	if c.lggr == nil {
		missing = append(missing, "Logger")
	}
	if cfg == nil {
		missing = append(missing, "Config")
	}

	if len(missing) > 0 {
		return errors.New("commands: missing required fields: " + strings.Join(missing, ", "))
	}

	return nil
}
