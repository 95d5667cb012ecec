package commands

import (
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/crossbatch/scrna-integration-framework/dataset"
	"github.com/crossbatch/scrna-integration-framework/engine/scw/config"
	"github.com/crossbatch/scrna-integration-framework/engine/scw/environment"
	"github.com/crossbatch/scrna-integration-framework/pkg/logger"
)

var datasetsLong = longDesc(`
	Commands for inspecting and prefetching the datasets of a manifest.

	Without --manifest the built-in pancreas manifest is used. Listing is free;
	describe and fetch download the named datasets into the cache.
`)

// manifestFlag adds the shared --manifest/-m flag to a command.
func manifestFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("manifest", "m", "", "Path to a dataset manifest (default: built-in pancreas manifest)")
}

// newDatasetsCmd creates the datasets command group.
func newDatasetsCmd(lggr logger.Logger, cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "datasets",
		Short: "Dataset operations",
		Long:  datasetsLong,
	}

	cmd.AddCommand(newDatasetsListCmd(lggr, cfg))
	cmd.AddCommand(newDatasetsDescribeCmd(lggr, cfg))
	cmd.AddCommand(newDatasetsFetchCmd(lggr, cfg))

	return cmd
}

func newDatasetsListCmd(lggr logger.Logger, cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the datasets of the manifest",
		RunE: func(cmd *cobra.Command, _ []string) error {
			collection, _, err := environment.NewCollection(
				cmd.Context(), cfg, lggr, mustString(cmd.Flags().GetString("manifest")),
			)
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Name", "Repository"})
			for _, repo := range []string{
				dataset.RepositoryGEO, dataset.RepositoryArrayExpress, dataset.RepositoryLocal,
			} {
				for _, name := range collection.List(dataset.WithRepository(repo)) {
					table.Append([]string{name, repo})
				}
			}
			table.Render()

			return nil
		},
	}

	manifestFlag(cmd)

	return cmd
}

func newDatasetsDescribeCmd(lggr logger.Logger, cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "describe <name>",
		Short: "Download and summarize one dataset",
		Example: examples(`
			# Describe the Grun dataset, downloading it on first use
			scw datasets describe grun
		`),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			collection, _, err := environment.NewCollection(
				cmd.Context(), cfg, lggr, mustString(cmd.Flags().GetString("manifest")),
			)
			if err != nil {
				return err
			}

			d, err := collection.Get(args[0])
			if err != nil {
				return fmt.Errorf("failed to load dataset %s: %w", args[0], err)
			}

			exp := d.Experiment()
			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Field", "Value"})
			table.AppendBulk([][]string{
				{"name", d.Name()},
				{"accession", d.Accession()},
				{"repository", d.Repository()},
				{"genes", fmt.Sprint(exp.NumGenes())},
				{"cells", fmt.Sprint(exp.NumCells())},
			})
			table.Render()

			return nil
		},
	}

	manifestFlag(cmd)

	return cmd
}

func newDatasetsFetchCmd(lggr logger.Logger, cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch [names...]",
		Short: "Download datasets into the cache",
		Long: longDesc(`
			Downloads and parses the named datasets, or every dataset of the
			manifest when no names are given. Subsequent workflow runs hit the
			cache instead of the network.
		`),
		RunE: func(cmd *cobra.Command, args []string) error {
			collection, _, err := environment.NewCollection(
				cmd.Context(), cfg, lggr, mustString(cmd.Flags().GetString("manifest")),
			)
			if err != nil {
				return err
			}

			names := args
			if len(names) == 0 {
				names = collection.List()
			}

			for _, name := range names {
				d, err := collection.Get(name)
				if err != nil {
					return fmt.Errorf("failed to fetch dataset %s: %w", name, err)
				}
				exp := d.Experiment()
				cmd.Printf("✅ %s (%s): %d genes x %d cells\n",
					d.Name(), d.Accession(), exp.NumGenes(), exp.NumCells())
			}

			return nil
		},
	}

	manifestFlag(cmd)

	return cmd
}
