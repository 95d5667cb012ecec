package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/crossbatch/scrna-integration-framework/datastore"
	"github.com/crossbatch/scrna-integration-framework/datastore/catalog"
	"github.com/crossbatch/scrna-integration-framework/engine/scw/config"
	"github.com/crossbatch/scrna-integration-framework/engine/scw/workspace"
	"github.com/crossbatch/scrna-integration-framework/pkg/logger"
)

var datastoreLong = longDesc(`
	Commands for managing the workspace datastore.

	The datastore records dataset references, dataset metadata and run
	records. These commands inspect it, merge another workspace's datastore
	into it, and sync it to a shared catalog database.
`)

// newDatastoreCmd creates the datastore command group.
func newDatastoreCmd(lggr logger.Logger, cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "datastore",
		Short: "Workspace datastore operations",
		Long:  datastoreLong,
	}

	cmd.AddCommand(newDatastoreInspectCmd(lggr, cfg))
	cmd.AddCommand(newDatastoreMergeCmd(lggr, cfg))
	cmd.AddCommand(newDatastoreSyncCmd(lggr, cfg))

	return cmd
}

func newDatastoreInspectCmd(lggr logger.Logger, cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Summarize the workspace datastore",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := workspace.New(cfg.WorkspaceDir, lggr)
			if err != nil {
				return err
			}
			store, err := ws.LoadDataStore()
			if err != nil {
				return err
			}

			refs, err := store.DatasetRefs().Fetch()
			if err != nil {
				return err
			}
			metadata, err := store.DatasetMetadata().Fetch()
			if err != nil {
				return err
			}
			runs, err := store.RunMetadata().Fetch()
			if err != nil {
				return err
			}

			cmd.Printf("Datastore %s\n", ws.DataStorePath())

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Records", "Count"})
			table.AppendBulk([][]string{
				{"dataset references", fmt.Sprint(len(refs))},
				{"dataset metadata", fmt.Sprint(len(metadata))},
				{"run records", fmt.Sprint(len(runs))},
			})
			table.Render()

			for _, run := range runs {
				cmd.Printf("run %s: %s\n", run.RunID, run.Workflow)
			}

			return nil
		},
	}
}

func newDatastoreMergeCmd(lggr logger.Logger, cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge another datastore into the workspace",
		Example: examples(`
			# Merge a colleague's workspace datastore into this one
			scw datastore merge --from /shared/workspace/datastore.json
		`),
		RunE: func(cmd *cobra.Command, _ []string) error {
			from := mustString(cmd.Flags().GetString("from"))

			ws, err := workspace.New(cfg.WorkspaceDir, lggr)
			if err != nil {
				return err
			}
			store, err := ws.LoadDataStore()
			if err != nil {
				return err
			}

			data, err := os.ReadFile(from)
			if err != nil {
				return fmt.Errorf("failed to read datastore %s: %w", from, err)
			}
			other, err := datastore.FromJSON(data)
			if err != nil {
				return fmt.Errorf("failed to parse datastore %s: %w", from, err)
			}

			if err := store.Merge(other.Seal()); err != nil {
				return fmt.Errorf("failed to merge datastore %s: %w", from, err)
			}
			if err := ws.SaveDataStore(store); err != nil {
				return err
			}

			cmd.Printf("✅ Merged %s into %s\n", from, ws.DataStorePath())

			return nil
		},
	}

	cmd.Flags().String("from", "", "Path to the datastore JSON to merge (required)")
	_ = cmd.MarkFlagRequired("from")

	return cmd
}

func newDatastoreSyncCmd(lggr logger.Logger, cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push the workspace datastore to the catalog",
		Long: longDesc(`
			Pushes every record of the workspace datastore into the shared
			catalog database in a single transaction. Requires a configured
			catalog DSN.
		`),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.Catalog.DSN == "" {
				return errors.New("catalog sync requires a catalog DSN; set catalog.dsn or SCW_CATALOG_DSN")
			}

			ws, err := workspace.New(cfg.WorkspaceDir, lggr)
			if err != nil {
				return err
			}
			store, err := ws.LoadDataStore()
			if err != nil {
				return err
			}

			cat, err := catalog.Open(catalog.Config{DSN: cfg.Catalog.DSN})
			if err != nil {
				return err
			}
			defer cat.Close()

			if err := cat.Sync(cmd.Context(), store.Seal()); err != nil {
				return fmt.Errorf("failed to sync the datastore to the catalog: %w", err)
			}

			cmd.Println("✅ Synced the workspace datastore to the catalog")

			return nil
		},
	}
}
