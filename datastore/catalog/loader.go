package catalog

import (
	"context"
	"fmt"

	"github.com/crossbatch/scrna-integration-framework/datastore"
)

// Load pulls the full catalog contents into a fresh MemoryDataStore. This is
// how a workspace bootstraps its local datastore from a shared catalog.
func (s *CatalogStore) Load(ctx context.Context) (*datastore.MemoryDataStore, error) {
	store := datastore.NewMemoryDataStore()

	refs, err := s.FetchDatasetRefs(ctx)
	if err != nil {
		return nil, err
	}
	for _, ref := range refs {
		if err := store.DatasetRefs().Add(ref); err != nil {
			return nil, fmt.Errorf("failed to load dataset reference %s/%s: %w",
				ref.Repository, ref.Accession, err)
		}
	}

	datasetMetadata, err := s.FetchDatasetMetadata(ctx)
	if err != nil {
		return nil, err
	}
	for _, record := range datasetMetadata {
		if err := store.DatasetMetadata().Add(record); err != nil {
			return nil, fmt.Errorf("failed to load dataset metadata %s/%s: %w",
				record.Repository, record.Accession, err)
		}
	}

	runMetadata, err := s.FetchRunMetadata(ctx)
	if err != nil {
		return nil, err
	}
	for _, record := range runMetadata {
		if err := store.RunMetadata().Add(record); err != nil {
			return nil, fmt.Errorf("failed to load run metadata %s: %w", record.RunID, err)
		}
	}

	return store, nil
}

// Sync pushes every record of the given datastore into the catalog in a
// single transaction. Existing catalog rows with matching keys are replaced.
// Workspace metadata is local to a workspace and is not synced.
func (s *CatalogStore) Sync(ctx context.Context, ds datastore.DataStore) error {
	refs, err := ds.DatasetRefs().Fetch()
	if err != nil {
		return err
	}

	datasetMetadata, err := ds.DatasetMetadata().Fetch()
	if err != nil {
		return err
	}

	runMetadata, err := ds.RunMetadata().Fetch()
	if err != nil {
		return err
	}

	return s.WithTx(ctx, func(tx *CatalogStore) error {
		for _, ref := range refs {
			if err := tx.UpsertDatasetRef(ctx, ref); err != nil {
				return fmt.Errorf("failed to sync dataset reference %s/%s: %w",
					ref.Repository, ref.Accession, err)
			}
		}
		for _, record := range datasetMetadata {
			if err := tx.UpsertDatasetMetadata(ctx, record); err != nil {
				return fmt.Errorf("failed to sync dataset metadata %s/%s: %w",
					record.Repository, record.Accession, err)
			}
		}
		for _, record := range runMetadata {
			if err := tx.UpsertRunMetadata(ctx, record); err != nil {
				return fmt.Errorf("failed to sync run metadata %s: %w", record.RunID, err)
			}
		}

		return nil
	})
}
