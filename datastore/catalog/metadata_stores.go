package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/crossbatch/scrna-integration-framework/datastore"
)

// GetDatasetMetadata returns the metadata record with the given key, or
// datastore.ErrDatasetMetadataNotFound if no such row exists.
func (s *CatalogStore) GetDatasetMetadata(ctx context.Context, key datastore.DatasetMetadataKey) (datastore.DatasetMetadata, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT repository, accession, metadata FROM dataset_metadata
		 WHERE repository = $1 AND accession = $2`,
		key.Repository(), key.Accession(),
	)

	var record datastore.DatasetMetadata
	var metadata string
	if err := row.Scan(&record.Repository, &record.Accession, &metadata); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return datastore.DatasetMetadata{}, datastore.ErrDatasetMetadataNotFound
		}

		return datastore.DatasetMetadata{}, fmt.Errorf("failed to read dataset metadata: %w", err)
	}

	if err := decodeMetadata(metadata, &record.Metadata); err != nil {
		return datastore.DatasetMetadata{}, err
	}

	return record, nil
}

// FetchDatasetMetadata returns all dataset metadata records in the catalog,
// sorted by repository and accession.
func (s *CatalogStore) FetchDatasetMetadata(ctx context.Context) ([]datastore.DatasetMetadata, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT repository, accession, metadata FROM dataset_metadata`)
	if err != nil {
		return nil, fmt.Errorf("failed to query dataset metadata: %w", err)
	}
	defer rows.Close()

	records := []datastore.DatasetMetadata{}
	for rows.Next() {
		var record datastore.DatasetMetadata
		var metadata string
		if err := rows.Scan(&record.Repository, &record.Accession, &metadata); err != nil {
			return nil, fmt.Errorf("failed to read dataset metadata: %w", err)
		}
		if err := decodeMetadata(metadata, &record.Metadata); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dataset metadata: %w", err)
	}

	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Repository != b.Repository {
			return a.Repository < b.Repository
		}

		return a.Accession < b.Accession
	})

	return records, nil
}

// UpsertDatasetMetadata inserts the record, or replaces the existing row with
// the same key.
func (s *CatalogStore) UpsertDatasetMetadata(ctx context.Context, record datastore.DatasetMetadata) error {
	metadata, err := encodeMetadata(record.Metadata)
	if err != nil {
		return err
	}

	_, getErr := s.GetDatasetMetadata(ctx, record.Key())
	if errors.Is(getErr, datastore.ErrDatasetMetadataNotFound) {
		_, err = s.q.ExecContext(ctx,
			`INSERT INTO dataset_metadata (repository, accession, metadata) VALUES ($1, $2, $3)`,
			record.Repository, record.Accession, metadata,
		)
		if err != nil {
			return fmt.Errorf("failed to insert dataset metadata: %w", err)
		}

		return nil
	}
	if getErr != nil {
		return getErr
	}

	_, err = s.q.ExecContext(ctx,
		`UPDATE dataset_metadata SET metadata = $1 WHERE repository = $2 AND accession = $3`,
		metadata, record.Repository, record.Accession,
	)
	if err != nil {
		return fmt.Errorf("failed to update dataset metadata: %w", err)
	}

	return nil
}

// GetRunMetadata returns the run record with the given key, or
// datastore.ErrRunMetadataNotFound if no such row exists.
func (s *CatalogStore) GetRunMetadata(ctx context.Context, key datastore.RunMetadataKey) (datastore.RunMetadata, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT run_id, workflow, metadata FROM run_metadata WHERE run_id = $1`,
		key.RunID(),
	)

	var record datastore.RunMetadata
	var metadata string
	if err := row.Scan(&record.RunID, &record.Workflow, &metadata); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return datastore.RunMetadata{}, datastore.ErrRunMetadataNotFound
		}

		return datastore.RunMetadata{}, fmt.Errorf("failed to read run metadata: %w", err)
	}

	if err := decodeMetadata(metadata, &record.Metadata); err != nil {
		return datastore.RunMetadata{}, err
	}

	return record, nil
}

// FetchRunMetadata returns all run records in the catalog sorted by run ID,
// which for KSUIDs is chronological order.
func (s *CatalogStore) FetchRunMetadata(ctx context.Context) ([]datastore.RunMetadata, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT run_id, workflow, metadata FROM run_metadata`)
	if err != nil {
		return nil, fmt.Errorf("failed to query run metadata: %w", err)
	}
	defer rows.Close()

	records := []datastore.RunMetadata{}
	for rows.Next() {
		var record datastore.RunMetadata
		var metadata string
		if err := rows.Scan(&record.RunID, &record.Workflow, &metadata); err != nil {
			return nil, fmt.Errorf("failed to read run metadata: %w", err)
		}
		if err := decodeMetadata(metadata, &record.Metadata); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate run metadata: %w", err)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].RunID < records[j].RunID
	})

	return records, nil
}

// UpsertRunMetadata inserts the record, or replaces the existing row with the
// same run ID.
func (s *CatalogStore) UpsertRunMetadata(ctx context.Context, record datastore.RunMetadata) error {
	metadata, err := encodeMetadata(record.Metadata)
	if err != nil {
		return err
	}

	_, getErr := s.GetRunMetadata(ctx, record.Key())
	if errors.Is(getErr, datastore.ErrRunMetadataNotFound) {
		_, err = s.q.ExecContext(ctx,
			`INSERT INTO run_metadata (run_id, workflow, metadata) VALUES ($1, $2, $3)`,
			record.RunID, record.Workflow, metadata,
		)
		if err != nil {
			return fmt.Errorf("failed to insert run metadata: %w", err)
		}

		return nil
	}
	if getErr != nil {
		return getErr
	}

	_, err = s.q.ExecContext(ctx,
		`UPDATE run_metadata SET workflow = $1, metadata = $2 WHERE run_id = $3`,
		record.Workflow, metadata, record.RunID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run metadata: %w", err)
	}

	return nil
}

// encodeMetadata serializes an any-typed metadata value to its JSON column form.
func encodeMetadata(metadata any) (string, error) {
	b, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}

	return string(b), nil
}

// decodeMetadata restores an any-typed metadata value from its JSON column form.
func decodeMetadata(data string, out *any) error {
	if data == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	return nil
}
