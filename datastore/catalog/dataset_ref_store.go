package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/crossbatch/scrna-integration-framework/datastore"
)

// GetDatasetRef returns the reference with the given key, or
// datastore.ErrDatasetRefNotFound if no such row exists.
func (s *CatalogStore) GetDatasetRef(ctx context.Context, key datastore.DatasetRefKey) (datastore.DatasetRef, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT repository, accession, qualifier, name, version, uri, label_set
		 FROM dataset_refs
		 WHERE repository = $1 AND accession = $2 AND qualifier = $3`,
		key.Repository(), key.Accession(), key.Qualifier(),
	)

	ref, err := scanDatasetRef(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return datastore.DatasetRef{}, datastore.ErrDatasetRefNotFound
		}

		return datastore.DatasetRef{}, fmt.Errorf("failed to read dataset reference: %w", err)
	}

	return ref, nil
}

// FetchDatasetRefs returns all references in the catalog, sorted by
// repository, accession and qualifier.
func (s *CatalogStore) FetchDatasetRefs(ctx context.Context) ([]datastore.DatasetRef, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT repository, accession, qualifier, name, version, uri, label_set FROM dataset_refs`)
	if err != nil {
		return nil, fmt.Errorf("failed to query dataset references: %w", err)
	}
	defer rows.Close()

	refs := []datastore.DatasetRef{}
	for rows.Next() {
		ref, err := scanDatasetRef(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to read dataset reference: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dataset references: %w", err)
	}

	sort.Slice(refs, func(i, j int) bool {
		a, b := refs[i], refs[j]
		if a.Repository != b.Repository {
			return a.Repository < b.Repository
		}
		if a.Accession != b.Accession {
			return a.Accession < b.Accession
		}

		return a.Qualifier < b.Qualifier
	})

	return refs, nil
}

// AddDatasetRef inserts a new reference, returning
// datastore.ErrDatasetRefExists if the key is already present.
func (s *CatalogStore) AddDatasetRef(ctx context.Context, ref datastore.DatasetRef) error {
	_, err := s.GetDatasetRef(ctx, ref.Key())
	if err == nil {
		return datastore.ErrDatasetRefExists
	}
	if !errors.Is(err, datastore.ErrDatasetRefNotFound) {
		return err
	}

	return s.insertDatasetRef(ctx, ref)
}

// UpsertDatasetRef inserts the reference, or replaces the existing row with
// the same key.
func (s *CatalogStore) UpsertDatasetRef(ctx context.Context, ref datastore.DatasetRef) error {
	_, err := s.GetDatasetRef(ctx, ref.Key())
	if errors.Is(err, datastore.ErrDatasetRefNotFound) {
		return s.insertDatasetRef(ctx, ref)
	}
	if err != nil {
		return err
	}

	return s.updateDatasetRef(ctx, ref)
}

// UpdateDatasetRef replaces an existing reference, returning
// datastore.ErrDatasetRefNotFound if the key is absent.
func (s *CatalogStore) UpdateDatasetRef(ctx context.Context, ref datastore.DatasetRef) error {
	if _, err := s.GetDatasetRef(ctx, ref.Key()); err != nil {
		return err
	}

	return s.updateDatasetRef(ctx, ref)
}

// DeleteDatasetRef removes the reference with the given key, returning
// datastore.ErrDatasetRefNotFound if the key is absent.
func (s *CatalogStore) DeleteDatasetRef(ctx context.Context, key datastore.DatasetRefKey) error {
	if _, err := s.GetDatasetRef(ctx, key); err != nil {
		return err
	}

	_, err := s.q.ExecContext(ctx,
		`DELETE FROM dataset_refs WHERE repository = $1 AND accession = $2 AND qualifier = $3`,
		key.Repository(), key.Accession(), key.Qualifier(),
	)
	if err != nil {
		return fmt.Errorf("failed to delete dataset reference: %w", err)
	}

	return nil
}

func (s *CatalogStore) insertDatasetRef(ctx context.Context, ref datastore.DatasetRef) error {
	labels, version, err := encodeDatasetRef(ref)
	if err != nil {
		return err
	}

	_, err = s.q.ExecContext(ctx,
		`INSERT INTO dataset_refs (repository, accession, qualifier, name, version, uri, label_set)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ref.Repository, ref.Accession, ref.Qualifier, ref.Name, version, ref.URI, labels,
	)
	if err != nil {
		return fmt.Errorf("failed to insert dataset reference: %w", err)
	}

	return nil
}

func (s *CatalogStore) updateDatasetRef(ctx context.Context, ref datastore.DatasetRef) error {
	labels, version, err := encodeDatasetRef(ref)
	if err != nil {
		return err
	}

	_, err = s.q.ExecContext(ctx,
		`UPDATE dataset_refs SET name = $1, version = $2, uri = $3, label_set = $4
		 WHERE repository = $5 AND accession = $6 AND qualifier = $7`,
		ref.Name, version, ref.URI, labels, ref.Repository, ref.Accession, ref.Qualifier,
	)
	if err != nil {
		return fmt.Errorf("failed to update dataset reference: %w", err)
	}

	return nil
}

// encodeDatasetRef serializes the columns that are not plain strings. Labels
// are stored as a JSON array and a nil version as the empty string.
func encodeDatasetRef(ref datastore.DatasetRef) (labels, version string, err error) {
	b, err := json.Marshal(ref.Labels)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal labels: %w", err)
	}

	if ref.Version != nil {
		version = ref.Version.String()
	}

	return string(b), version, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDatasetRef(row rowScanner) (datastore.DatasetRef, error) {
	var ref datastore.DatasetRef
	var labels, version string

	if err := row.Scan(&ref.Repository, &ref.Accession, &ref.Qualifier,
		&ref.Name, &version, &ref.URI, &labels); err != nil {
		return datastore.DatasetRef{}, err
	}

	if err := json.Unmarshal([]byte(labels), &ref.Labels); err != nil {
		return datastore.DatasetRef{}, fmt.Errorf("failed to unmarshal labels: %w", err)
	}

	if version != "" {
		v, err := semver.NewVersion(version)
		if err != nil {
			return datastore.DatasetRef{}, fmt.Errorf("failed to parse version %q: %w", version, err)
		}
		ref.Version = v
	}

	return ref, nil
}
