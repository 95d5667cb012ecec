package catalog

import (
	"database/sql"
	"testing"

	"github.com/Masterminds/semver/v3"
	_ "github.com/proullon/ramsql/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossbatch/scrna-integration-framework/datastore"
)

// newRamStore opens a CatalogStore over an embedded ramsql database named
// after the test, so parallel tests never share state.
func newRamStore(t *testing.T) *CatalogStore {
	t.Helper()

	db, err := sql.Open("ramsql", t.Name())
	require.NoError(t, err)

	store := NewWithDB(db)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.EnsureSchema(t.Context()))

	return store
}

func newCatalogRef(accession, qualifier string) datastore.DatasetRef {
	return datastore.DatasetRef{
		Repository: "geo",
		Accession:  accession,
		Name:       "pancreas-" + accession,
		Version:    semver.MustParse("1.2.0"),
		URI:        "https://example.org/" + accession + "_counts.tsv.gz",
		Labels:     datastore.NewLabelSet("pancreas", "human"),
		Qualifier:  qualifier,
	}
}

func Test_CatalogStore_Open_RequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := Open(Config{})
	require.Error(t, err)
}

func Test_CatalogStore_DatasetRefCRUD(t *testing.T) {
	t.Parallel()

	store := newRamStore(t)
	ctx := t.Context()
	ref := newCatalogRef("GSE81076", "")

	require.NoError(t, store.AddDatasetRef(ctx, ref))
	require.ErrorIs(t, store.AddDatasetRef(ctx, ref), datastore.ErrDatasetRefExists)

	got, err := store.GetDatasetRef(ctx, ref.Key())
	require.NoError(t, err)
	assert.Equal(t, ref.Name, got.Name)
	assert.Equal(t, ref.URI, got.URI)
	assert.True(t, got.Labels.Contains("pancreas"))
	require.NotNil(t, got.Version)
	assert.Equal(t, "1.2.0", got.Version.String())

	ref.URI = "https://example.org/updated.tsv.gz"
	require.NoError(t, store.UpdateDatasetRef(ctx, ref))

	got, err = store.GetDatasetRef(ctx, ref.Key())
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/updated.tsv.gz", got.URI)

	require.NoError(t, store.DeleteDatasetRef(ctx, ref.Key()))
	_, err = store.GetDatasetRef(ctx, ref.Key())
	require.ErrorIs(t, err, datastore.ErrDatasetRefNotFound)

	require.ErrorIs(t, store.UpdateDatasetRef(ctx, ref), datastore.ErrDatasetRefNotFound)
	require.ErrorIs(t, store.DeleteDatasetRef(ctx, ref.Key()), datastore.ErrDatasetRefNotFound)
}

func Test_CatalogStore_FetchDatasetRefs_Sorted(t *testing.T) {
	t.Parallel()

	store := newRamStore(t)
	ctx := t.Context()

	require.NoError(t, store.AddDatasetRef(ctx, newCatalogRef("GSE85241", "")))
	require.NoError(t, store.AddDatasetRef(ctx, newCatalogRef("GSE81076", "")))
	require.NoError(t, store.AddDatasetRef(ctx, newCatalogRef("GSE81076", "requantified")))

	refs, err := store.FetchDatasetRefs(ctx)
	require.NoError(t, err)
	require.Len(t, refs, 3)
	assert.Equal(t, "GSE81076", refs[0].Accession)
	assert.Equal(t, "", refs[0].Qualifier)
	assert.Equal(t, "requantified", refs[1].Qualifier)
	assert.Equal(t, "GSE85241", refs[2].Accession)
}

func Test_CatalogStore_UpsertDatasetRef(t *testing.T) {
	t.Parallel()

	store := newRamStore(t)
	ctx := t.Context()
	ref := newCatalogRef("GSE86469", "")

	require.NoError(t, store.UpsertDatasetRef(ctx, ref))

	ref.Version = semver.MustParse("2.0.0")
	require.NoError(t, store.UpsertDatasetRef(ctx, ref))

	refs, err := store.FetchDatasetRefs(ctx)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "2.0.0", refs[0].Version.String())
}

func Test_CatalogStore_DatasetMetadata(t *testing.T) {
	t.Parallel()

	store := newRamStore(t)
	ctx := t.Context()

	record := datastore.DatasetMetadata{
		Repository: "arrayexpress",
		Accession:  "E-MTAB-5061",
		Metadata:   map[string]any{"protocol": "Smart-seq2"},
	}
	require.NoError(t, store.UpsertDatasetMetadata(ctx, record))

	record.Metadata = map[string]any{"protocol": "Smart-seq2", "cells": "3514"}
	require.NoError(t, store.UpsertDatasetMetadata(ctx, record))

	got, err := store.GetDatasetMetadata(ctx, record.Key())
	require.NoError(t, err)

	meta, err := datastore.As[map[string]string](got.Metadata)
	require.NoError(t, err)
	assert.Equal(t, "3514", meta["cells"])

	_, err = store.GetDatasetMetadata(ctx, datastore.NewDatasetMetadataKey("geo", "GSE00000"))
	require.ErrorIs(t, err, datastore.ErrDatasetMetadataNotFound)
}

func Test_CatalogStore_RunMetadata(t *testing.T) {
	t.Parallel()

	store := newRamStore(t)
	ctx := t.Context()

	first := datastore.RunMetadata{RunID: "1AAAAAAAAAAAAAAAAAAAAAAAAAA", Workflow: "integrate-pancreas"}
	second := datastore.RunMetadata{RunID: "2BBBBBBBBBBBBBBBBBBBBBBBBBB", Workflow: "integrate-pancreas"}

	require.NoError(t, store.UpsertRunMetadata(ctx, second))
	require.NoError(t, store.UpsertRunMetadata(ctx, first))

	runs, err := store.FetchRunMetadata(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, first.RunID, runs[0].RunID)

	first.Workflow = "integrate-pancreas-v2"
	require.NoError(t, store.UpsertRunMetadata(ctx, first))

	got, err := store.GetRunMetadata(ctx, first.Key())
	require.NoError(t, err)
	assert.Equal(t, "integrate-pancreas-v2", got.Workflow)
}

func Test_CatalogStore_WithTx_RollsBackOnError(t *testing.T) {
	t.Parallel()

	store := newRamStore(t)
	ctx := t.Context()

	err := store.WithTx(ctx, func(tx *CatalogStore) error {
		if err := tx.AddDatasetRef(ctx, newCatalogRef("GSE81076", "")); err != nil {
			return err
		}

		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	refs, err := store.FetchDatasetRefs(ctx)
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func Test_CatalogStore_LoadAndSync(t *testing.T) {
	t.Parallel()

	store := newRamStore(t)
	ctx := t.Context()

	local := datastore.NewMemoryDataStore()
	require.NoError(t, local.DatasetRefs().Add(newCatalogRef("GSE81076", "")))
	require.NoError(t, local.DatasetRefs().Add(newCatalogRef("GSE85241", "")))
	require.NoError(t, local.DatasetMetadata().Add(datastore.DatasetMetadata{
		Repository: "geo",
		Accession:  "GSE81076",
		Metadata:   map[string]any{"protocol": "CEL-seq2"},
	}))
	require.NoError(t, local.RunMetadata().Add(datastore.RunMetadata{
		RunID:    datastore.NewRunID(),
		Workflow: "integrate-pancreas",
	}))

	require.NoError(t, store.Sync(ctx, local.Seal()))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)

	refs, err := loaded.DatasetRefs().Fetch()
	require.NoError(t, err)
	assert.Len(t, refs, 2)

	runs, err := loaded.RunMetadata().Fetch()
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	// Syncing again replaces rather than duplicates.
	require.NoError(t, store.Sync(ctx, local.Seal()))
	refs, err = store.FetchDatasetRefs(ctx)
	require.NoError(t, err)
	assert.Len(t, refs, 2)
}
