package catalog

import (
	"context"
	"testing"

	"github.com/rubenv/pgtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossbatch/scrna-integration-framework/datastore"
)

// Exercises the catalog against a real postgres server. Skipped when no
// postgres binaries are installed on the host.
func Test_CatalogStore_Postgres(t *testing.T) {
	pg, err := pgtest.Start()
	if err != nil {
		t.Skipf("embedded postgres unavailable: %v", err)
	}
	defer pg.Stop() //nolint:errcheck // best-effort teardown

	store := NewWithDB(pg.DB)
	ctx := context.Background()

	require.NoError(t, store.EnsureSchema(ctx))

	ref := newCatalogRef("GSE81076", "")
	require.NoError(t, store.AddDatasetRef(ctx, ref))

	got, err := store.GetDatasetRef(ctx, ref.Key())
	require.NoError(t, err)
	assert.Equal(t, ref.URI, got.URI)
	assert.True(t, got.Labels.Contains("human"))

	err = store.WithTx(ctx, func(tx *CatalogStore) error {
		return tx.UpsertDatasetMetadata(ctx, datastore.DatasetMetadata{
			Repository: "geo",
			Accession:  "GSE81076",
			Metadata:   map[string]any{"protocol": "CEL-seq2"},
		})
	})
	require.NoError(t, err)

	records, err := store.FetchDatasetMetadata(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
