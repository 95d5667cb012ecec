package integrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossbatch/scrna-integration-framework/analysis/fetch"
	"github.com/crossbatch/scrna-integration-framework/dataset"
	"github.com/crossbatch/scrna-integration-framework/pkg/logger"
)

func Test_PancreasConfig(t *testing.T) {
	t.Parallel()

	cfg := PancreasConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, PancreasDatasets, cfg.Datasets)
	assert.Equal(t, "ERCC-", cfg.SpikePrefix)
	assert.Equal(t, 2000, cfg.HVG.N)
	assert.Contains(t, cfg.MarkerGenes, "INS")
	assert.Contains(t, cfg.MarkerGenes, "GCG")
}

func Test_NewPancreasCollection(t *testing.T) {
	t.Parallel()

	lggr := logger.Test(t)
	cache, err := fetch.New(t.TempDir(), lggr)
	require.NoError(t, err)

	collection, err := NewPancreasCollection(t.Context(), cache, lggr)
	require.NoError(t, err)

	// Building the collection downloads nothing.
	assert.True(t, collection.IsLazy())
	assert.True(t, collection.ExistsN(PancreasDatasets...))

	names := collection.List(dataset.WithRepository(dataset.RepositoryGEO))
	assert.ElementsMatch(t, []string{DatasetGrun, DatasetMuraro, DatasetLawlor}, names)

	names = collection.List(dataset.WithRepository(dataset.RepositoryArrayExpress))
	assert.Equal(t, []string{DatasetSegerstolpe}, names)
}
