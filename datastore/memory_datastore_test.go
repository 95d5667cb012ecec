package datastore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_MemoryDataStore_SealGivesReadOnlyView(t *testing.T) {
	t.Parallel()

	mutable := NewMemoryDataStore()
	require.NoError(t, mutable.DatasetRefs().Add(newTestRef("GSE81076", "")))

	sealed := mutable.Seal()

	refs, err := sealed.DatasetRefs().Fetch()
	require.NoError(t, err)
	assert.Len(t, refs, 1)

	// The sealed view shares storage with the mutable store.
	require.NoError(t, mutable.DatasetRefs().Add(newTestRef("GSE85241", "")))
	refs, err = sealed.DatasetRefs().Fetch()
	require.NoError(t, err)
	assert.Len(t, refs, 2)
}

func Test_MemoryDataStore_Merge(t *testing.T) {
	t.Parallel()

	dst := NewMemoryDataStore()
	require.NoError(t, dst.DatasetRefs().Add(newTestRef("GSE81076", "")))
	require.NoError(t, dst.DatasetMetadata().Add(DatasetMetadata{
		Repository: "geo",
		Accession:  "GSE81076",
		Metadata:   map[string]any{"protocol": "CEL-seq2"},
	}))

	src := NewMemoryDataStore()
	updated := newTestRef("GSE81076", "")
	updated.URI = "https://example.org/new.tsv.gz"
	require.NoError(t, src.DatasetRefs().Add(updated))
	require.NoError(t, src.DatasetRefs().Add(newTestRef("GSE86469", "")))
	require.NoError(t, src.RunMetadata().Add(RunMetadata{
		RunID:    NewRunID(),
		Workflow: "integrate-pancreas",
	}))
	require.NoError(t, src.WorkspaceMetadata().Set(WorkspaceMetadata{
		Metadata: map[string]any{"owner": "crossbatch"},
	}))

	require.NoError(t, dst.Merge(src.Seal()))

	refs, err := dst.DatasetRefs().Fetch()
	require.NoError(t, err)
	assert.Len(t, refs, 2)

	got, err := dst.DatasetRefs().Get(updated.Key())
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/new.tsv.gz", got.URI)

	runs, err := dst.RunMetadata().Fetch()
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	ws, err := dst.WorkspaceMetadata().Get()
	require.NoError(t, err)
	meta, err := As[map[string]string](ws.Metadata)
	require.NoError(t, err)
	assert.Equal(t, "crossbatch", meta["owner"])
}

func Test_MemoryDataStore_MergeKeepsWorkspaceMetadataWhenUnset(t *testing.T) {
	t.Parallel()

	dst := NewMemoryDataStore()
	require.NoError(t, dst.WorkspaceMetadata().Set(WorkspaceMetadata{
		Metadata: map[string]any{"owner": "crossbatch"},
	}))

	require.NoError(t, dst.Merge(NewMemoryDataStore().Seal()))

	ws, err := dst.WorkspaceMetadata().Get()
	require.NoError(t, err)
	require.NotNil(t, ws.Metadata)
}

func Test_MemoryDataStore_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewMemoryDataStore()
	require.NoError(t, store.DatasetRefs().Add(newTestRef("GSE81076", "")))
	require.NoError(t, store.RunMetadata().Add(RunMetadata{
		RunID:    "2PhnrKHplMAQjVP5D1FcxJ9TRq1",
		Workflow: "integrate-pancreas",
		Metadata: map[string]any{"stages": 9},
	}))

	data, err := store.ToJSON()
	require.NoError(t, err)

	restored, err := FromJSON(data)
	require.NoError(t, err)

	refs, err := restored.DatasetRefs().Fetch()
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "GSE81076", refs[0].Accession)
	assert.True(t, refs[0].Labels.Contains("pancreas"))
	require.NotNil(t, refs[0].Version)
	assert.Equal(t, "1.0.0", refs[0].Version.String())

	run, err := restored.RunMetadata().Get(NewRunMetadataKey("2PhnrKHplMAQjVP5D1FcxJ9TRq1"))
	require.NoError(t, err)
	assert.Equal(t, "integrate-pancreas", run.Workflow)

	// A document with no stores at all still yields a usable datastore.
	empty, err := FromJSON([]byte(`{}`))
	require.NoError(t, err)
	_, err = empty.WorkspaceMetadata().Get()
	require.ErrorIs(t, err, ErrWorkspaceMetadataNotSet)
}
