package datastore

import (
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRef(accession, qualifier string) DatasetRef {
	return DatasetRef{
		Repository: "geo",
		Accession:  accession,
		Name:       "pancreas-" + accession,
		Version:    semver.MustParse("1.0.0"),
		URI:        "https://example.org/" + accession + "_counts.tsv.gz",
		Labels:     NewLabelSet("pancreas"),
		Qualifier:  qualifier,
	}
}

func Test_MemoryDatasetRefStore_AddAndGet(t *testing.T) {
	t.Parallel()

	store := NewMemoryDatasetRefStore()
	ref := newTestRef("GSE81076", "")

	require.NoError(t, store.Add(ref))
	require.ErrorIs(t, store.Add(ref), ErrDatasetRefExists)

	got, err := store.Get(ref.Key())
	require.NoError(t, err)
	assert.Equal(t, ref, got)

	_, err = store.Get(NewDatasetRefKey("geo", "GSE00000", ""))
	require.ErrorIs(t, err, ErrDatasetRefNotFound)
}

func Test_MemoryDatasetRefStore_GetReturnsCopy(t *testing.T) {
	t.Parallel()

	store := NewMemoryDatasetRefStore()
	ref := newTestRef("GSE81076", "")
	require.NoError(t, store.Add(ref))

	got, err := store.Get(ref.Key())
	require.NoError(t, err)
	got.Labels.Add("edited")

	again, err := store.Get(ref.Key())
	require.NoError(t, err)
	assert.False(t, again.Labels.Contains("edited"))
}

func Test_MemoryDatasetRefStore_QualifierSeparatesRecords(t *testing.T) {
	t.Parallel()

	store := NewMemoryDatasetRefStore()
	require.NoError(t, store.Add(newTestRef("GSE85241", "")))
	require.NoError(t, store.Add(newTestRef("GSE85241", "requantified")))

	records, err := store.Fetch()
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func Test_MemoryDatasetRefStore_Upsert(t *testing.T) {
	t.Parallel()

	store := NewMemoryDatasetRefStore()
	ref := newTestRef("GSE86469", "")
	require.NoError(t, store.Upsert(ref))

	ref.URI = "https://example.org/updated.tsv.gz"
	require.NoError(t, store.Upsert(ref))

	got, err := store.Get(ref.Key())
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/updated.tsv.gz", got.URI)

	records, err := store.Fetch()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func Test_MemoryDatasetRefStore_Update(t *testing.T) {
	t.Parallel()

	store := NewMemoryDatasetRefStore()
	ref := newTestRef("E-MTAB-5061", "")

	require.ErrorIs(t, store.Update(ref), ErrDatasetRefNotFound)

	require.NoError(t, store.Add(ref))
	ref.Name = "segerstolpe"
	require.NoError(t, store.Update(ref))

	got, err := store.Get(ref.Key())
	require.NoError(t, err)
	assert.Equal(t, "segerstolpe", got.Name)
}

func Test_MemoryDatasetRefStore_Delete(t *testing.T) {
	t.Parallel()

	store := NewMemoryDatasetRefStore()
	ref := newTestRef("GSE81076", "")

	require.ErrorIs(t, store.Delete(ref.Key()), ErrDatasetRefNotFound)

	require.NoError(t, store.Add(ref))
	require.NoError(t, store.Delete(ref.Key()))

	_, err := store.Get(ref.Key())
	require.ErrorIs(t, err, ErrDatasetRefNotFound)
}

func Test_MemoryDatasetRefStore_Filter(t *testing.T) {
	t.Parallel()

	store := NewMemoryDatasetRefStore()
	require.NoError(t, store.Add(newTestRef("GSE81076", "")))
	require.NoError(t, store.Add(newTestRef("GSE85241", "")))

	local := DatasetRef{Repository: "local", Accession: "/data/toy", Name: "toy"}
	require.NoError(t, store.Add(local))

	assert.Len(t, store.Filter(), 3)
	assert.Len(t, store.Filter(DatasetRefByRepository("geo")), 2)
	assert.Len(t, store.Filter(DatasetRefByRepository("geo"), DatasetRefByName("pancreas-GSE81076")), 1)
	assert.Empty(t, store.Filter(DatasetRefByLabel("retina")))
	assert.Len(t, store.Filter(DatasetRefByLabel("pancreas")), 2)
	assert.Len(t, store.Filter(DatasetRefByVersion(semver.MustParse("1.0.0"))), 2)
	assert.Len(t, store.Filter(DatasetRefByQualifier("")), 3)
}
