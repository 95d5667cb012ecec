package workspace

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/segmentio/ksuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossbatch/scrna-integration-framework/datastore"
	"github.com/crossbatch/scrna-integration-framework/pkg/logger"
)

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()

	w, err := New(filepath.Join(t.TempDir(), "workspace"), logger.Test(t))
	require.NoError(t, err)

	return w
}

func Test_New_CreatesLayout(t *testing.T) {
	t.Parallel()

	w := newTestWorkspace(t)

	info, err := os.Stat(filepath.Join(w.Root(), "runs"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	_, err = New("", logger.Test(t))
	require.ErrorContains(t, err, "workspace root is required")
}

func Test_DataStore_RoundTrip(t *testing.T) {
	t.Parallel()

	w := newTestWorkspace(t)

	// A fresh workspace yields an empty store.
	store, err := w.LoadDataStore()
	require.NoError(t, err)
	refs, err := store.DatasetRefs().Fetch()
	require.NoError(t, err)
	assert.Empty(t, refs)

	require.NoError(t, store.DatasetRefs().Add(datastore.DatasetRef{
		Repository: "geo",
		Accession:  "GSE81076",
		Name:       "grun",
		Version:    semver.MustParse("1.0.0"),
		URI:        "https://example.org/counts.txt.gz",
	}))
	require.NoError(t, w.SaveDataStore(store))

	loaded, err := w.LoadDataStore()
	require.NoError(t, err)
	refs, err = loaded.DatasetRefs().Fetch()
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "grun", refs[0].Name)
}

func Test_NewRun(t *testing.T) {
	t.Parallel()

	w := newTestWorkspace(t)

	run, err := w.NewRun()
	require.NoError(t, err)

	_, err = ksuid.Parse(run.ID())
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(run.Dir(), "artifacts"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	reopened, err := w.Run(run.ID())
	require.NoError(t, err)
	assert.Equal(t, run.Dir(), reopened.Dir())
}

func Test_Run_Errors(t *testing.T) {
	t.Parallel()

	w := newTestWorkspace(t)

	_, err := w.Run("not-a-ksuid")
	require.ErrorContains(t, err, "invalid run ID")

	_, err = w.Run(ksuid.New().String())
	require.ErrorContains(t, err, "not found")
}

func Test_LatestRun(t *testing.T) {
	t.Parallel()

	w := newTestWorkspace(t)

	_, err := w.LatestRun()
	require.ErrorIs(t, err, ErrNoRuns)

	// KSUIDs built from explicit timestamps give a known chronology.
	payload := make([]byte, 16)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var ids []string
	for i := range 3 {
		id, err := ksuid.FromParts(base.Add(time.Duration(i)*time.Minute), payload)
		require.NoError(t, err)
		ids = append(ids, id.String())
		require.NoError(t, os.MkdirAll(filepath.Join(w.Root(), "runs", id.String()), 0o755))
	}
	// Stray files and non-KSUID directories are ignored.
	require.NoError(t, os.MkdirAll(filepath.Join(w.Root(), "runs", "scratch"), 0o755))

	runs, err := w.Runs()
	require.NoError(t, err)
	assert.Equal(t, ids, runs)

	latest, err := w.LatestRun()
	require.NoError(t, err)
	assert.Equal(t, ids[2], latest.ID())
}
