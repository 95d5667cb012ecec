package geo

import (
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossbatch/scrna-integration-framework/analysis/fetch"
	"github.com/crossbatch/scrna-integration-framework/dataset/internal/common"
	"github.com/crossbatch/scrna-integration-framework/pkg/logger"
)

// writeFile drops content into dir and returns a file:// URL for it.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return "file://" + path
}

func writeGzipFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	return "file://" + path
}

func newCache(t *testing.T) *fetch.Cache {
	t.Helper()

	c, err := fetch.New(t.TempDir(), logger.Test(t))
	require.NoError(t, err)

	return c
}

func Test_Provider_Initialize(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	counts := "gene\tD1ex_1\tD1ex_2\tD2tr_1\n" +
		"GCG\t5\t0\t1\n" +
		"INS\t0\t3\t2\n" +
		"ERCC-0001\t1\t1\t1\n"
	countsURL := writeGzipFile(t, dir, "GSE00001_counts.tsv.gz", counts)

	p := NewProvider(ProviderConfig{
		Name:        "grun",
		Series:      "GSE00001",
		Counts:      []CountsSource{{URL: countsURL}},
		SpikePrefix: "ERCC-",
		Fields: map[string]common.FieldRule{
			"donor": {Pattern: `^(D\d+)`},
		},
	}, newCache(t), logger.Test(t))

	assert.Equal(t, "grun", p.Name())
	assert.Equal(t, "GSE00001", p.Accession())

	d, err := p.Initialize(t.Context())
	require.NoError(t, err)

	assert.Equal(t, "grun (GSE00001)", d.String())
	exp := d.Experiment()
	require.NotNil(t, exp)
	assert.Equal(t, 3, exp.NumGenes())
	assert.Equal(t, 3, exp.NumCells())

	donor, ok := exp.ColData().StrCol("donor")
	require.True(t, ok)
	assert.Equal(t, []string{"D1", "D1", "D2"}, donor)

	spike, ok := exp.RowData().BoolCol(common.SpikeCol)
	require.True(t, ok)
	assert.Equal(t, []bool{false, false, true}, spike)

	// Initialize is idempotent and Dataset returns the same instance.
	again, err := p.Initialize(t.Context())
	require.NoError(t, err)
	assert.Equal(t, d, again)
	assert.Equal(t, d, p.Dataset())
}

func Test_Provider_Initialize_WithMetadata(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	countsURL := writeFile(t, dir, "counts.tsv",
		"gene\tc1\tc2\nGCG\t1\t2\n")
	// Metadata rows deliberately out of matrix order.
	metaURL := writeFile(t, dir, "meta.tsv",
		"cell\tdonor\nc2\tD9\nc1\tD7\n")

	p := NewProvider(ProviderConfig{
		Name:         "demo",
		Series:       "GSE00002",
		Counts:       []CountsSource{{URL: countsURL}},
		CellMetadata: &MetadataSource{URL: metaURL, IDColumn: "cell"},
		Fields: map[string]common.FieldRule{
			"donor": {Column: "donor"},
		},
	}, newCache(t), logger.Test(t))

	d, err := p.Initialize(t.Context())
	require.NoError(t, err)

	donor, ok := d.Experiment().ColData().StrCol("donor")
	require.True(t, ok)
	assert.Equal(t, []string{"D7", "D9"}, donor)
}

func Test_Provider_Initialize_MetadataMismatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	countsURL := writeFile(t, dir, "counts.tsv",
		"gene\tc1\tc2\nGCG\t1\t2\n")
	metaURL := writeFile(t, dir, "meta.tsv",
		"cell\tdonor\nc1\tD7\n")

	p := NewProvider(ProviderConfig{
		Name:         "demo",
		Series:       "GSE00002",
		Counts:       []CountsSource{{URL: countsURL}},
		CellMetadata: &MetadataSource{URL: metaURL},
	}, newCache(t), logger.Test(t))

	_, err := p.Initialize(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 annotation rows for 2")
}

func Test_Provider_Initialize_BindsMultipleCounts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	url1 := writeFile(t, dir, "plate1.tsv", "gene\tc1\nGCG\t1\nINS\t2\n")
	url2 := writeFile(t, dir, "plate2.tsv", "gene\tc2\tc3\nGCG\t3\t4\nINS\t5\t6\n")

	p := NewProvider(ProviderConfig{
		Name:   "demo",
		Series: "GSE00003",
		Counts: []CountsSource{{URL: url1}, {URL: url2}},
	}, newCache(t), logger.Test(t))

	d, err := p.Initialize(t.Context())
	require.NoError(t, err)

	exp := d.Experiment()
	assert.Equal(t, 2, exp.NumGenes())
	assert.Equal(t, 3, exp.NumCells())
	assert.Equal(t, []string{"c1", "c2", "c3"}, exp.CellIDs())
	assert.Equal(t, 4.0, exp.Counts().At(0, 2))
}

func Test_Provider_Validation(t *testing.T) {
	t.Parallel()

	cache := newCache(t)

	tests := []struct {
		name string
		cfg  ProviderConfig
	}{
		{name: "missing name", cfg: ProviderConfig{Series: "GSE1", Counts: []CountsSource{{URL: "file:///x"}}}},
		{name: "missing series", cfg: ProviderConfig{Name: "x", Counts: []CountsSource{{URL: "file:///x"}}}},
		{name: "no counts", cfg: ProviderConfig{Name: "x", Series: "GSE1"}},
		{name: "bad format", cfg: ProviderConfig{Name: "x", Series: "GSE1",
			Counts: []CountsSource{{URL: "file:///x", Format: "hdf5"}}}},
		{name: "matrix market without companions", cfg: ProviderConfig{Name: "x", Series: "GSE1",
			Counts: []CountsSource{{URL: "file:///x", Format: FormatMatrixMarket}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewProvider(tt.cfg, cache, logger.Test(t)).Initialize(t.Context())
			require.Error(t, err)
		})
	}
}
