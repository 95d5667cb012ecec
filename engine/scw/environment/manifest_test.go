package environment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossbatch/scrna-integration-framework/analysis/fetch"
	"github.com/crossbatch/scrna-integration-framework/dataset"
	"github.com/crossbatch/scrna-integration-framework/pkg/logger"
)

const testManifest = `
datasets:
  - name: grun
    repository: geo
    accession: GSE81076
    spikePrefix: ERCC-
    counts:
      - url: https://example.org/GSE81076_counts.txt.gz
    fields:
      donor:
        pattern: "^(D[0-9]+)"
  - name: lawlor
    repository: geo
    accession: GSE86469
    counts:
      - url: https://example.org/GSE86469_counts.csv.gz
        comma: ","
  - name: segerstolpe
    repository: arrayexpress
    accession: E-MTAB-5061
    spikePrefix: ERCC-
    countsUrl: https://example.org/counts.txt
    sdrfUrl: https://example.org/sdrf.txt
    fields:
      donor:
        column: "Characteristics[individual]"
params:
  components: 25
  hvg:
    n: "2000"
  variance:
    minmean: "1e-1"
`

func writeManifest(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func Test_LoadManifest(t *testing.T) {
	t.Parallel()

	m, err := LoadManifest(writeManifest(t, testManifest))
	require.NoError(t, err)

	require.Len(t, m.Datasets, 3)
	assert.Equal(t, "grun", m.Datasets[0].Name)
	assert.Equal(t, dataset.RepositoryGEO, m.Datasets[0].Repository)
	assert.Equal(t, "ERCC-", m.Datasets[0].SpikePrefix)
	assert.Equal(t, "^(D[0-9]+)", m.Datasets[0].Fields["donor"].Pattern)
	assert.Equal(t, ",", m.Datasets[1].Counts[0].Comma)
	assert.Equal(t, dataset.RepositoryArrayExpress, m.Datasets[2].Repository)

	// Quoted numbers in the parameter tree are coerced.
	assert.Equal(t, 25, m.Params["components"])
	hvg, ok := m.Params["hvg"].(map[string]any)
	require.True(t, ok)
	assert.InEpsilon(t, 2000.0, hvg["n"], 1e-12)
	variance, ok := m.Params["variance"].(map[string]any)
	require.True(t, ok)
	assert.InEpsilon(t, 0.1, variance["minmean"], 1e-12)
}

func Test_LoadManifest_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		manifest string
		wantErr  string
	}{
		{
			name:     "no datasets",
			manifest: "datasets: []\n",
			wantErr:  "declares no datasets",
		},
		{
			name: "duplicate name",
			manifest: `
datasets:
  - name: grun
    repository: geo
    accession: GSE81076
    counts: [{url: https://example.org/a.txt}]
  - name: grun
    repository: geo
    accession: GSE81076
    counts: [{url: https://example.org/b.txt}]
`,
			wantErr: "declared twice",
		},
		{
			name: "unknown repository",
			manifest: `
datasets:
  - name: grun
    repository: figshare
    accession: X1
`,
			wantErr: `unknown repository "figshare"`,
		},
		{
			name: "geo without counts",
			manifest: `
datasets:
  - name: grun
    repository: geo
    accession: GSE81076
`,
			wantErr: "at least one counts entry",
		},
		{
			name: "arrayexpress without counts url",
			manifest: `
datasets:
  - name: segerstolpe
    repository: arrayexpress
    accession: E-MTAB-5061
`,
			wantErr: "need a countsUrl",
		},
		{
			name: "field with both column and pattern",
			manifest: `
datasets:
  - name: grun
    repository: geo
    accession: GSE81076
    counts: [{url: https://example.org/a.txt}]
    fields:
      donor: {column: donor, pattern: "^(D[0-9]+)"}
`,
			wantErr: "exactly one of column or pattern",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := LoadManifest(writeManifest(t, tt.manifest))
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func Test_Manifest_Collection(t *testing.T) {
	t.Parallel()

	lggr := logger.Test(t)
	cache, err := fetch.New(t.TempDir(), lggr)
	require.NoError(t, err)

	m, err := LoadManifest(writeManifest(t, testManifest))
	require.NoError(t, err)

	collection, err := m.Collection(t.Context(), cache, lggr)
	require.NoError(t, err)

	// Building the collection downloads nothing.
	assert.True(t, collection.IsLazy())
	assert.True(t, collection.ExistsN("grun", "lawlor", "segerstolpe"))

	names := collection.List(dataset.WithRepository(dataset.RepositoryGEO))
	assert.ElementsMatch(t, []string{"grun", "lawlor"}, names)
}
