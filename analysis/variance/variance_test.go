package variance

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/crossbatch/scrna-integration-framework/analysis/experiment"
	"github.com/crossbatch/scrna-integration-framework/analysis/matrix"
	"github.com/crossbatch/scrna-integration-framework/pkg/logger"
)

// loggedExperiment builds an experiment whose logcounts assay holds the given
// genes x cells values. The counts assay reuses the same values; only the
// logcounts matter here.
func loggedExperiment(t *testing.T, genes []string, values [][]float64) *experiment.Experiment {
	t.Helper()

	ncells := len(values[0])
	cellIDs := make([]string, ncells)
	for c := range cellIDs {
		cellIDs[c] = fmt.Sprintf("cell%03d", c+1)
	}

	b := matrix.NewBuilder(cellIDs)
	flat := make([]float64, 0, len(genes)*ncells)
	for i, g := range genes {
		require.Len(t, values[i], ncells)
		require.NoError(t, b.AppendRow(g, values[i]))
		flat = append(flat, values[i]...)
	}
	sp, err := b.Build()
	require.NoError(t, err)

	exp, err := experiment.New(sp, nil, nil)
	require.NoError(t, err)
	require.NoError(t, exp.SetAssay(experiment.AssayLogCounts, mat.NewDense(len(genes), ncells, flat)))

	return exp
}

// alternating returns n values oscillating around mean with amplitude d, so
// the sample variance is d*d*n/(n-1).
func alternating(mean, d float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = mean - d
		} else {
			out[i] = mean + d
		}
	}

	return out
}

func Test_ModelGeneVar(t *testing.T) {
	t.Parallel()

	const (
		ncells   = 20
		trendVar = 0.5
	)
	// Sample variance of the alternating pattern is d*d*n/(n-1); invert for
	// the amplitude that yields trendVar exactly.
	d := math.Sqrt(trendVar * float64(ncells-1) / float64(ncells))

	genes := make([]string, 0, 31)
	values := make([][]float64, 0, 31)
	for i := 0; i < 30; i++ {
		genes = append(genes, fmt.Sprintf("flat%02d", i))
		values = append(values, alternating(1+0.1*float64(i), d, ncells))
	}
	hvgD := math.Sqrt(5 * float64(ncells-1) / float64(ncells))
	genes = append(genes, "hvg")
	values = append(values, alternating(2.5, hvgD, ncells))

	exp := loggedExperiment(t, genes, values)

	s, err := ModelGeneVar(logger.Test(t), exp, Options{})
	require.NoError(t, err)
	require.Len(t, s.Total, len(genes))

	// Every flat gene sits on the trend: total variance matches the fit and
	// the biological component vanishes.
	for g := 0; g < 30; g++ {
		assert.InDelta(t, trendVar, s.Total[g], 1e-9, "gene %s", genes[g])
		assert.InDelta(t, 0, s.Bio[g], 0.05, "gene %s", genes[g])
	}

	// The high-variance gene rises well above the robust trend.
	hvg := len(genes) - 1
	assert.InDelta(t, 5.0, s.Total[hvg], 1e-9)
	assert.Greater(t, s.Bio[hvg], 4.0)
	assert.InDelta(t, 2.5, s.Mean[hvg], 1e-9)
}

func Test_ModelGeneVar_Blocked(t *testing.T) {
	t.Parallel()

	const perBlock = 10
	d := math.Sqrt(float64(perBlock-1) / float64(perBlock)) // unit variance

	genes := []string{"g1", "g2"}
	values := [][]float64{
		// Block means differ (1 vs 3) but within-block variance is 1 in both.
		append(alternating(1, d, perBlock), alternating(3, d, perBlock)...),
		append(alternating(2, d, perBlock), alternating(2, d, perBlock)...),
	}
	block := make([]string, 2*perBlock)
	for c := range block {
		if c < perBlock {
			block[c] = "donorA"
		} else {
			block[c] = "donorB"
		}
	}

	exp := loggedExperiment(t, genes, values)

	s, err := ModelGeneVar(logger.Test(t), exp, Options{Block: block})
	require.NoError(t, err)

	require.Contains(t, s.PerBlock, "donorA")
	require.Contains(t, s.PerBlock, "donorB")
	assert.InDelta(t, 1.0, s.PerBlock["donorA"].Total[0], 1e-9)
	assert.InDelta(t, 1.0, s.PerBlock["donorB"].Total[0], 1e-9)

	// Equal block sizes carry equal weight, so the combined mean is the
	// average of the block means and the shift between blocks does not
	// inflate the combined variance.
	assert.InDelta(t, 2.0, s.Mean[0], 1e-9)
	assert.InDelta(t, 1.0, s.Total[0], 1e-9)
}

func Test_ModelGeneVar_DropsTinyBlocks(t *testing.T) {
	t.Parallel()

	const perBlock = 10
	d := math.Sqrt(float64(perBlock-1) / float64(perBlock))

	genes := []string{"g1"}
	values := [][]float64{append(alternating(1, d, perBlock), 99)}
	block := make([]string, perBlock+1)
	for c := 0; c < perBlock; c++ {
		block[c] = "donorA"
	}
	block[perBlock] = "singleton"

	exp := loggedExperiment(t, genes, values)

	s, err := ModelGeneVar(logger.Test(t), exp, Options{Block: block})
	require.NoError(t, err)

	assert.Contains(t, s.PerBlock, "donorA")
	assert.NotContains(t, s.PerBlock, "singleton")
	// Only donorA contributes: the stray 99 never reaches the combination.
	assert.InDelta(t, 1.0, s.Mean[0], 1e-9)
}

func Test_ModelGeneVar_Validation(t *testing.T) {
	t.Parallel()

	exp := loggedExperiment(t, []string{"g1"}, [][]float64{{1, 2, 3}})

	_, err := ModelGeneVar(logger.Test(t), exp, Options{Span: 2})
	require.Error(t, err)

	_, err = ModelGeneVar(logger.Test(t), exp, Options{Block: []string{"a"}})
	require.Error(t, err)

	_, err = ModelGeneVar(logger.Test(t), exp, Options{Block: []string{"a", "b", "c"}})
	require.Error(t, err)

	bare, err := experiment.New(exp.Counts(), nil, nil)
	require.NoError(t, err)
	_, err = ModelGeneVar(logger.Test(t), bare, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logcounts")
}

func Test_TopHVGs(t *testing.T) {
	t.Parallel()

	s := &Stats{
		Genes: []string{"a", "b", "c", "d", "e"},
		Bio:   []float64{0.5, -0.1, 2.0, 0.0, 1.0},
	}

	tests := []struct {
		name string
		opts HVGOptions
		want []string
	}{
		{
			name: "all genes by descending bio",
			opts: HVGOptions{},
			want: []string{"c", "e", "a", "d", "b"},
		},
		{
			name: "top n",
			opts: HVGOptions{N: 2},
			want: []string{"c", "e"},
		},
		{
			name: "top proportion",
			opts: HVGOptions{Prop: 0.4},
			want: []string{"c", "e"},
		},
		{
			name: "positive bio only",
			opts: HVGOptions{VarThreshold: true},
			want: []string{"c", "e", "a"},
		},
		{
			name: "n and threshold combine",
			opts: HVGOptions{N: 4, VarThreshold: true},
			want: []string{"c", "e", "a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, TopHVGs(s, tt.opts))
		})
	}
}
