package markers

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/crossbatch/scrna-integration-framework/analysis/experiment"
	"github.com/crossbatch/scrna-integration-framework/analysis/matrix"
	"github.com/crossbatch/scrna-integration-framework/pkg/logger"
)

func markerExperiment(t *testing.T) *experiment.Experiment {
	t.Helper()

	// Four cells: two alpha-like, two beta-like.
	cellIDs := []string{"c1", "c2", "c3", "c4"}
	values := map[string][]float64{
		"GCG": {4, 2, 0, 0},
		"INS": {0, 0, 3, 5},
	}

	b := matrix.NewBuilder(cellIDs)
	flat := make([]float64, 0, 8)
	for _, g := range []string{"GCG", "INS"} {
		require.NoError(t, b.AppendRow(g, values[g]))
		flat = append(flat, values[g]...)
	}
	sp, err := b.Build()
	require.NoError(t, err)

	exp, err := experiment.New(sp, nil, nil)
	require.NoError(t, err)
	require.NoError(t, exp.SetAssay(experiment.AssayLogCounts, mat.NewDense(2, 4, flat)))

	return exp
}

func Test_Summarize(t *testing.T) {
	t.Parallel()

	exp := markerExperiment(t)
	labels := []string{"alpha", "alpha", "beta", "beta"}

	s, err := Summarize(logger.Test(t), exp, labels, []string{"GCG", "INS", "SST"})
	require.NoError(t, err)

	assert.Equal(t, []string{"GCG", "INS"}, s.Genes)
	assert.Equal(t, []string{"SST"}, s.Missing)
	assert.Equal(t, []string{"alpha", "beta"}, s.Clusters)

	assert.InDelta(t, 3.0, s.MeanLog[0][0], 1e-12) // GCG in alpha
	assert.InDelta(t, 0.0, s.MeanLog[0][1], 1e-12) // INS in alpha
	assert.InDelta(t, 4.0, s.MeanLog[1][1], 1e-12) // INS in beta

	assert.InDelta(t, 1.0, s.DetectFrac[0][0], 1e-12)
	assert.InDelta(t, 0.0, s.DetectFrac[0][1], 1e-12)
	assert.InDelta(t, 1.0, s.DetectFrac[1][1], 1e-12)

	rendered := s.Render()
	assert.Contains(t, rendered, "alpha")
	assert.Contains(t, rendered, "3.00 (100%)")
}

func Test_Summarize_Errors(t *testing.T) {
	t.Parallel()

	exp := markerExperiment(t)

	_, err := Summarize(logger.Test(t), exp, []string{"a"}, []string{"GCG"})
	require.Error(t, err)

	_, err = Summarize(logger.Test(t), exp, []string{"a", "a", "b", "b"}, nil)
	require.Error(t, err)

	_, err = Summarize(logger.Test(t), exp, []string{"a", "a", "b", "b"}, []string{"SST"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "none")

	bare, err := experiment.New(exp.Counts(), nil, nil)
	require.NoError(t, err)
	_, err = Summarize(logger.Test(t), bare, []string{"a", "a", "b", "b"}, []string{"GCG"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), fmt.Sprint(experiment.AssayLogCounts))
}
