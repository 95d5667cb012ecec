package qc

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossbatch/scrna-integration-framework/analysis/experiment"
	"github.com/crossbatch/scrna-integration-framework/analysis/matrix"
	"github.com/crossbatch/scrna-integration-framework/pkg/logger"
)

// qcExperiment builds an experiment with nGood healthy cells and nBad
// near-empty, spike-heavy cells.
func qcExperiment(t *testing.T, nGood, nBad int) *experiment.Experiment {
	t.Helper()

	ncells := nGood + nBad
	cellIDs := make([]string, ncells)
	for i := range cellIDs {
		cellIDs[i] = fmt.Sprintf("cell%03d", i+1)
	}

	b := matrix.NewBuilder(cellIDs)
	for g := 0; g < 8; g++ {
		row := make([]float64, ncells)
		for c := 0; c < nGood; c++ {
			row[c] = 12
		}
		if g == 0 {
			for c := nGood; c < ncells; c++ {
				row[c] = 1
			}
		}
		require.NoError(t, b.AppendRow(fmt.Sprintf("gene%d", g+1), row))
	}
	for s := 0; s < 2; s++ {
		row := make([]float64, ncells)
		for c := 0; c < nGood; c++ {
			row[c] = 2
		}
		for c := nGood; c < ncells; c++ {
			row[c] = 1
		}
		require.NoError(t, b.AppendRow(fmt.Sprintf("ERCC-%d", s+1), row))
	}

	sp, err := b.Build()
	require.NoError(t, err)
	exp, err := experiment.New(sp, nil, nil)
	require.NoError(t, err)

	return exp
}

func Test_ComputeMetrics(t *testing.T) {
	t.Parallel()

	exp := qcExperiment(t, 3, 1)

	m, err := ComputeMetrics(exp, "ERCC-")
	require.NoError(t, err)

	require.Len(t, m.Sum, 4)
	assert.InDelta(t, 100.0, m.Sum[0], 0)   // 8*12 + 2*2
	assert.InDelta(t, 3.0, m.Sum[3], 0)     // 1 + 2*1
	assert.InDelta(t, 10.0, m.Detected[0], 0)
	assert.InDelta(t, 3.0, m.Detected[3], 0)
	assert.InDelta(t, 4.0, m.SpikePct[0], 1e-12)
	assert.InDelta(t, 100.0*2/3, m.SpikePct[3], 1e-9)
}

func Test_ComputeMetrics_NoSpikes(t *testing.T) {
	t.Parallel()

	exp := qcExperiment(t, 2, 0)

	m, err := ComputeMetrics(exp, "")
	require.NoError(t, err)
	for _, pct := range m.SpikePct {
		assert.Zero(t, pct)
	}
}

func Test_IsOutlier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		values      []float64
		opts        OutlierOptions
		wantOutlier []bool
	}{
		{
			name:        "lower tail",
			values:      []float64{10, 11, 10, 9, 10, 11, 9, 10, 0.5},
			opts:        OutlierOptions{Type: OutlierLower},
			wantOutlier: []bool{false, false, false, false, false, false, false, false, true},
		},
		{
			name:        "higher tail",
			values:      []float64{1, 2, 1, 2, 1, 2, 1, 2, 50},
			opts:        OutlierOptions{Type: OutlierHigher},
			wantOutlier: []bool{false, false, false, false, false, false, false, false, true},
		},
		{
			name:        "both tails",
			values:      []float64{10, 11, 10, 9, 10, 11, 9, 10, 100, 0.1},
			opts:        OutlierOptions{},
			wantOutlier: []bool{false, false, false, false, false, false, false, false, true, true},
		},
		{
			name:        "log transform tames skew",
			values:      []float64{100, 120, 90, 110, 100, 95, 105, 1},
			opts:        OutlierOptions{Type: OutlierLower, Log: true},
			wantOutlier: []bool{false, false, false, false, false, false, false, true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := IsOutlier(tt.values, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOutlier, got.Outlier)
			assert.Contains(t, got.Thresholds, GlobalBlock)
		})
	}
}

func Test_IsOutlier_Batched(t *testing.T) {
	t.Parallel()

	// Batch "b" sits far above batch "a" but neither contains an outlier
	// relative to its own block.
	values := []float64{10, 11, 9, 10, 100, 110, 90, 100}
	batch := []string{"a", "a", "a", "a", "b", "b", "b", "b"}

	got, err := IsOutlier(values, OutlierOptions{Batch: batch})
	require.NoError(t, err)
	for i, flagged := range got.Outlier {
		assert.False(t, flagged, "value %d flagged", i)
	}
	assert.Contains(t, got.Thresholds, "a")
	assert.Contains(t, got.Thresholds, "b")
	assert.Less(t, got.Thresholds["a"].Upper, got.Thresholds["b"].Lower)
}

func Test_IsOutlier_SmallBatchFallsBackToGlobal(t *testing.T) {
	t.Parallel()

	values := []float64{10, 11, 9, 10, 10, 11, 10}
	batch := []string{"a", "a", "a", "a", "a", "tiny", "tiny"}

	got, err := IsOutlier(values, OutlierOptions{Batch: batch})
	require.NoError(t, err)
	assert.Equal(t, got.Thresholds[GlobalBlock], got.Thresholds["tiny"])
}

func Test_IsOutlier_Validation(t *testing.T) {
	t.Parallel()

	_, err := IsOutlier([]float64{1}, OutlierOptions{Type: "sideways"})
	require.Error(t, err)

	_, err = IsOutlier([]float64{1, 2}, OutlierOptions{Batch: []string{"a"}})
	require.Error(t, err)

	_, err = IsOutlier([]float64{-1}, OutlierOptions{Log: true})
	require.Error(t, err)
}

func Test_Filter(t *testing.T) {
	t.Parallel()

	exp := qcExperiment(t, 12, 2)

	filtered, discard, err := Filter(logger.Test(t), exp, FilterOptions{SpikePrefix: "ERCC-"})
	require.NoError(t, err)

	assert.Equal(t, 2, discard.Total)
	assert.Equal(t, 12, discard.Kept)
	assert.Equal(t, 2, discard.LowLibSize)
	assert.Equal(t, 2, discard.LowNFeatures)
	assert.Equal(t, 2, discard.HighSpikePct)
	assert.Equal(t, 12, filtered.NumCells())
	assert.Equal(t, exp.NumGenes(), filtered.NumGenes())

	// Filtering an already clean experiment discards nothing.
	again, discard2, err := Filter(logger.Test(t), filtered, FilterOptions{SpikePrefix: "ERCC-"})
	require.NoError(t, err)
	assert.Zero(t, discard2.Total)
	assert.Equal(t, filtered.NumCells(), again.NumCells())

	rendered := discard.Render()
	assert.Contains(t, rendered, "low library size")
	assert.Contains(t, rendered, "2")
}
