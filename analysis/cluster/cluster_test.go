package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// twoPairs is four 1D points forming two tight, well-separated pairs.
func twoPairs() *mat.Dense {
	return mat.NewDense(4, 1, []float64{0, 1, 10, 11})
}

func Test_BuildSNNGraph(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		scheme     Scheme
		wantWeight float64
	}{
		// Each cell's neighbourhood is itself plus its partner, so the two
		// neighbourhoods of a pair coincide.
		{name: "rank", scheme: SchemeRank, wantWeight: 0.5},
		{name: "number", scheme: SchemeNumber, wantWeight: 2},
		{name: "jaccard", scheme: SchemeJaccard, wantWeight: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			g, err := BuildSNNGraph(twoPairs(), SNNOptions{K: 1, Scheme: tt.scheme})
			require.NoError(t, err)

			within := g.WeightedEdge(0, 1)
			require.NotNil(t, within)
			assert.InDelta(t, tt.wantWeight, within.Weight(), 1e-12)

			within = g.WeightedEdge(2, 3)
			require.NotNil(t, within)
			assert.InDelta(t, tt.wantWeight, within.Weight(), 1e-12)

			// The pairs share no neighbours, so no cross edges exist.
			assert.Nil(t, g.WeightedEdge(1, 2))
			assert.Nil(t, g.WeightedEdge(0, 3))
		})
	}
}

func Test_BuildSNNGraph_Validation(t *testing.T) {
	t.Parallel()

	_, err := BuildSNNGraph(twoPairs(), SNNOptions{K: 5})
	require.Error(t, err)

	_, err = BuildSNNGraph(twoPairs(), SNNOptions{K: 1, Scheme: "cosine"})
	require.Error(t, err)
}

func Test_Louvain(t *testing.T) {
	t.Parallel()

	g, err := BuildSNNGraph(twoPairs(), SNNOptions{K: 1})
	require.NoError(t, err)

	labels, err := Louvain(g, 1, 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "0", "1", "1"}, labels)

	// Same seed, same partition.
	again, err := Louvain(g, 1, 7)
	require.NoError(t, err)
	assert.Equal(t, labels, again)
}

func Test_Crosstab(t *testing.T) {
	t.Parallel()

	xtab, err := Crosstab([]string{"x", "x", "y"}, []string{"p", "q", "p"})
	require.NoError(t, err)

	assert.Equal(t, []string{"x", "y"}, xtab.Rows)
	assert.Equal(t, []string{"p", "q"}, xtab.Cols)
	assert.Equal(t, [][]int{{1, 1}, {1, 0}}, xtab.Counts)

	rendered := xtab.Render()
	assert.Contains(t, rendered, "x")
	assert.Contains(t, rendered, "Q") // tablewriter upcases headers

	_, err = Crosstab([]string{"x"}, []string{"p", "q"})
	require.Error(t, err)
}

func Test_AdjustedRandIndex(t *testing.T) {
	t.Parallel()

	a := []string{"0", "0", "1", "1"}

	// Identical partitions, regardless of label names.
	ari, err := AdjustedRandIndex(a, []string{"b", "b", "a", "a"})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, ari, 1e-12)

	// Maximally disagreeing 2x2 partition.
	ari, err = AdjustedRandIndex(a, []string{"0", "1", "0", "1"})
	require.NoError(t, err)
	assert.InDelta(t, -0.5, ari, 1e-12)

	_, err = AdjustedRandIndex(a, []string{"0"})
	require.Error(t, err)
}
