// Package normalize scales raw counts by per-cell size factors and produces
// the log-transformed expression assay used by every downstream stage.
// Size-factor estimation beyond library size is deliberately out of scope:
// callers may supply factors computed elsewhere.
package normalize

import (
	"fmt"

	"github.com/crossbatch/scrna-integration-framework/analysis/experiment"
	"github.com/crossbatch/scrna-integration-framework/analysis/matrix"
)

// DefaultPseudoCount is the pseudo-count added before the log2 transform.
const DefaultPseudoCount = 1

// LibrarySizeFactors returns per-cell size factors proportional to column
// sums, scaled to unit mean. A cell with zero total counts is an error, not
// a zero factor, since dividing by it downstream would produce NaNs.
func LibrarySizeFactors(counts *matrix.Sparse) ([]float64, error) {
	sums := counts.ColSums()
	if len(sums) == 0 {
		return nil, fmt.Errorf("matrix has no cells")
	}

	var total float64
	for c, s := range sums {
		if s == 0 {
			return nil, fmt.Errorf("cell %q (column %d) has zero total counts", counts.ColIDs()[c], c)
		}
		total += s
	}
	mean := total / float64(len(sums))

	factors := make([]float64, len(sums))
	for c, s := range sums {
		factors[c] = s / mean
	}

	return factors, nil
}

// LogNormCounts divides each cell's counts by its size factor and stores
// log2(scaled + pseudoCount) as the dense logcounts assay. A pseudoCount of
// 0 selects DefaultPseudoCount.
func LogNormCounts(exp *experiment.Experiment, factors []float64, pseudoCount float64) error {
	counts := exp.Counts()
	if counts == nil {
		return fmt.Errorf("experiment has no sparse %q assay", experiment.AssayCounts)
	}
	if pseudoCount == 0 {
		pseudoCount = DefaultPseudoCount
	}

	logged, err := counts.Log1pColumns(factors, pseudoCount)
	if err != nil {
		return err
	}

	return exp.SetAssay(experiment.AssayLogCounts, logged)
}

// MultiBatchNorm rescales each batch's size factors so every batch's mean
// coverage matches the lowest-coverage batch, removing systematic coverage
// differences before correction, then recomputes each batch's logcounts
// with the adjusted factors. The adjustment is insensitive to batch order.
// It returns the adjusted factors per batch.
func MultiBatchNorm(exps []*experiment.Experiment, factorsPerBatch [][]float64, pseudoCount float64) ([][]float64, error) {
	if len(exps) == 0 {
		return nil, fmt.Errorf("no batches to normalize")
	}
	if len(factorsPerBatch) != len(exps) {
		return nil, fmt.Errorf("got %d factor sets for %d batches", len(factorsPerBatch), len(exps))
	}

	// Coverage of a batch is its mean factor-adjusted library size. Batches
	// are then deflated to the smallest coverage by inflating their factors.
	coverage := make([]float64, len(exps))
	minCoverage := 0.0
	for b, exp := range exps {
		counts := exp.Counts()
		if counts == nil {
			return nil, fmt.Errorf("batch %d: experiment has no sparse %q assay", b, experiment.AssayCounts)
		}
		sums := counts.ColSums()
		if len(sums) != len(factorsPerBatch[b]) {
			return nil, fmt.Errorf("batch %d: got %d factors for %d cells", b, len(factorsPerBatch[b]), len(sums))
		}
		if len(sums) == 0 {
			return nil, fmt.Errorf("batch %d: no cells", b)
		}

		var cov float64
		for c, s := range sums {
			f := factorsPerBatch[b][c]
			if f <= 0 {
				return nil, fmt.Errorf("batch %d: cell %d has non-positive size factor %v", b, c, f)
			}
			cov += s / f
		}
		coverage[b] = cov / float64(len(sums))
		if b == 0 || coverage[b] < minCoverage {
			minCoverage = coverage[b]
		}
	}

	adjusted := make([][]float64, len(exps))
	for b := range exps {
		scale := coverage[b] / minCoverage
		adj := make([]float64, len(factorsPerBatch[b]))
		for c, f := range factorsPerBatch[b] {
			adj[c] = f * scale
		}
		adjusted[b] = adj

		if err := LogNormCounts(exps[b], adj, pseudoCount); err != nil {
			return nil, fmt.Errorf("batch %d: %w", b, err)
		}
	}

	return adjusted, nil
}
