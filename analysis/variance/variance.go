// Package variance models the per-gene mean-variance relationship of
// log-expression values and ranks highly variable genes. The technical
// component of each gene's variance is read off a fitted mean-variance
// trend; the biological component is what remains above it.
package variance

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/crossbatch/scrna-integration-framework/analysis/experiment"
	"github.com/crossbatch/scrna-integration-framework/pkg/logger"
)

// Defaults for Options.
const (
	DefaultSpan    = 0.3
	DefaultMinMean = 0.1
)

// Options configures ModelGeneVar.
type Options struct {
	// Block computes statistics separately per block (typically donor) and
	// combines them by weighted average. Blocks with fewer than two cells
	// are dropped from the combination with a logged warning.
	Block []string
	// Span is the fraction of genes inside each running-median window of
	// the trend fit. Defaults to DefaultSpan.
	Span float64
	// MinMean excludes genes below this mean from the trend fit. They are
	// still scored against the fitted trend. Defaults to DefaultMinMean.
	MinMean float64
}

// Stats holds per-gene variance-decomposition statistics, index-aligned
// with Genes.
type Stats struct {
	Genes []string  `json:"genes"`
	Mean  []float64 `json:"mean"`
	Total []float64 `json:"total"`
	Tech  []float64 `json:"tech"`
	Bio   []float64 `json:"bio"`

	// PerBlock preserves each block's own statistics when blocking was
	// requested.
	PerBlock map[string]*Stats `json:"perBlock,omitempty"`
}

// ModelGeneVar decomposes each gene's log-expression variance into a
// technical component, the fitted trend evaluated at the gene's mean, and a
// biological component, the residual above the trend.
func ModelGeneVar(lggr logger.Logger, exp *experiment.Experiment, opts Options) (*Stats, error) {
	logged := exp.LogCounts()
	if logged == nil {
		return nil, fmt.Errorf("experiment has no dense %q assay", experiment.AssayLogCounts)
	}
	if opts.Span == 0 {
		opts.Span = DefaultSpan
	}
	if opts.Span < 0 || opts.Span > 1 {
		return nil, fmt.Errorf("span must be in (0, 1], got %v", opts.Span)
	}
	if opts.MinMean == 0 {
		opts.MinMean = DefaultMinMean
	}
	if opts.Block != nil && len(opts.Block) != exp.NumCells() {
		return nil, fmt.Errorf("got %d block labels for %d cells", len(opts.Block), exp.NumCells())
	}

	if opts.Block == nil {
		return statsFor(exp.GeneIDs(), logged, nil, opts)
	}

	blocks := map[string][]int{}
	for c, b := range opts.Block {
		blocks[b] = append(blocks[b], c)
	}
	names := make([]string, 0, len(blocks))
	for name := range blocks {
		names = append(names, name)
	}
	sort.Strings(names)

	perBlock := map[string]*Stats{}
	weights := map[string]float64{}
	for _, name := range names {
		cols := blocks[name]
		if len(cols) < 2 {
			lggr.Warnw("Dropping block with too few cells from variance modelling",
				"block", name, "cells", len(cols))
			continue
		}
		s, err := statsFor(exp.GeneIDs(), logged, cols, opts)
		if err != nil {
			return nil, fmt.Errorf("block %q: %w", name, err)
		}
		perBlock[name] = s
		// Residual degrees of freedom of the block's variance estimates.
		weights[name] = float64(len(cols) - 1)
	}
	if len(perBlock) == 0 {
		return nil, fmt.Errorf("no block has at least 2 cells")
	}

	combined := combineBlocks(exp.GeneIDs(), perBlock, weights)
	combined.PerBlock = perBlock

	return combined, nil
}

// statsFor computes the decomposition over the given columns (all columns
// when cols is nil).
func statsFor(genes []string, logged *mat.Dense, cols []int, opts Options) (*Stats, error) {
	ngenes, ncells := logged.Dims()
	if cols == nil {
		cols = make([]int, ncells)
		for c := range cols {
			cols[c] = c
		}
	}
	if len(cols) < 2 {
		return nil, fmt.Errorf("need at least 2 cells to estimate variance, got %d", len(cols))
	}

	s := &Stats{
		Genes: genes,
		Mean:  make([]float64, ngenes),
		Total: make([]float64, ngenes),
		Tech:  make([]float64, ngenes),
		Bio:   make([]float64, ngenes),
	}

	row := make([]float64, len(cols))
	for g := 0; g < ngenes; g++ {
		for j, c := range cols {
			row[j] = logged.At(g, c)
		}
		s.Mean[g], s.Total[g] = stat.MeanVariance(row, nil)
	}

	fitTrend(s, opts)
	for g := range s.Bio {
		s.Bio[g] = s.Total[g] - s.Tech[g]
	}

	return s, nil
}

// fitTrend fills Tech with a windowed running median of Total over
// mean-ranked genes, linearly interpolated at each gene's mean. Genes below
// MinMean are excluded from the fit but still scored: below the fitted
// range the trend is interpolated down to the origin, above it the trend is
// held at its last value.
func fitTrend(s *Stats, opts Options) {
	type point struct{ x, y float64 }

	fit := make([]point, 0, len(s.Mean))
	for g, m := range s.Mean {
		if m >= opts.MinMean {
			fit = append(fit, point{x: m, y: s.Total[g]})
		}
	}
	if len(fit) == 0 {
		// Nothing to fit against: call everything technical.
		copy(s.Tech, s.Total)
		return
	}
	sort.Slice(fit, func(i, j int) bool { return fit[i].x < fit[j].x })

	window := int(opts.Span * float64(len(fit)))
	if window < 2 {
		window = 2
	}
	if window > len(fit) {
		window = len(fit)
	}

	smoothed := make([]point, len(fit))
	buf := make([]float64, 0, window)
	for i := range fit {
		lo := i - window/2
		if lo < 0 {
			lo = 0
		}
		hi := lo + window
		if hi > len(fit) {
			hi = len(fit)
			lo = hi - window
		}
		buf = buf[:0]
		for _, p := range fit[lo:hi] {
			buf = append(buf, p.y)
		}
		sort.Float64s(buf)
		var med float64
		if n := len(buf); n%2 == 1 {
			med = buf[n/2]
		} else {
			med = (buf[n/2-1] + buf[n/2]) / 2
		}
		smoothed[i] = point{x: fit[i].x, y: med}
	}

	evaluate := func(x float64) float64 {
		first, last := smoothed[0], smoothed[len(smoothed)-1]
		switch {
		case x <= 0:
			return 0
		case x < first.x:
			return first.y * x / first.x
		case x >= last.x:
			return last.y
		}
		i := sort.Search(len(smoothed), func(i int) bool { return smoothed[i].x >= x })
		a, b := smoothed[i-1], smoothed[i]
		if b.x == a.x {
			return (a.y + b.y) / 2
		}
		frac := (x - a.x) / (b.x - a.x)

		return a.y + frac*(b.y-a.y)
	}

	for g, m := range s.Mean {
		s.Tech[g] = evaluate(m)
	}
}

// combineBlocks averages per-block statistics with the given weights.
func combineBlocks(genes []string, perBlock map[string]*Stats, weights map[string]float64) *Stats {
	combined := &Stats{
		Genes: genes,
		Mean:  make([]float64, len(genes)),
		Total: make([]float64, len(genes)),
		Tech:  make([]float64, len(genes)),
		Bio:   make([]float64, len(genes)),
	}

	var totalWeight float64
	for name := range perBlock {
		totalWeight += weights[name]
	}

	for name, s := range perBlock {
		w := weights[name] / totalWeight
		for g := range genes {
			combined.Mean[g] += w * s.Mean[g]
			combined.Total[g] += w * s.Total[g]
			combined.Tech[g] += w * s.Tech[g]
			combined.Bio[g] += w * s.Bio[g]
		}
	}

	return combined
}

// HVGOptions configures TopHVGs. When several limits are set, all apply.
type HVGOptions struct {
	// N keeps at most the top N genes. Zero means no count limit.
	N int
	// Prop keeps at most the top fraction of all genes. Zero means no
	// proportional limit.
	Prop float64
	// VarThreshold keeps only genes with positive biological variance.
	VarThreshold bool
}

// TopHVGs returns gene IDs ordered by decreasing biological variance,
// truncated per the options. Ties preserve the input gene order.
func TopHVGs(s *Stats, opts HVGOptions) []string {
	idx := make([]int, len(s.Genes))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return s.Bio[idx[a]] > s.Bio[idx[b]] })

	keep := len(idx)
	if opts.Prop > 0 {
		if byProp := int(math.Ceil(opts.Prop * float64(len(idx)))); byProp < keep {
			keep = byProp
		}
	}
	if opts.N > 0 && opts.N < keep {
		keep = opts.N
	}

	out := make([]string, 0, keep)
	for _, g := range idx[:keep] {
		if opts.VarThreshold && s.Bio[g] <= 0 {
			break
		}
		out = append(out, s.Genes[g])
	}

	return out
}
