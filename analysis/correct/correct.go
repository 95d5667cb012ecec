// Package correct removes batch effects from multi-batch expression data.
// The main method matches mutual nearest neighbours between batches in PCA
// space and subtracts a locally smoothed correction vector, merging batches
// into a growing reference one at a time. Two baselines, per-gene batch-mean
// rescaling and no correction at all, support before/after diagnostics.
package correct

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/crossbatch/scrna-integration-framework/analysis/experiment"
	"github.com/crossbatch/scrna-integration-framework/analysis/neighbors"
	"github.com/crossbatch/scrna-integration-framework/pkg/logger"
)

// MNN defaults.
const (
	DefaultK     = 20
	DefaultSigma = 0.1
)

// Pair links a row of the left matrix to a mutually nearest row of the
// right matrix.
type Pair struct {
	Left  int
	Right int
}

// FindMutualPairs returns the pairs (l, r) where l is among the k nearest
// left rows of r and r is among the k nearest right rows of l. Pairs are
// ordered by (Left, Right).
func FindMutualPairs(left, right *mat.Dense, k int) ([]Pair, error) {
	leftOf, err := neighbors.FindKNN(right, left, k)
	if err != nil {
		return nil, fmt.Errorf("right-to-left search: %w", err)
	}
	rightOf, err := neighbors.FindKNN(left, right, k)
	if err != nil {
		return nil, fmt.Errorf("left-to-right search: %w", err)
	}

	candidates := map[Pair]bool{}
	for r, ls := range leftOf.Indices {
		for _, l := range ls {
			candidates[Pair{Left: l, Right: r}] = true
		}
	}

	var pairs []Pair
	for l, rs := range rightOf.Indices {
		for _, r := range rs {
			if candidates[Pair{Left: l, Right: r}] {
				pairs = append(pairs, Pair{Left: l, Right: r})
			}
		}
	}
	sort.Slice(pairs, func(a, b int) bool {
		if pairs[a].Left != pairs[b].Left {
			return pairs[a].Left < pairs[b].Left
		}

		return pairs[a].Right < pairs[b].Right
	})

	return pairs, nil
}

// MNNOptions configures MNNCorrect.
type MNNOptions struct {
	// K is the number of neighbours for the mutual-pair search. Defaults to
	// DefaultK, clamped to the smallest batch with a logged warning.
	K int
	// Sigma sets the Gaussian smoothing bandwidth as a fraction of each
	// target batch's mean squared radius from its centroid. Defaults to
	// DefaultSigma.
	Sigma float64
	// MergeOrder lists batch indices in merge order. Nil merges the largest
	// batch first, then by decreasing size.
	MergeOrder []int
	// CosNorm L2-normalizes each cell before correction, removing
	// cell-specific scale differences between batches.
	CosNorm bool
}

// MergeStep records one merge of a batch into the reference.
type MergeStep struct {
	// Left names the batches already merged into the reference.
	Left []string
	// Right names the batch merged by this step.
	Right []string
	// NumPairs is the number of mutual pairs the correction was built from.
	NumPairs int
	// LostVariance is, per batch touched by this step, the fraction of
	// within-batch variance removed by the correction. Values near zero are
	// healthy; large values flag over-correction.
	LostVariance map[string]float64
}

// MNNResult holds corrected coordinates per input batch plus the merge
// diagnostics.
type MNNResult struct {
	// Corrected has one cells x dims matrix per input batch, in input order.
	Corrected []*mat.Dense
	// Steps records each merge in execution order.
	Steps []MergeStep
}

// MNNCorrect aligns batches of cell coordinates (cells x dims, typically
// multi-batch PCA scores) by mutual-nearest-neighbour correction. Batches
// merge into a growing reference one at a time; cells already in the
// reference are never moved. A single batch is returned unchanged.
func MNNCorrect(lggr logger.Logger, batches []*mat.Dense, names []string, opts MNNOptions) (*MNNResult, error) {
	if len(batches) == 0 {
		return nil, fmt.Errorf("no batches to correct")
	}
	if names == nil {
		names = make([]string, len(batches))
		for b := range names {
			names[b] = fmt.Sprintf("batch%d", b)
		}
	}
	if len(names) != len(batches) {
		return nil, fmt.Errorf("got %d names for %d batches", len(names), len(batches))
	}

	_, dims := batches[0].Dims()
	minCells := -1
	for b, batch := range batches {
		nb, db := batch.Dims()
		if db != dims {
			return nil, fmt.Errorf("batch %q has %d dims, batch %q has %d", names[b], db, names[0], dims)
		}
		if nb == 0 {
			return nil, fmt.Errorf("batch %q has no cells", names[b])
		}
		if minCells < 0 || nb < minCells {
			minCells = nb
		}
	}

	if opts.K == 0 {
		opts.K = DefaultK
	}
	if opts.K < 1 {
		return nil, fmt.Errorf("k must be at least 1, got %d", opts.K)
	}
	if opts.K > minCells {
		lggr.Warnw("Clamping k to the smallest batch", "requested", opts.K, "using", minCells)
		opts.K = minCells
	}
	if opts.Sigma == 0 {
		opts.Sigma = DefaultSigma
	}
	if opts.Sigma < 0 {
		return nil, fmt.Errorf("sigma must be positive, got %v", opts.Sigma)
	}

	order, err := mergeOrder(batches, opts.MergeOrder)
	if err != nil {
		return nil, err
	}

	work := make([]*mat.Dense, len(batches))
	for b, batch := range batches {
		work[b] = mat.DenseCopyOf(batch)
		if opts.CosNorm {
			cosNormalize(work[b])
		}
	}

	res := &MNNResult{Corrected: make([]*mat.Dense, len(batches))}

	first := order[0]
	res.Corrected[first] = work[first]
	if len(batches) == 1 {
		return res, nil
	}

	ref := mat.DenseCopyOf(work[first])
	refNames := []string{names[first]}

	for _, b := range order[1:] {
		target := work[b]
		pairs, err := FindMutualPairs(ref, target, opts.K)
		if err != nil {
			return nil, fmt.Errorf("merging %q into [%s]: %w", names[b], joinNames(refNames), err)
		}
		if len(pairs) == 0 {
			return nil, fmt.Errorf("no mutual nearest neighbours between %q and the reference [%s]", names[b], joinNames(refNames))
		}

		before := batchVariance(target)
		corrected := applyCorrection(ref, target, pairs, opts.Sigma)
		after := batchVariance(corrected)

		var lost float64
		if before > 0 {
			lost = (before - after) / before
		}
		res.Steps = append(res.Steps, MergeStep{
			Left:         append([]string(nil), refNames...),
			Right:        []string{names[b]},
			NumPairs:     len(pairs),
			LostVariance: map[string]float64{names[b]: lost},
		})
		lggr.Infow("Merged batch",
			"batch", names[b],
			"reference", joinNames(refNames),
			"pairs", len(pairs),
			"lostVariance", lost,
		)

		res.Corrected[b] = corrected
		ref = stackRows(ref, corrected)
		refNames = append(refNames, names[b])
	}

	return res, nil
}

// mergeOrder validates an explicit order or derives the default one:
// decreasing batch size, ties by index.
func mergeOrder(batches []*mat.Dense, explicit []int) ([]int, error) {
	if explicit != nil {
		if len(explicit) != len(batches) {
			return nil, fmt.Errorf("merge order lists %d batches, have %d", len(explicit), len(batches))
		}
		seen := make([]bool, len(batches))
		for _, b := range explicit {
			if b < 0 || b >= len(batches) || seen[b] {
				return nil, fmt.Errorf("merge order is not a permutation of the batch indices: %v", explicit)
			}
			seen[b] = true
		}

		return explicit, nil
	}

	order := make([]int, len(batches))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		na, _ := batches[order[a]].Dims()
		nb, _ := batches[order[b]].Dims()

		return na > nb
	})

	return order, nil
}

// applyCorrection moves each target cell by a Gaussian-weighted average of
// the pair correction vectors, with weights driven by the cell's distance
// to each pair's target cell.
func applyCorrection(ref, target *mat.Dense, pairs []Pair, sigma float64) *mat.Dense {
	n, dims := target.Dims()

	vectors := make([][]float64, len(pairs))
	for p, pair := range pairs {
		v := make([]float64, dims)
		for j := 0; j < dims; j++ {
			v[j] = ref.At(pair.Left, j) - target.At(pair.Right, j)
		}
		vectors[p] = v
	}

	bandwidth := sigma * meanSquaredRadius(target)
	if bandwidth == 0 {
		bandwidth = 1
	}

	corrected := mat.NewDense(n, dims, nil)
	shift := make([]float64, dims)
	for c := 0; c < n; c++ {
		for j := range shift {
			shift[j] = 0
		}
		var sumW float64
		for p, pair := range pairs {
			var d2 float64
			for j := 0; j < dims; j++ {
				diff := target.At(c, j) - target.At(pair.Right, j)
				d2 += diff * diff
			}
			w := math.Exp(-d2 / bandwidth)
			sumW += w
			for j := 0; j < dims; j++ {
				shift[j] += w * vectors[p][j]
			}
		}
		if sumW == 0 {
			// Every pair is too remote for the kernel: fall back to the
			// unweighted mean correction.
			for j := range shift {
				shift[j] = 0
			}
			for _, v := range vectors {
				for j := 0; j < dims; j++ {
					shift[j] += v[j]
				}
			}
			sumW = float64(len(pairs))
		}
		for j := 0; j < dims; j++ {
			corrected.Set(c, j, target.At(c, j)+shift[j]/sumW)
		}
	}

	return corrected
}

// meanSquaredRadius is the mean squared distance of rows from their
// centroid.
func meanSquaredRadius(x *mat.Dense) float64 {
	n, dims := x.Dims()
	centroid := make([]float64, dims)
	col := make([]float64, n)
	for j := 0; j < dims; j++ {
		mat.Col(col, j, x)
		centroid[j] = stat.Mean(col, nil)
	}

	var total float64
	for i := 0; i < n; i++ {
		for j := 0; j < dims; j++ {
			diff := x.At(i, j) - centroid[j]
			total += diff * diff
		}
	}

	return total / float64(n)
}

// batchVariance sums the per-dimension variances of a batch.
func batchVariance(x *mat.Dense) float64 {
	n, dims := x.Dims()
	if n < 2 {
		return 0
	}
	col := make([]float64, n)
	var total float64
	for j := 0; j < dims; j++ {
		mat.Col(col, j, x)
		total += stat.Variance(col, nil)
	}

	return total
}

// cosNormalize scales each row to unit L2 norm in place. Zero rows are left
// untouched.
func cosNormalize(x *mat.Dense) {
	n, dims := x.Dims()
	for i := 0; i < n; i++ {
		var norm float64
		for j := 0; j < dims; j++ {
			v := x.At(i, j)
			norm += v * v
		}
		if norm == 0 {
			continue
		}
		norm = math.Sqrt(norm)
		for j := 0; j < dims; j++ {
			x.Set(i, j, x.At(i, j)/norm)
		}
	}
}

func stackRows(a, b *mat.Dense) *mat.Dense {
	na, dims := a.Dims()
	nb, _ := b.Dims()
	out := mat.NewDense(na+nb, dims, nil)
	out.Slice(0, na, 0, dims).(*mat.Dense).Copy(a)
	out.Slice(na, na+nb, 0, dims).(*mat.Dense).Copy(b)

	return out
}

func joinNames(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}

	return out
}

// RescaleBatches is a baseline linear correction in log-expression space:
// per gene, each batch's mean is shifted to the grand mean of the batch
// means. It returns one corrected genes x cells matrix per batch without
// modifying the inputs.
func RescaleBatches(exps []*experiment.Experiment) ([]*mat.Dense, error) {
	if len(exps) == 0 {
		return nil, fmt.Errorf("no batches to rescale")
	}

	ngenes := exps[0].NumGenes()
	logs := make([]*mat.Dense, len(exps))
	for b, exp := range exps {
		logged := exp.LogCounts()
		if logged == nil {
			return nil, fmt.Errorf("batch %d: experiment has no dense %q assay", b, experiment.AssayLogCounts)
		}
		if exp.NumGenes() != ngenes {
			return nil, fmt.Errorf("batch %d has %d genes, batch 0 has %d", b, exp.NumGenes(), ngenes)
		}
		logs[b] = logged
	}

	// Per-gene grand mean across batches, each batch counting once.
	batchMeans := make([][]float64, len(exps))
	grand := make([]float64, ngenes)
	for b, logged := range logs {
		_, ncells := logged.Dims()
		means := make([]float64, ngenes)
		row := make([]float64, ncells)
		for g := 0; g < ngenes; g++ {
			mat.Row(row, g, logged)
			means[g] = stat.Mean(row, nil)
			grand[g] += means[g] / float64(len(exps))
		}
		batchMeans[b] = means
	}

	out := make([]*mat.Dense, len(exps))
	for b, logged := range logs {
		_, ncells := logged.Dims()
		corrected := mat.NewDense(ngenes, ncells, nil)
		for g := 0; g < ngenes; g++ {
			shift := grand[g] - batchMeans[b][g]
			for c := 0; c < ncells; c++ {
				corrected.Set(g, c, logged.At(g, c)+shift)
			}
		}
		out[b] = corrected
	}

	return out, nil
}

// NoCorrection concatenates the batches' logcounts without any correction,
// for before/after diagnostics. The result is genes x total cells with
// columns in batch order.
func NoCorrection(exps []*experiment.Experiment) (*mat.Dense, error) {
	if len(exps) == 0 {
		return nil, fmt.Errorf("no batches to concatenate")
	}

	ngenes := exps[0].NumGenes()
	total := 0
	logs := make([]*mat.Dense, len(exps))
	for b, exp := range exps {
		logged := exp.LogCounts()
		if logged == nil {
			return nil, fmt.Errorf("batch %d: experiment has no dense %q assay", b, experiment.AssayLogCounts)
		}
		if exp.NumGenes() != ngenes {
			return nil, fmt.Errorf("batch %d has %d genes, batch 0 has %d", b, exp.NumGenes(), ngenes)
		}
		logs[b] = logged
		total += exp.NumCells()
	}

	out := mat.NewDense(ngenes, total, nil)
	offset := 0
	for _, logged := range logs {
		_, ncells := logged.Dims()
		out.Slice(0, ngenes, offset, offset+ncells).(*mat.Dense).Copy(logged)
		offset += ncells
	}

	return out, nil
}
