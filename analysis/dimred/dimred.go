// Package dimred computes low-dimensional representations of expression
// data: principal components, an equal-batch-weight PCA variant for
// multi-batch inputs, and a t-SNE embedding for visualization.
package dimred

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/danaugrs/go-tsne/tsne"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/crossbatch/scrna-integration-framework/pkg/logger"
)

// DefaultComponents is the number of principal components retained by
// MultiBatchPCA when none is requested.
const DefaultComponents = 50

// PCAOptions configures PCA.
type PCAOptions struct {
	// Components is the number of components to retain. Zero keeps all.
	Components int
	// Center subtracts per-column means before the decomposition. Almost
	// always wanted; exposed for callers with pre-centered input.
	Center bool
	// Scale divides each column by its standard deviation. Constant columns
	// are left unscaled.
	Scale bool
}

// PCAResult holds the outputs of a principal component analysis.
type PCAResult struct {
	// Scores is rows x components: the input projected onto the components.
	Scores *mat.Dense
	// Rotation is cols x components: the component loadings.
	Rotation *mat.Dense
	// ExplainedVar is the proportion of total variance captured by each
	// retained component.
	ExplainedVar []float64
}

// PCA decomposes x (observations x variables) by thin SVD.
func PCA(lggr logger.Logger, x *mat.Dense, opts PCAOptions) (*PCAResult, error) {
	n, p := x.Dims()
	if n < 2 {
		return nil, fmt.Errorf("need at least 2 rows, got %d", n)
	}

	maxComps := n
	if p < maxComps {
		maxComps = p
	}
	comps := opts.Components
	if comps <= 0 {
		comps = maxComps
	}
	if comps > maxComps {
		lggr.Warnw("Clamping requested components to the input rank bound",
			"requested", comps, "max", maxComps)
		comps = maxComps
	}

	work := mat.DenseCopyOf(x)
	if opts.Center || opts.Scale {
		col := make([]float64, n)
		for j := 0; j < p; j++ {
			mat.Col(col, j, work)
			mean, sd := stat.MeanStdDev(col, nil)
			for i := range col {
				if opts.Center {
					col[i] -= mean
				}
				if opts.Scale && sd > 0 {
					col[i] /= sd
				}
			}
			work.SetCol(j, col)
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(work, mat.SVDThin); !ok {
		return nil, fmt.Errorf("SVD failed to converge on a %dx%d matrix", n, p)
	}

	return resultFromSVD(&svd, comps), nil
}

// resultFromSVD assembles scores, rotation and explained variance from a
// factorized thin SVD, truncated to comps components.
func resultFromSVD(svd *mat.SVD, comps int) *PCAResult {
	values := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	n, _ := u.Dims()
	p, _ := v.Dims()

	scores := mat.NewDense(n, comps, nil)
	rotation := mat.NewDense(p, comps, nil)
	for c := 0; c < comps; c++ {
		for i := 0; i < n; i++ {
			scores.Set(i, c, u.At(i, c)*values[c])
		}
		for j := 0; j < p; j++ {
			rotation.Set(j, c, v.At(j, c))
		}
	}

	var total float64
	for _, s := range values {
		total += s * s
	}
	explained := make([]float64, comps)
	if total > 0 {
		for c := 0; c < comps; c++ {
			explained[c] = values[c] * values[c] / total
		}
	}

	return &PCAResult{Scores: scores, Rotation: rotation, ExplainedVar: explained}
}

// MultiBatchOptions configures MultiBatchPCA.
type MultiBatchOptions struct {
	// Components is the number of components to retain. Zero selects
	// DefaultComponents.
	Components int
}

// MultiBatchResult holds per-batch scores over one shared rotation.
type MultiBatchResult struct {
	// Scores has one cells x components matrix per input batch, in input
	// order.
	Scores []*mat.Dense
	// Rotation is genes x components, shared by all batches.
	Rotation *mat.Dense
	// ExplainedVar is the proportion of (batch-weighted) variance captured
	// by each component.
	ExplainedVar []float64
}

// MultiBatchPCA decomposes several batches (each cells x genes over the same
// gene universe) so that every batch contributes equally regardless of its
// cell count: batches are centered on the grand mean of the per-batch gene
// means, each batch's rows are downweighted by 1/sqrt(cells * batches), and
// the stacked weighted matrix is decomposed once. Per-batch scores project
// each centered batch onto the shared rotation.
func MultiBatchPCA(lggr logger.Logger, batches []*mat.Dense, opts MultiBatchOptions) (*MultiBatchResult, error) {
	if len(batches) == 0 {
		return nil, fmt.Errorf("no batches")
	}

	comps := opts.Components
	if comps <= 0 {
		comps = DefaultComponents
	}

	_, ngenes := batches[0].Dims()
	var totalCells int
	for b, batch := range batches {
		nb, pb := batch.Dims()
		if pb != ngenes {
			return nil, fmt.Errorf("batch %d has %d genes, batch 0 has %d", b, pb, ngenes)
		}
		if nb == 0 {
			return nil, fmt.Errorf("batch %d has no cells", b)
		}
		totalCells += nb
	}

	maxComps := totalCells
	if ngenes < maxComps {
		maxComps = ngenes
	}
	if comps > maxComps {
		lggr.Warnw("Clamping requested components to the input rank bound",
			"requested", comps, "max", maxComps)
		comps = maxComps
	}
	for b, batch := range batches {
		if nb, _ := batch.Dims(); nb < comps {
			return nil, fmt.Errorf("batch %d has %d cells, fewer than the %d requested components", b, nb, comps)
		}
	}

	// Grand mean of per-batch gene means: each batch counts once.
	grand := make([]float64, ngenes)
	col := make([]float64, 0)
	for _, batch := range batches {
		nb, _ := batch.Dims()
		if cap(col) < nb {
			col = make([]float64, nb)
		}
		col = col[:nb]
		for j := 0; j < ngenes; j++ {
			mat.Col(col, j, batch)
			grand[j] += stat.Mean(col, nil) / float64(len(batches))
		}
	}

	stacked := mat.NewDense(totalCells, ngenes, nil)
	row := 0
	for _, batch := range batches {
		nb, _ := batch.Dims()
		w := 1 / math.Sqrt(float64(nb)*float64(len(batches)))
		for i := 0; i < nb; i++ {
			for j := 0; j < ngenes; j++ {
				stacked.Set(row, j, w*(batch.At(i, j)-grand[j]))
			}
			row++
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(stacked, mat.SVDThin); !ok {
		return nil, fmt.Errorf("SVD failed to converge on a %dx%d matrix", totalCells, ngenes)
	}
	shared := resultFromSVD(&svd, comps)

	res := &MultiBatchResult{
		Rotation:     shared.Rotation,
		ExplainedVar: shared.ExplainedVar,
		Scores:       make([]*mat.Dense, len(batches)),
	}
	for b, batch := range batches {
		nb, _ := batch.Dims()
		centered := mat.NewDense(nb, ngenes, nil)
		for i := 0; i < nb; i++ {
			for j := 0; j < ngenes; j++ {
				centered.Set(i, j, batch.At(i, j)-grand[j])
			}
		}
		scores := mat.NewDense(nb, comps, nil)
		scores.Mul(centered, res.Rotation)
		res.Scores[b] = scores
	}

	return res, nil
}

// TSNE defaults.
const (
	DefaultPerplexity   = 30
	DefaultLearningRate = 200
	DefaultMaxIter      = 1000
)

// TSNEOptions configures TSNE.
type TSNEOptions struct {
	// Perplexity balances local and global structure. Defaults to
	// DefaultPerplexity, lowered automatically when the input is too small
	// to support it.
	Perplexity float64
	// LearningRate for gradient descent. Defaults to DefaultLearningRate.
	LearningRate float64
	// MaxIter is the number of gradient-descent iterations. Defaults to
	// DefaultMaxIter.
	MaxIter int
	// Seed makes the embedding deterministic.
	Seed int64
	// PCs, when positive, first reduces the input to this many principal
	// components; the embedding then runs on the scores.
	PCs int
}

// TSNE embeds x (observations x variables) into two dimensions.
func TSNE(lggr logger.Logger, x *mat.Dense, opts TSNEOptions) (*mat.Dense, error) {
	n, _ := x.Dims()
	if n < 4 {
		return nil, fmt.Errorf("need at least 4 rows to embed, got %d", n)
	}
	if opts.Perplexity == 0 {
		opts.Perplexity = DefaultPerplexity
	}
	if opts.LearningRate == 0 {
		opts.LearningRate = DefaultLearningRate
	}
	if opts.MaxIter == 0 {
		opts.MaxIter = DefaultMaxIter
	}
	// Perplexity is bounded by the number of possible neighbours.
	if limit := float64(n-1) / 3; opts.Perplexity > limit {
		lggr.Warnw("Lowering perplexity for a small input", "requested", opts.Perplexity, "using", limit)
		opts.Perplexity = limit
	}

	input := x
	if opts.PCs > 0 {
		pca, err := PCA(lggr, x, PCAOptions{Components: opts.PCs, Center: true})
		if err != nil {
			return nil, fmt.Errorf("pre-embedding PCA: %w", err)
		}
		input = pca.Scores
	}

	// The embedder initializes from the global math/rand source.
	rand.Seed(opts.Seed)

	embedder := tsne.NewTSNE(2, opts.Perplexity, opts.LearningRate, opts.MaxIter, false)
	embedded := embedder.EmbedData(input, nil)

	out := mat.NewDense(n, 2, nil)
	out.Copy(embedded)

	return out, nil
}
