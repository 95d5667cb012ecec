package integrate

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
	"gonum.org/v1/gonum/mat"

	"github.com/crossbatch/scrna-integration-framework/analysis"
	"github.com/crossbatch/scrna-integration-framework/analysis/cluster"
	"github.com/crossbatch/scrna-integration-framework/analysis/correct"
	"github.com/crossbatch/scrna-integration-framework/analysis/dimred"
	"github.com/crossbatch/scrna-integration-framework/analysis/experiment"
	"github.com/crossbatch/scrna-integration-framework/analysis/markers"
	"github.com/crossbatch/scrna-integration-framework/analysis/normalize"
	"github.com/crossbatch/scrna-integration-framework/analysis/qc"
	"github.com/crossbatch/scrna-integration-framework/analysis/variance"
	"github.com/crossbatch/scrna-integration-framework/operations"
)

var version = semver.MustParse("1.0.0")

// Deps carries the environment and the run state into every stage handler.
type Deps struct {
	Env   analysis.Environment
	State *State
}

// FetchInput names one dataset to materialize.
type FetchInput struct {
	Name string `json:"name"`
}

// DatasetSummary describes one materialized dataset.
type DatasetSummary struct {
	Accession  string `json:"accession"`
	Repository string `json:"repository"`
	Genes      int    `json:"genes"`
	Cells      int    `json:"cells"`
}

// FetchDatasetOp downloads and parses one dataset through the environment's
// collection. Network failures are retryable; the fetch cache makes retries
// resume rather than restart.
var FetchDatasetOp = operations.NewOperation(
	"fetch-dataset",
	version,
	"Downloads and parses one dataset into an experiment",
	handleFetchDataset,
)

func handleFetchDataset(b operations.Bundle, deps Deps, input FetchInput) (DatasetSummary, error) {
	datasets := deps.Env.Datasets
	ds, err := datasets.Get(input.Name)
	if err != nil {
		return DatasetSummary{}, fmt.Errorf("failed to load dataset %q: %w", input.Name, err)
	}

	exp := ds.Experiment()
	if exp == nil {
		return DatasetSummary{}, operations.NewUnrecoverableError(
			fmt.Errorf("dataset %q has no experiment", input.Name),
		)
	}
	deps.State.raw[input.Name] = exp

	return DatasetSummary{
		Accession:  ds.Accession(),
		Repository: ds.Repository(),
		Genes:      exp.NumGenes(),
		Cells:      exp.NumCells(),
	}, nil
}

// QCInput parameterizes the quality-control stage. Upstream fingerprints
// the fetch results so a changed dataset re-runs the filter.
type QCInput struct {
	NMADs       float64 `json:"nmads"`
	SpikePrefix string  `json:"spikePrefix"`
	BlockCol    string  `json:"blockCol"`
	Upstream    string  `json:"upstream"`
}

// QCOutput summarizes the discard decision per dataset.
type QCOutput struct {
	PerDataset map[string]qc.Discard `json:"perDataset"`
}

// QualityControlOp applies per-cell MAD outlier filters to every dataset.
var QualityControlOp = operations.NewOperation(
	StageQC,
	version,
	"Discards low-quality cells by MAD outlier thresholds",
	handleQualityControl,
)

func handleQualityControl(b operations.Bundle, deps Deps, input QCInput) (QCOutput, error) {
	cfg := deps.State.cfg
	out := QCOutput{PerDataset: make(map[string]qc.Discard, len(deps.State.Names()))}
	kept := make(map[string][]string, len(deps.State.Names()))

	for _, name := range deps.State.Names() {
		raw, err := deps.State.Raw(deps.Env, name)
		if err != nil {
			return QCOutput{}, err
		}

		filtered, discard, err := applyFilter(deps.Env, cfg, raw)
		if err != nil {
			return QCOutput{}, fmt.Errorf("dataset %q: %w", name, err)
		}
		b.Logger.Infow("Filtered dataset",
			"dataset", name, "kept", discard.Kept, "discarded", discard.Total)

		deps.State.SetFiltered(name, filtered)
		out.PerDataset[name] = *discard
		kept[name] = filtered.CellIDs()
	}

	if err := deps.Env.Artifacts.Save(StageQC, artifactKeptCells, kept); err != nil {
		return QCOutput{}, err
	}

	return out, nil
}

// NormalizeInput parameterizes the normalization stage.
type NormalizeInput struct {
	PseudoCount float64 `json:"pseudoCount"`
	Upstream    string  `json:"upstream"`
}

// NormalizeOutput reports the rescaled mean size factor per dataset.
type NormalizeOutput struct {
	MeanFactor map[string]float64 `json:"meanFactor"`
}

// NormalizeOp computes library-size factors, rescales them across batches
// to the lowest-coverage batch and materializes the logcounts assay.
var NormalizeOp = operations.NewOperation(
	StageNormalize,
	version,
	"Computes rescaled size factors and log-normalized expression",
	handleNormalize,
)

func handleNormalize(b operations.Bundle, deps Deps, input NormalizeInput) (NormalizeOutput, error) {
	exps, err := deps.State.Filtered(deps.Env)
	if err != nil {
		return NormalizeOutput{}, err
	}

	factorsPerBatch := make([][]float64, len(exps))
	for i, exp := range exps {
		factors, err := normalize.LibrarySizeFactors(exp.Counts())
		if err != nil {
			return NormalizeOutput{}, fmt.Errorf("dataset %q: %w", deps.State.Names()[i], err)
		}
		factorsPerBatch[i] = factors
	}

	adjusted, err := normalize.MultiBatchNorm(exps, factorsPerBatch, input.PseudoCount)
	if err != nil {
		return NormalizeOutput{}, err
	}
	deps.State.SetNormalized()

	byName := make(map[string][]float64, len(exps))
	out := NormalizeOutput{MeanFactor: make(map[string]float64, len(exps))}
	for i, name := range deps.State.Names() {
		byName[name] = adjusted[i]

		var sum float64
		for _, f := range adjusted[i] {
			sum += f
		}
		out.MeanFactor[name] = sum / float64(len(adjusted[i]))
	}

	if err = deps.Env.Artifacts.Save(StageNormalize, artifactSizeFactors, byName); err != nil {
		return NormalizeOutput{}, err
	}

	return out, nil
}

// VarianceInput parameterizes the variance-modelling stage.
type VarianceInput struct {
	Span         float64 `json:"span"`
	MinMean      float64 `json:"minMean"`
	BlockCol     string  `json:"blockCol"`
	N            int     `json:"n"`
	Prop         float64 `json:"prop"`
	VarThreshold bool    `json:"varThreshold"`
	Upstream     string  `json:"upstream"`
}

// VarianceOutput carries the chosen highly variable gene set.
type VarianceOutput struct {
	HVGs       []string `json:"hvgs"`
	TotalGenes int      `json:"totalGenes"`
}

// ModelVarianceOp decomposes per-gene variance in every dataset, combines
// the biological components across datasets and selects the HVG set.
var ModelVarianceOp = operations.NewOperation(
	StageVariance,
	version,
	"Models per-gene variance and selects highly variable genes",
	handleModelVariance,
)

func handleModelVariance(b operations.Bundle, deps Deps, input VarianceInput) (VarianceOutput, error) {
	exps, err := deps.State.AnalysisExperiments(deps.Env)
	if err != nil {
		return VarianceOutput{}, err
	}

	perBatch := make([]*variance.Stats, len(exps))
	for i, exp := range exps {
		opts := variance.Options{Span: input.Span, MinMean: input.MinMean}
		if input.BlockCol != "" {
			if block, ok := exp.ColData().StrCol(input.BlockCol); ok {
				opts.Block = block
			}
		}

		stats, err := variance.ModelGeneVar(b.Logger, exp, opts)
		if err != nil {
			return VarianceOutput{}, fmt.Errorf("dataset %q: %w", deps.State.Names()[i], err)
		}
		perBatch[i] = stats
	}

	combined, err := combineStats(perBatch)
	if err != nil {
		return VarianceOutput{}, err
	}

	hvgs := variance.TopHVGs(combined, variance.HVGOptions{
		N:            input.N,
		Prop:         input.Prop,
		VarThreshold: input.VarThreshold,
	})
	if len(hvgs) == 0 {
		return VarianceOutput{}, fmt.Errorf("no highly variable genes selected")
	}
	deps.State.SetHVGs(hvgs)

	if err = deps.Env.Artifacts.Save(StageVariance, artifactStats, combined); err != nil {
		return VarianceOutput{}, err
	}

	return VarianceOutput{HVGs: hvgs, TotalGenes: len(combined.Genes)}, nil
}

// combineStats averages variance decompositions over the same gene universe,
// each dataset contributing equally.
func combineStats(perBatch []*variance.Stats) (*variance.Stats, error) {
	if len(perBatch) == 0 {
		return nil, fmt.Errorf("no statistics to combine")
	}

	first := perBatch[0]
	n := len(first.Genes)
	combined := &variance.Stats{
		Genes: append([]string(nil), first.Genes...),
		Mean:  make([]float64, n),
		Total: make([]float64, n),
		Tech:  make([]float64, n),
		Bio:   make([]float64, n),
	}

	for _, stats := range perBatch {
		if len(stats.Genes) != n {
			return nil, fmt.Errorf("gene universes differ: %d vs %d genes", len(stats.Genes), n)
		}
		for g := 0; g < n; g++ {
			combined.Mean[g] += stats.Mean[g]
			combined.Total[g] += stats.Total[g]
			combined.Tech[g] += stats.Tech[g]
			combined.Bio[g] += stats.Bio[g]
		}
	}
	w := float64(len(perBatch))
	for g := 0; g < n; g++ {
		combined.Mean[g] /= w
		combined.Total[g] /= w
		combined.Tech[g] /= w
		combined.Bio[g] /= w
	}

	return combined, nil
}

// PCAInput parameterizes the multi-batch PCA stage.
type PCAInput struct {
	Components int    `json:"components"`
	Upstream   string `json:"upstream"`
}

// PCAOutput reports the variance captured per component.
type PCAOutput struct {
	Components   int       `json:"components"`
	ExplainedVar []float64 `json:"explainedVar"`
}

// MultiBatchPCAOp projects every dataset onto one shared rotation computed
// over the HVG logcounts, each dataset weighted equally.
var MultiBatchPCAOp = operations.NewOperation(
	StagePCA,
	version,
	"Computes batch-weighted principal components over the HVG set",
	handleMultiBatchPCA,
)

func handleMultiBatchPCA(b operations.Bundle, deps Deps, input PCAInput) (PCAOutput, error) {
	exps, err := deps.State.AnalysisExperiments(deps.Env)
	if err != nil {
		return PCAOutput{}, err
	}
	hvgs := deps.State.HVGs()
	if len(hvgs) == 0 {
		return PCAOutput{}, fmt.Errorf("no highly variable gene set; run %s first", StageVariance)
	}

	batches := make([]*mat.Dense, len(exps))
	for i, exp := range exps {
		sub, err := exp.SubsetGenesByID(hvgs)
		if err != nil {
			return PCAOutput{}, fmt.Errorf("dataset %q: %w", deps.State.Names()[i], err)
		}
		batches[i] = mat.DenseCopyOf(sub.LogCounts().T())
	}

	res, err := dimred.MultiBatchPCA(b.Logger, batches, dimred.MultiBatchOptions{Components: input.Components})
	if err != nil {
		return PCAOutput{}, err
	}

	colIDs := make([]string, len(res.ExplainedVar))
	for i := range colIDs {
		colIDs[i] = fmt.Sprintf("PC%d", i+1)
	}
	for i, name := range deps.State.Names() {
		deps.State.SetScores(name, res.Scores[i])

		a, err := NewMatrixArtifact(exps[i].CellIDs(), colIDs, res.Scores[i])
		if err != nil {
			return PCAOutput{}, fmt.Errorf("dataset %q: %w", name, err)
		}
		if err = deps.Env.Artifacts.Save(StagePCA, artifactScores+"_"+name, a); err != nil {
			return PCAOutput{}, err
		}
	}

	return PCAOutput{Components: len(res.ExplainedVar), ExplainedVar: res.ExplainedVar}, nil
}

// MNNInput parameterizes the correction stage.
type MNNInput struct {
	K        int     `json:"k"`
	Sigma    float64 `json:"sigma"`
	CosNorm  bool    `json:"cosNorm"`
	Upstream string  `json:"upstream"`
}

// MNNOutput carries the merge diagnostics.
type MNNOutput struct {
	Steps []correct.MergeStep `json:"steps"`
}

// MNNCorrectOp aligns the datasets' principal-component coordinates by
// mutual-nearest-neighbour correction.
var MNNCorrectOp = operations.NewOperation(
	StageCorrect,
	version,
	"Aligns batches by mutual-nearest-neighbour correction",
	handleMNNCorrect,
)

func handleMNNCorrect(b operations.Bundle, deps Deps, input MNNInput) (MNNOutput, error) {
	scores, err := deps.State.Scores(deps.Env)
	if err != nil {
		return MNNOutput{}, err
	}
	exps, err := deps.State.Filtered(deps.Env)
	if err != nil {
		return MNNOutput{}, err
	}
	names := deps.State.Names()

	res, err := correct.MNNCorrect(b.Logger, scores, names, correct.MNNOptions{
		K:       input.K,
		Sigma:   input.Sigma,
		CosNorm: input.CosNorm,
	})
	if err != nil {
		return MNNOutput{}, err
	}

	total := 0
	for _, m := range res.Corrected {
		r, _ := m.Dims()
		total += r
	}
	emb := &Embedding{
		CellIDs: make([]string, 0, total),
		Batches: make([]string, 0, total),
		Values:  make([][]float64, 0, total),
	}
	for i, m := range res.Corrected {
		r, _ := m.Dims()
		for row := 0; row < r; row++ {
			emb.CellIDs = append(emb.CellIDs, names[i]+"."+exps[i].CellIDs()[row])
			emb.Batches = append(emb.Batches, names[i])
			emb.Values = append(emb.Values, mat.Row(nil, row, m))
		}
	}
	deps.State.SetEmbedding(emb)

	if err = deps.Env.Artifacts.Save(StageCorrect, artifactCorrected, emb); err != nil {
		return MNNOutput{}, err
	}

	return MNNOutput{Steps: res.Steps}, nil
}

// ClusterInput parameterizes the graph-clustering stage.
type ClusterInput struct {
	K          int     `json:"k"`
	Resolution float64 `json:"resolution"`
	Seed       uint64  `json:"seed"`
	Upstream   string  `json:"upstream"`
}

// ClusterOutput summarizes the clustering and its agreement diagnostics.
type ClusterOutput struct {
	NumClusters int            `json:"numClusters"`
	Sizes       map[string]int `json:"sizes"`
	// BatchTable crosses cluster labels against dataset of origin. Clusters
	// drawing from a single dataset flag residual batch structure.
	BatchTable *cluster.Xtab `json:"batchTable"`
	// ARIPerBatch compares the joint clustering against each dataset
	// clustered on its own, restricted to that dataset's cells.
	ARIPerBatch map[string]float64 `json:"ariPerBatch"`
}

// ClusterOp builds an SNN graph over the corrected coordinates and assigns
// Louvain community labels.
var ClusterOp = operations.NewOperation(
	StageCluster,
	version,
	"Clusters cells on the corrected embedding by SNN and Louvain",
	handleCluster,
)

func handleCluster(b operations.Bundle, deps Deps, input ClusterInput) (ClusterOutput, error) {
	emb, err := deps.State.Embedding(deps.Env)
	if err != nil {
		return ClusterOutput{}, err
	}
	coords, err := emb.Coords()
	if err != nil {
		return ClusterOutput{}, err
	}

	g, err := cluster.BuildSNNGraph(coords, cluster.SNNOptions{K: input.K})
	if err != nil {
		return ClusterOutput{}, err
	}
	labels, err := cluster.Louvain(g, input.Resolution, input.Seed)
	if err != nil {
		return ClusterOutput{}, err
	}

	xtab, err := cluster.Crosstab(labels, emb.Batches)
	if err != nil {
		return ClusterOutput{}, err
	}

	out := ClusterOutput{
		Sizes:       make(map[string]int),
		BatchTable:  xtab,
		ARIPerBatch: make(map[string]float64, len(deps.State.Names())),
	}
	for _, label := range labels {
		out.Sizes[label]++
	}
	out.NumClusters = len(out.Sizes)

	for _, name := range deps.State.Names() {
		ari, ok, err := batchAgreement(coords, emb.Batches, labels, name, input)
		if err != nil {
			return ClusterOutput{}, fmt.Errorf("dataset %q: %w", name, err)
		}
		if !ok {
			b.Logger.Warnw("Too few cells for a within-dataset clustering",
				"dataset", name, "k", input.K)
			continue
		}
		out.ARIPerBatch[name] = ari
	}

	deps.State.SetLabels(&LabelArtifact{CellIDs: emb.CellIDs, Batches: emb.Batches, Labels: labels})

	if err = deps.Env.Artifacts.Save(StageCluster, artifactLabels, deps.State.labels); err != nil {
		return ClusterOutput{}, err
	}

	return out, nil
}

// batchAgreement clusters one dataset's cells on their own and returns the
// adjusted Rand index against the joint labels. ok is false when the
// dataset has too few cells for the neighbour search.
func batchAgreement(
	coords *mat.Dense, batches, labels []string, name string, input ClusterInput,
) (float64, bool, error) {
	indices := make([]int, 0, len(batches))
	for i, b := range batches {
		if b == name {
			indices = append(indices, i)
		}
	}
	if len(indices) <= input.K {
		return 0, false, nil
	}

	_, dims := coords.Dims()
	sub := mat.NewDense(len(indices), dims, nil)
	joint := make([]string, len(indices))
	for row, idx := range indices {
		sub.SetRow(row, mat.Row(nil, idx, coords))
		joint[row] = labels[idx]
	}

	g, err := cluster.BuildSNNGraph(sub, cluster.SNNOptions{K: input.K})
	if err != nil {
		return 0, false, err
	}
	own, err := cluster.Louvain(g, input.Resolution, input.Seed)
	if err != nil {
		return 0, false, err
	}
	ari, err := cluster.AdjustedRandIndex(own, joint)
	if err != nil {
		return 0, false, err
	}

	return ari, true, nil
}

// TSNEInput parameterizes the embedding stage.
type TSNEInput struct {
	Perplexity float64 `json:"perplexity"`
	MaxIter    int     `json:"maxIter"`
	Seed       int64   `json:"seed"`
	Upstream   string  `json:"upstream"`
}

// TSNEOutput reports the embedded cell count.
type TSNEOutput struct {
	Cells int `json:"cells"`
}

// TSNEOp embeds the corrected coordinates into two dimensions for external
// plotting.
var TSNEOp = operations.NewOperation(
	StageTSNE,
	version,
	"Embeds the corrected coordinates in two dimensions",
	handleTSNE,
)

func handleTSNE(b operations.Bundle, deps Deps, input TSNEInput) (TSNEOutput, error) {
	emb, err := deps.State.Embedding(deps.Env)
	if err != nil {
		return TSNEOutput{}, err
	}
	coords, err := emb.Coords()
	if err != nil {
		return TSNEOutput{}, err
	}

	embedded, err := dimred.TSNE(b.Logger, coords, dimred.TSNEOptions{
		Perplexity: input.Perplexity,
		MaxIter:    input.MaxIter,
		Seed:       input.Seed,
	})
	if err != nil {
		return TSNEOutput{}, err
	}

	a, err := NewMatrixArtifact(emb.CellIDs, []string{"TSNE1", "TSNE2"}, embedded)
	if err != nil {
		return TSNEOutput{}, err
	}
	if err = deps.Env.Artifacts.Save(StageTSNE, artifactCoordinates, a); err != nil {
		return TSNEOutput{}, err
	}

	return TSNEOutput{Cells: len(emb.CellIDs)}, nil
}

// MarkersInput parameterizes the marker-summary stage.
type MarkersInput struct {
	Genes    []string `json:"genes"`
	BatchCol string   `json:"batchCol"`
	Upstream string   `json:"upstream"`
}

// MarkersOutput reports which requested genes were summarized.
type MarkersOutput struct {
	Found   []string `json:"found"`
	Missing []string `json:"missing"`
}

// SummarizeMarkersOp tabulates marker expression per cluster over the
// combined experiment.
var SummarizeMarkersOp = operations.NewOperation(
	StageMarkers,
	version,
	"Summarizes marker expression per cluster",
	handleSummarizeMarkers,
)

func handleSummarizeMarkers(b operations.Bundle, deps Deps, input MarkersInput) (MarkersOutput, error) {
	exps, err := deps.State.AnalysisExperiments(deps.Env)
	if err != nil {
		return MarkersOutput{}, err
	}
	combined, err := experiment.BindCells(exps, deps.State.Names(), input.BatchCol)
	if err != nil {
		return MarkersOutput{}, err
	}

	labels, err := deps.State.Labels(deps.Env)
	if err != nil {
		return MarkersOutput{}, err
	}
	if len(labels.Labels) != combined.NumCells() {
		return MarkersOutput{}, fmt.Errorf(
			"got %d cluster labels for %d cells", len(labels.Labels), combined.NumCells())
	}

	summary, err := markers.Summarize(b.Logger, combined, labels.Labels, input.Genes)
	if err != nil {
		return MarkersOutput{}, err
	}

	if err = deps.Env.Artifacts.Save(StageMarkers, artifactMarkers, summary); err != nil {
		return MarkersOutput{}, err
	}

	return MarkersOutput{Found: summary.Genes, Missing: summary.Missing}, nil
}
