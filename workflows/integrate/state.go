package integrate

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/crossbatch/scrna-integration-framework/analysis"
	"github.com/crossbatch/scrna-integration-framework/analysis/experiment"
	"github.com/crossbatch/scrna-integration-framework/analysis/normalize"
	"github.com/crossbatch/scrna-integration-framework/analysis/qc"
)

// Stage identifiers, in execution order.
const (
	StageFetch     = "fetch-datasets"
	StageQC        = "quality-control"
	StageNormalize = "normalize"
	StageVariance  = "model-variance"
	StagePCA       = "multibatch-pca"
	StageCorrect   = "mnn-correct"
	StageCluster   = "cluster"
	StageTSNE      = "tsne"
	StageMarkers   = "summarize-markers"
)

// Stages lists the stage identifiers in execution order.
var Stages = []string{
	StageFetch, StageQC, StageNormalize, StageVariance, StagePCA,
	StageCorrect, StageCluster, StageTSNE, StageMarkers,
}

func isStage(name string) bool {
	for _, s := range Stages {
		if s == name {
			return true
		}
	}

	return false
}

// Artifact names under their stage keys.
const (
	artifactKeptCells   = "kept_cells"
	artifactSizeFactors = "size_factors"
	artifactStats       = "variance_stats"
	artifactScores      = "scores"
	artifactCorrected   = "corrected"
	artifactLabels      = "labels"
	artifactCoordinates = "coordinates"
	artifactMarkers     = "marker_summary"
)

// MatrixArtifact is the JSON shape of a dense matrix artifact.
type MatrixArtifact struct {
	RowIDs []string    `json:"rowIds"`
	ColIDs []string    `json:"colIds"`
	Values [][]float64 `json:"values"`
}

// NewMatrixArtifact captures a dense matrix with row and column identifiers.
func NewMatrixArtifact(rowIDs, colIDs []string, m *mat.Dense) (MatrixArtifact, error) {
	r, c := m.Dims()
	if len(rowIDs) != r {
		return MatrixArtifact{}, fmt.Errorf("got %d row IDs for %d rows", len(rowIDs), r)
	}
	if len(colIDs) != c {
		return MatrixArtifact{}, fmt.Errorf("got %d column IDs for %d columns", len(colIDs), c)
	}

	values := make([][]float64, r)
	for i := 0; i < r; i++ {
		values[i] = mat.Row(nil, i, m)
	}

	return MatrixArtifact{RowIDs: rowIDs, ColIDs: colIDs, Values: values}, nil
}

// Dense rebuilds the dense matrix from the artifact values.
func (a MatrixArtifact) Dense() (*mat.Dense, error) {
	if len(a.Values) == 0 {
		return nil, fmt.Errorf("matrix artifact has no rows")
	}

	r, c := len(a.Values), len(a.Values[0])
	out := mat.NewDense(r, c, nil)
	for i, row := range a.Values {
		if len(row) != c {
			return nil, fmt.Errorf("row %d has %d values, row 0 has %d", i, len(row), c)
		}
		out.SetRow(i, row)
	}

	return out, nil
}

// Embedding is the stacked low-dimensional representation of every cell,
// index-aligned across the three slices and the coordinate rows.
type Embedding struct {
	CellIDs []string `json:"cellIds"`
	// Batches tags each cell's dataset of origin.
	Batches []string    `json:"batches"`
	Values  [][]float64 `json:"values"`
}

// Coords rebuilds the cells x dims coordinate matrix.
func (e Embedding) Coords() (*mat.Dense, error) {
	return MatrixArtifact{RowIDs: e.CellIDs, Values: e.Values}.Dense()
}

// LabelArtifact holds the per-cell cluster assignments.
type LabelArtifact struct {
	CellIDs []string `json:"cellIds"`
	Batches []string `json:"batches"`
	Labels  []string `json:"labels"`
}

// State carries the heavy intermediates of a run between stages. Operation
// inputs and outputs stay small and serializable; matrices live here and in
// the run's artifact store. When an upstream stage was skipped through
// memoization, accessors rebuild the missing intermediates from artifacts
// and the on-disk dataset cache.
type State struct {
	cfg   Config
	names []string

	raw        map[string]*experiment.Experiment
	filtered   map[string]*experiment.Experiment
	normalized bool
	analysis   map[string]*experiment.Experiment
	hvgs       []string
	scores     map[string]*mat.Dense
	embedding  *Embedding
	labels     *LabelArtifact
}

// NewState creates the run state for the named datasets, in merge order.
func NewState(cfg Config, names []string) *State {
	return &State{
		cfg:      cfg,
		names:    names,
		raw:      make(map[string]*experiment.Experiment, len(names)),
		filtered: make(map[string]*experiment.Experiment, len(names)),
		analysis: make(map[string]*experiment.Experiment, len(names)),
		scores:   make(map[string]*mat.Dense, len(names)),
	}
}

// Names returns the dataset names in merge order.
func (s *State) Names() []string {
	return s.names
}

// Raw returns one dataset's unfiltered experiment, loading it through the
// environment's collection when not yet materialized.
func (s *State) Raw(e analysis.Environment, name string) (*experiment.Experiment, error) {
	if exp, ok := s.raw[name]; ok {
		return exp, nil
	}

	datasets := e.Datasets
	ds, err := datasets.Get(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset %q: %w", name, err)
	}
	s.raw[name] = ds.Experiment()

	return s.raw[name], nil
}

// Filtered returns the QC-filtered experiments in merge order. When the QC
// stage was skipped, the kept-cell artifact replays the filter decision so
// the result is identical to the original run.
func (s *State) Filtered(e analysis.Environment) ([]*experiment.Experiment, error) {
	if len(s.filtered) != len(s.names) {
		var kept map[string][]string
		if err := e.Artifacts.Load(StageQC, artifactKeptCells, &kept); err != nil {
			return nil, fmt.Errorf("quality-control has not run and no kept-cell artifact exists: %w", err)
		}
		for _, name := range s.names {
			raw, err := s.Raw(e, name)
			if err != nil {
				return nil, err
			}
			sub, err := subsetByCellIDs(raw, kept[name])
			if err != nil {
				return nil, fmt.Errorf("dataset %q: %w", name, err)
			}
			s.filtered[name] = sub
		}
	}

	out := make([]*experiment.Experiment, len(s.names))
	for i, name := range s.names {
		out[i] = s.filtered[name]
	}

	return out, nil
}

// SetFiltered records one dataset's QC-filtered experiment.
func (s *State) SetFiltered(name string, exp *experiment.Experiment) {
	s.filtered[name] = exp
}

// Normalized returns the filtered experiments with the logcounts assay in
// place, recomputing it from the persisted size factors when the normalize
// stage was skipped.
func (s *State) Normalized(e analysis.Environment) ([]*experiment.Experiment, error) {
	exps, err := s.Filtered(e)
	if err != nil {
		return nil, err
	}
	if s.normalized {
		return exps, nil
	}

	var factors map[string][]float64
	if err = e.Artifacts.Load(StageNormalize, artifactSizeFactors, &factors); err != nil {
		return nil, fmt.Errorf("normalize has not run and no size-factor artifact exists: %w", err)
	}
	for i, name := range s.names {
		if err = normalize.LogNormCounts(exps[i], factors[name], s.cfg.PseudoCount); err != nil {
			return nil, fmt.Errorf("dataset %q: %w", name, err)
		}
	}
	s.normalized = true

	return exps, nil
}

// SetNormalized marks the filtered experiments as carrying logcounts.
func (s *State) SetNormalized() {
	s.normalized = true
}

// AnalysisExperiments returns the normalized experiments restricted to the
// analysis gene universe: genes present in every dataset, spike-in rows
// excluded. The restriction is deterministic, so it is recomputed rather
// than persisted.
func (s *State) AnalysisExperiments(e analysis.Environment) ([]*experiment.Experiment, error) {
	if len(s.analysis) == len(s.names) {
		out := make([]*experiment.Experiment, len(s.names))
		for i, name := range s.names {
			out[i] = s.analysis[name]
		}

		return out, nil
	}

	exps, err := s.Normalized(e)
	if err != nil {
		return nil, err
	}

	universe := experiment.CommonGenes(exps...)
	if s.cfg.SpikePrefix != "" {
		genes := universe[:0]
		for _, id := range universe {
			if !strings.HasPrefix(id, s.cfg.SpikePrefix) {
				genes = append(genes, id)
			}
		}
		universe = genes
	}
	if len(universe) == 0 {
		return nil, fmt.Errorf("datasets share no genes")
	}

	out := make([]*experiment.Experiment, len(s.names))
	for i, name := range s.names {
		sub, err := exps[i].SubsetGenesByID(universe)
		if err != nil {
			return nil, fmt.Errorf("dataset %q: %w", name, err)
		}
		s.analysis[name] = sub
		out[i] = sub
	}

	return out, nil
}

// HVGs returns the highly variable gene set chosen by the variance stage.
func (s *State) HVGs() []string {
	return s.hvgs
}

// SetHVGs records the highly variable gene set.
func (s *State) SetHVGs(hvgs []string) {
	s.hvgs = hvgs
}

// Scores returns the per-dataset principal-component scores in merge order,
// rehydrating from the score artifacts when the PCA stage was skipped.
func (s *State) Scores(e analysis.Environment) ([]*mat.Dense, error) {
	if len(s.scores) != len(s.names) {
		for _, name := range s.names {
			var a MatrixArtifact
			if err := e.Artifacts.Load(StagePCA, artifactScores+"_"+name, &a); err != nil {
				return nil, fmt.Errorf("multibatch-pca has not run and no score artifact exists for %q: %w", name, err)
			}
			scores, err := a.Dense()
			if err != nil {
				return nil, fmt.Errorf("dataset %q: %w", name, err)
			}
			s.scores[name] = scores
		}
	}

	out := make([]*mat.Dense, len(s.names))
	for i, name := range s.names {
		out[i] = s.scores[name]
	}

	return out, nil
}

// SetScores records one dataset's principal-component scores.
func (s *State) SetScores(name string, scores *mat.Dense) {
	s.scores[name] = scores
}

// Embedding returns the corrected embedding, rehydrating from the corrected
// artifact when the correction stage was skipped.
func (s *State) Embedding(e analysis.Environment) (*Embedding, error) {
	if s.embedding == nil {
		var emb Embedding
		if err := e.Artifacts.Load(StageCorrect, artifactCorrected, &emb); err != nil {
			return nil, fmt.Errorf("mnn-correct has not run and no corrected artifact exists: %w", err)
		}
		s.embedding = &emb
	}

	return s.embedding, nil
}

// SetEmbedding records the corrected embedding.
func (s *State) SetEmbedding(emb *Embedding) {
	s.embedding = emb
}

// Labels returns the per-cell cluster assignments, rehydrating from the
// label artifact when the cluster stage was skipped.
func (s *State) Labels(e analysis.Environment) (*LabelArtifact, error) {
	if s.labels == nil {
		var labels LabelArtifact
		if err := e.Artifacts.Load(StageCluster, artifactLabels, &labels); err != nil {
			return nil, fmt.Errorf("cluster has not run and no label artifact exists: %w", err)
		}
		s.labels = &labels
	}

	return s.labels, nil
}

// SetLabels records the per-cell cluster assignments.
func (s *State) SetLabels(labels *LabelArtifact) {
	s.labels = labels
}

// subsetByCellIDs keeps the named cells in the experiment's own order.
func subsetByCellIDs(exp *experiment.Experiment, ids []string) (*experiment.Experiment, error) {
	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}

	mask := make([]bool, exp.NumCells())
	found := 0
	for i, id := range exp.CellIDs() {
		if _, ok := keep[id]; ok {
			mask[i] = true
			found++
		}
	}
	if found != len(keep) {
		return nil, fmt.Errorf("%d of %d kept cells are missing from the experiment", len(keep)-found, len(keep))
	}

	return exp.SubsetCellsMask(mask)
}

// hashOf fingerprints a stage output so downstream stage inputs change, and
// therefore re-execute, whenever an upstream result changes.
func hashOf(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to fingerprint stage output: %w", err)
	}
	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:]), nil
}

// applyFilter runs the QC filter for one dataset with the workflow's
// settings.
func applyFilter(e analysis.Environment, cfg Config, exp *experiment.Experiment) (*experiment.Experiment, *qc.Discard, error) {
	return qc.Filter(e.Logger, exp, qc.FilterOptions{
		SpikePrefix: cfg.SpikePrefix,
		NMADs:       cfg.QC.NMADs,
		BatchCol:    cfg.QC.BlockCol,
	})
}
