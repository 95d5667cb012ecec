package integrate

import (
	"fmt"

	"github.com/crossbatch/scrna-integration-framework/operations"
)

// RunSummary is the sequence output: the headline numbers of a run. The
// heavy results live in the run's artifacts.
type RunSummary struct {
	Datasets    map[string]DatasetSummary `json:"datasets"`
	CellsKept   int                       `json:"cellsKept"`
	HVGs        int                       `json:"hvgs"`
	NumClusters int                       `json:"numClusters"`
	// Completed lists the stages that ran or were skipped as memoized, in
	// order. Shorter than Stages when StopAfter cut the run short.
	Completed []string `json:"completed"`
}

// Sequence runs the integration stages in order. Every stage's input embeds
// a fingerprint of its upstream stage's output, so memoization re-executes
// a stage exactly when its parameters or inputs changed.
var Sequence = operations.NewSequence(
	"integrate",
	version,
	"Multi-batch scRNA-seq integration pipeline",
	runStages,
)

func runStages(b operations.Bundle, deps Deps, cfg Config) (RunSummary, error) {
	summary := RunSummary{Datasets: make(map[string]DatasetSummary, len(deps.State.Names()))}

	for _, name := range deps.State.Names() {
		report, err := operations.ExecuteOperation(b, FetchDatasetOp, deps, FetchInput{Name: name},
			operations.WithRetry[FetchInput, Deps]())
		if err != nil {
			return summary, fmt.Errorf("stage %s: dataset %q: %w", StageFetch, name, err)
		}
		summary.Datasets[name] = report.Output
	}
	summary.Completed = append(summary.Completed, StageFetch)
	upstream, err := hashOf(summary.Datasets)
	if err != nil {
		return summary, err
	}
	if cfg.StopAfter == StageFetch {
		return summary, nil
	}

	qcReport, err := operations.ExecuteOperation(b, QualityControlOp, deps, QCInput{
		NMADs:       cfg.QC.NMADs,
		SpikePrefix: cfg.SpikePrefix,
		BlockCol:    cfg.QC.BlockCol,
		Upstream:    upstream,
	})
	if err != nil {
		return summary, fmt.Errorf("stage %s: %w", StageQC, err)
	}
	for _, discard := range qcReport.Output.PerDataset {
		summary.CellsKept += discard.Kept
	}
	summary.Completed = append(summary.Completed, StageQC)
	if upstream, err = hashOf(qcReport.Output); err != nil {
		return summary, err
	}
	if cfg.StopAfter == StageQC {
		return summary, nil
	}

	normReport, err := operations.ExecuteOperation(b, NormalizeOp, deps, NormalizeInput{
		PseudoCount: cfg.PseudoCount,
		Upstream:    upstream,
	})
	if err != nil {
		return summary, fmt.Errorf("stage %s: %w", StageNormalize, err)
	}
	summary.Completed = append(summary.Completed, StageNormalize)
	if upstream, err = hashOf(normReport.Output); err != nil {
		return summary, err
	}
	if cfg.StopAfter == StageNormalize {
		return summary, nil
	}

	varReport, err := operations.ExecuteOperation(b, ModelVarianceOp, deps, VarianceInput{
		Span:         cfg.HVG.Span,
		MinMean:      cfg.HVG.MinMean,
		BlockCol:     cfg.QC.BlockCol,
		N:            cfg.HVG.N,
		Prop:         cfg.HVG.Prop,
		VarThreshold: cfg.HVG.VarThreshold,
		Upstream:     upstream,
	})
	if err != nil {
		return summary, fmt.Errorf("stage %s: %w", StageVariance, err)
	}
	// A memoized stage skips its handler; the chosen set still reaches the
	// state through the stored report.
	deps.State.SetHVGs(varReport.Output.HVGs)
	summary.HVGs = len(varReport.Output.HVGs)
	summary.Completed = append(summary.Completed, StageVariance)
	if upstream, err = hashOf(varReport.Output); err != nil {
		return summary, err
	}
	if cfg.StopAfter == StageVariance {
		return summary, nil
	}

	pcaReport, err := operations.ExecuteOperation(b, MultiBatchPCAOp, deps, PCAInput{
		Components: cfg.Components,
		Upstream:   upstream,
	})
	if err != nil {
		return summary, fmt.Errorf("stage %s: %w", StagePCA, err)
	}
	summary.Completed = append(summary.Completed, StagePCA)
	if upstream, err = hashOf(pcaReport.Output); err != nil {
		return summary, err
	}
	if cfg.StopAfter == StagePCA {
		return summary, nil
	}

	mnnReport, err := operations.ExecuteOperation(b, MNNCorrectOp, deps, MNNInput{
		K:        cfg.MNN.K,
		Sigma:    cfg.MNN.Sigma,
		CosNorm:  cfg.MNN.CosNorm,
		Upstream: upstream,
	})
	if err != nil {
		return summary, fmt.Errorf("stage %s: %w", StageCorrect, err)
	}
	summary.Completed = append(summary.Completed, StageCorrect)
	if upstream, err = hashOf(mnnReport.Output); err != nil {
		return summary, err
	}
	if cfg.StopAfter == StageCorrect {
		return summary, nil
	}

	clusterReport, err := operations.ExecuteOperation(b, ClusterOp, deps, ClusterInput{
		K:          cfg.Cluster.K,
		Resolution: cfg.Cluster.Resolution,
		Seed:       cfg.Cluster.Seed,
		Upstream:   upstream,
	})
	if err != nil {
		return summary, fmt.Errorf("stage %s: %w", StageCluster, err)
	}
	summary.NumClusters = clusterReport.Output.NumClusters
	summary.Completed = append(summary.Completed, StageCluster)
	if upstream, err = hashOf(clusterReport.Output); err != nil {
		return summary, err
	}
	if cfg.StopAfter == StageCluster {
		return summary, nil
	}

	if _, err = operations.ExecuteOperation(b, TSNEOp, deps, TSNEInput{
		Perplexity: cfg.TSNE.Perplexity,
		MaxIter:    cfg.TSNE.MaxIter,
		Seed:       cfg.TSNE.Seed,
		Upstream:   upstream,
	}); err != nil {
		return summary, fmt.Errorf("stage %s: %w", StageTSNE, err)
	}
	summary.Completed = append(summary.Completed, StageTSNE)
	if cfg.StopAfter == StageTSNE {
		return summary, nil
	}

	if _, err = operations.ExecuteOperation(b, SummarizeMarkersOp, deps, MarkersInput{
		Genes:    cfg.MarkerGenes,
		BatchCol: cfg.BatchCol,
		Upstream: upstream,
	}); err != nil {
		return summary, fmt.Errorf("stage %s: %w", StageMarkers, err)
	}
	summary.Completed = append(summary.Completed, StageMarkers)

	return summary, nil
}
