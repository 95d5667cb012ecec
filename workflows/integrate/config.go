package integrate

import (
	"encoding/json"
	"fmt"

	"github.com/crossbatch/scrna-integration-framework/analysis"
	"github.com/crossbatch/scrna-integration-framework/analysis/cluster"
	"github.com/crossbatch/scrna-integration-framework/analysis/correct"
	"github.com/crossbatch/scrna-integration-framework/analysis/dimred"
	"github.com/crossbatch/scrna-integration-framework/analysis/normalize"
	"github.com/crossbatch/scrna-integration-framework/analysis/variance"
)

// QCConfig holds the per-cell quality-control parameters.
type QCConfig struct {
	// NMADs is the outlier threshold in median absolute deviations.
	NMADs float64 `json:"nmads"`
	// BlockCol names a ColData column to block the thresholds on, typically
	// the donor or plate. Empty means global thresholds per dataset.
	BlockCol string `json:"blockCol"`
}

// HVGConfig selects the highly variable gene set.
type HVGConfig struct {
	// N keeps at most the top N genes by biological variance.
	N int `json:"n"`
	// Prop keeps at most the top fraction of all genes.
	Prop float64 `json:"prop"`
	// VarThreshold keeps only genes with positive biological variance.
	VarThreshold bool `json:"varThreshold"`
	// Span is the trend-fit window fraction.
	Span float64 `json:"span"`
	// MinMean excludes genes below this mean from the trend fit.
	MinMean float64 `json:"minMean"`
}

// MNNConfig holds the mutual-nearest-neighbour correction parameters.
type MNNConfig struct {
	// K is the number of neighbours for the mutual-pair search.
	K int `json:"k"`
	// Sigma is the Gaussian smoothing bandwidth.
	Sigma float64 `json:"sigma"`
	// CosNorm L2-normalizes each cell before correction.
	CosNorm bool `json:"cosNorm"`
}

// ClusterConfig holds the graph-clustering parameters.
type ClusterConfig struct {
	// K is the number of nearest neighbours for the SNN graph.
	K int `json:"k"`
	// Resolution is the Louvain modularity resolution.
	Resolution float64 `json:"resolution"`
	// Seed fixes the Louvain tie-breaking.
	Seed uint64 `json:"seed"`
}

// TSNEConfig holds the t-SNE embedding parameters.
type TSNEConfig struct {
	// Perplexity balances local and global structure.
	Perplexity float64 `json:"perplexity"`
	// MaxIter is the number of gradient-descent iterations.
	MaxIter int `json:"maxIter"`
	// Seed fixes the embedding initialization.
	Seed int64 `json:"seed"`
}

// Config is the typed configuration of the integration workflow.
type Config struct {
	// Datasets names the datasets to integrate, in merge order. Empty means
	// every dataset in the environment's collection.
	Datasets []string `json:"datasets"`
	// BatchCol is the ColData column tagging each cell's dataset of origin
	// in the combined experiment.
	BatchCol string `json:"batchCol"`
	// SpikePrefix marks spike-in control rows by gene-ID prefix. Spike rows
	// feed the QC metrics and are excluded from the analysis gene universe.
	SpikePrefix string `json:"spikePrefix"`
	// PseudoCount is added before the log2 transform.
	PseudoCount float64 `json:"pseudoCount"`
	// Components is the number of principal components to retain.
	Components int `json:"components"`
	// MarkerGenes are summarized per cluster by the final stage.
	MarkerGenes []string `json:"markerGenes"`
	// StopAfter optionally names a stage to stop after, for partial runs.
	StopAfter string `json:"stopAfter,omitempty"`

	QC      QCConfig      `json:"qc"`
	HVG     HVGConfig     `json:"hvg"`
	MNN     MNNConfig     `json:"mnn"`
	Cluster ClusterConfig `json:"cluster"`
	TSNE    TSNEConfig    `json:"tsne"`
}

// DefaultConfig returns the workflow configuration with every parameter at
// its stage-package default.
func DefaultConfig() Config {
	return Config{
		BatchCol:    "batch",
		PseudoCount: normalize.DefaultPseudoCount,
		Components:  dimred.DefaultComponents,
		QC:          QCConfig{NMADs: 3},
		HVG: HVGConfig{
			Prop:    0.1,
			Span:    variance.DefaultSpan,
			MinMean: variance.DefaultMinMean,
		},
		MNN:     MNNConfig{K: correct.DefaultK, Sigma: correct.DefaultSigma, CosNorm: true},
		Cluster: ClusterConfig{K: cluster.DefaultK, Resolution: 1},
		TSNE: TSNEConfig{
			Perplexity: dimred.DefaultPerplexity,
			MaxIter:    dimred.DefaultMaxIter,
		},
	}
}

// Validate checks the configuration for values no stage could accept.
func (c Config) Validate() error {
	if c.BatchCol == "" {
		return fmt.Errorf("batch column is required")
	}
	if c.QC.NMADs <= 0 {
		return fmt.Errorf("qc nmads must be positive, got %v", c.QC.NMADs)
	}
	if c.Components <= 0 {
		return fmt.Errorf("components must be positive, got %d", c.Components)
	}
	if c.HVG.N <= 0 && c.HVG.Prop <= 0 && !c.HVG.VarThreshold {
		return fmt.Errorf("hvg selection needs a count, proportion or variance threshold")
	}
	if c.MNN.K <= 0 {
		return fmt.Errorf("mnn k must be positive, got %d", c.MNN.K)
	}
	if c.Cluster.K <= 0 {
		return fmt.Errorf("cluster k must be positive, got %d", c.Cluster.K)
	}
	if c.StopAfter != "" && !isStage(c.StopAfter) {
		return fmt.Errorf("unknown stage %q", c.StopAfter)
	}

	return nil
}

// ConfigFromEnvironment derives the workflow configuration from the
// environment's parameter map, layered over the defaults.
func ConfigFromEnvironment(e analysis.Environment) (Config, error) {
	cfg := DefaultConfig()
	if len(e.Params) == 0 {
		return cfg, cfg.Validate()
	}

	data, err := json.Marshal(e.Params)
	if err != nil {
		return Config{}, fmt.Errorf("failed to encode workflow params: %w", err)
	}
	if err = json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode workflow params: %w", err)
	}

	return cfg, cfg.Validate()
}
