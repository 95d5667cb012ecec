package arrayexpress

import (
	"context"
	"fmt"
	"io"

	"github.com/crossbatch/scrna-integration-framework/analysis/experiment"
	"github.com/crossbatch/scrna-integration-framework/analysis/fetch"
	"github.com/crossbatch/scrna-integration-framework/dataset/internal/common"
	"github.com/crossbatch/scrna-integration-framework/dataset/internal/parse"
	"github.com/crossbatch/scrna-integration-framework/pkg/logger"
)

// ProviderConfig describes how to load one ArrayExpress dataset: a dense
// counts table plus the experiment's SDRF-style cell annotation table.
type ProviderConfig struct {
	// Name is the workflow-facing dataset name, e.g. "segerstolpe".
	Name string
	// Accession is the experiment accession, e.g. "E-MTAB-5061".
	Accession string
	// CountsURL points at the dense counts table (tab-separated; gzip
	// handled by extension).
	CountsURL string
	// CountsChecksum optionally pins the counts file to a hex SHA-256.
	CountsChecksum string
	// SDRFURL points at the sample-and-data-relationship table, one row per
	// cell.
	SDRFURL string
	// SDRFIDColumn names the cell-ID column of the SDRF. Defaults to the
	// first column.
	SDRFIDColumn string
	// SpikePrefix marks spike-in control rows by gene-ID prefix, e.g.
	// "ERCC-".
	SpikePrefix string
	// Fields derives per-cell annotation columns, keyed by column name.
	Fields map[string]common.FieldRule
}

func (c ProviderConfig) validate() error {
	if c.Name == "" {
		return fmt.Errorf("dataset name is required")
	}
	if c.Accession == "" {
		return fmt.Errorf("experiment accession is required")
	}
	if c.CountsURL == "" {
		return fmt.Errorf("counts URL is required")
	}

	return nil
}

// Provider downloads and parses an ArrayExpress dataset.
type Provider struct {
	cfg   ProviderConfig
	cache *fetch.Cache
	lggr  logger.Logger

	dataset *Dataset
}

// NewProvider creates a provider for one ArrayExpress dataset.
func NewProvider(cfg ProviderConfig, cache *fetch.Cache, lggr logger.Logger) *Provider {
	return &Provider{cfg: cfg, cache: cache, lggr: lggr}
}

// Name returns the workflow-facing dataset name.
func (p *Provider) Name() string {
	return p.cfg.Name
}

// Accession returns the experiment accession.
func (p *Provider) Accession() string {
	return p.cfg.Accession
}

// Dataset returns the initialized dataset, or the zero Dataset before
// Initialize has succeeded.
func (p *Provider) Dataset() Dataset {
	if p.dataset == nil {
		return Dataset{}
	}

	return *p.dataset
}

// Initialize downloads the counts and SDRF tables through the cache, parses
// them and assembles the experiment. Repeated calls return the
// already-initialized dataset.
func (p *Provider) Initialize(ctx context.Context) (Dataset, error) {
	if p.dataset != nil {
		return *p.dataset, nil
	}
	if err := p.cfg.validate(); err != nil {
		return Dataset{}, fmt.Errorf("arrayexpress dataset %q: %w", p.cfg.Name, err)
	}

	label := common.Label(p.cfg.Name, p.cfg.Accession)
	p.lggr.Infow("Initializing ArrayExpress dataset", "dataset", p.cfg.Name, "accession", p.cfg.Accession)

	r, err := p.open(ctx, p.cfg.CountsURL, p.cfg.CountsChecksum)
	if err != nil {
		return Dataset{}, fmt.Errorf("%s: %w", label, err)
	}
	counts, err := parse.DenseCounts(p.lggr, r, '\t', p.cfg.CountsURL)
	r.Close()
	if err != nil {
		return Dataset{}, fmt.Errorf("%s: %w", label, err)
	}

	var colData *experiment.Table
	if p.cfg.SDRFURL != "" {
		sr, err := p.open(ctx, p.cfg.SDRFURL, "")
		if err != nil {
			return Dataset{}, fmt.Errorf("%s: %w", label, err)
		}
		table, err := parse.CellMetadata(sr, '\t', p.cfg.SDRFIDColumn, p.cfg.SDRFURL)
		sr.Close()
		if err != nil {
			return Dataset{}, fmt.Errorf("%s: %w", label, err)
		}
		colData, err = parse.AlignMetadata(table, counts.ColIDs(), p.cfg.SDRFURL)
		if err != nil {
			return Dataset{}, fmt.Errorf("%s: %w", label, err)
		}
	}

	exp, err := common.BuildExperiment(p.lggr, counts, colData, p.cfg.SpikePrefix, p.cfg.Fields, label)
	if err != nil {
		return Dataset{}, err
	}

	p.dataset = &Dataset{
		DatasetName: p.cfg.Name,
		AccessionID: p.cfg.Accession,
		Exp:         exp,
	}
	p.lggr.Infow("Initialized ArrayExpress dataset",
		"dataset", p.cfg.Name,
		"genes", exp.NumGenes(),
		"cells", exp.NumCells(),
	)

	return *p.dataset, nil
}

func (p *Provider) open(ctx context.Context, url, checksum string) (io.ReadCloser, error) {
	var opts []fetch.FetchOption
	if checksum != "" {
		opts = append(opts, fetch.WithChecksum(checksum))
	}

	return p.cache.Open(ctx, url, opts...)
}
