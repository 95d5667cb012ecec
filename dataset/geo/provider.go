package geo

import (
	"context"
	"fmt"
	"io"

	"github.com/crossbatch/scrna-integration-framework/analysis/experiment"
	"github.com/crossbatch/scrna-integration-framework/analysis/fetch"
	"github.com/crossbatch/scrna-integration-framework/analysis/matrix"
	"github.com/crossbatch/scrna-integration-framework/dataset/internal/common"
	"github.com/crossbatch/scrna-integration-framework/dataset/internal/parse"
	"github.com/crossbatch/scrna-integration-framework/pkg/logger"
)

// CountsFormat selects the parser for a counts source.
type CountsFormat string

const (
	// FormatDense is a delimited table with a cell-ID header and one row
	// per gene. The default.
	FormatDense CountsFormat = "dense"
	// FormatMatrixMarket is a coordinate triplet file with companion gene
	// and barcode lists.
	FormatMatrixMarket CountsFormat = "matrix-market"
)

// CountsSource describes one supplementary counts file of a series.
type CountsSource struct {
	// URL of the counts file; gzip is handled transparently by extension.
	URL string
	// Checksum optionally pins the file to a hex SHA-256.
	Checksum string
	// Format selects the parser. Defaults to FormatDense.
	Format CountsFormat
	// Comma is the field separator for dense tables. Defaults to tab.
	Comma rune
	// GenesURL and BarcodesURL are the MatrixMarket companion lists.
	GenesURL    string
	BarcodesURL string
}

// MetadataSource describes an optional per-cell annotation table.
type MetadataSource struct {
	URL string
	// Checksum optionally pins the file to a hex SHA-256.
	Checksum string
	// Comma is the field separator. Defaults to tab.
	Comma rune
	// IDColumn names the cell-ID column. Defaults to the first column.
	IDColumn string
}

// ProviderConfig describes how to load one dataset from a GEO series.
type ProviderConfig struct {
	// Name is the workflow-facing dataset name, e.g. "grun".
	Name string
	// Series is the GEO series accession, e.g. "GSE81076".
	Series string
	// Counts lists the supplementary counts files. Several files bind
	// column-wise over a shared gene universe.
	Counts []CountsSource
	// CellMetadata optionally supplies a per-cell annotation table, aligned
	// to the matrix columns.
	CellMetadata *MetadataSource
	// SpikePrefix marks rows whose gene ID carries this prefix as spike-in
	// controls, e.g. "ERCC-".
	SpikePrefix string
	// Fields derives per-cell annotation columns, keyed by column name
	// (e.g. "donor", "plate").
	Fields map[string]common.FieldRule
}

func (c ProviderConfig) validate() error {
	if c.Name == "" {
		return fmt.Errorf("dataset name is required")
	}
	if c.Series == "" {
		return fmt.Errorf("series accession is required")
	}
	if len(c.Counts) == 0 {
		return fmt.Errorf("at least one counts source is required")
	}
	for i, src := range c.Counts {
		if src.URL == "" {
			return fmt.Errorf("counts source %d has no URL", i)
		}
		switch src.Format {
		case "", FormatDense:
		case FormatMatrixMarket:
			if src.GenesURL == "" || src.BarcodesURL == "" {
				return fmt.Errorf("counts source %d: matrix-market requires genes and barcodes URLs", i)
			}
		default:
			return fmt.Errorf("counts source %d: unknown format %q", i, src.Format)
		}
	}
	if c.CellMetadata != nil && c.CellMetadata.URL == "" {
		return fmt.Errorf("cell metadata has no URL")
	}

	return nil
}

// Provider downloads and parses a GEO series dataset.
type Provider struct {
	cfg   ProviderConfig
	cache *fetch.Cache
	lggr  logger.Logger

	dataset *Dataset
}

// NewProvider creates a provider for one GEO dataset.
func NewProvider(cfg ProviderConfig, cache *fetch.Cache, lggr logger.Logger) *Provider {
	return &Provider{cfg: cfg, cache: cache, lggr: lggr}
}

// Name returns the workflow-facing dataset name.
func (p *Provider) Name() string {
	return p.cfg.Name
}

// Accession returns the GEO series accession.
func (p *Provider) Accession() string {
	return p.cfg.Series
}

// Dataset returns the initialized dataset, or the zero Dataset before
// Initialize has succeeded.
func (p *Provider) Dataset() Dataset {
	if p.dataset == nil {
		return Dataset{}
	}

	return *p.dataset
}

// Initialize downloads the series files through the cache, parses them and
// assembles the experiment. Repeated calls return the already-initialized
// dataset.
func (p *Provider) Initialize(ctx context.Context) (Dataset, error) {
	if p.dataset != nil {
		return *p.dataset, nil
	}
	if err := p.cfg.validate(); err != nil {
		return Dataset{}, fmt.Errorf("geo dataset %q: %w", p.cfg.Name, err)
	}

	label := common.Label(p.cfg.Name, p.cfg.Series)
	p.lggr.Infow("Initializing GEO dataset", "dataset", p.cfg.Name, "series", p.cfg.Series)

	var counts *matrix.Sparse
	for i, src := range p.cfg.Counts {
		sp, err := p.parseCounts(ctx, src)
		if err != nil {
			return Dataset{}, fmt.Errorf("%s: counts source %d: %w", label, i, err)
		}
		if counts == nil {
			counts = sp
			continue
		}
		counts, err = counts.Bind(sp)
		if err != nil {
			return Dataset{}, fmt.Errorf("%s: binding counts source %d: %w", label, i, err)
		}
	}

	var colData *experiment.Table
	if m := p.cfg.CellMetadata; m != nil {
		table, err := p.parseMetadata(ctx, m)
		if err != nil {
			return Dataset{}, fmt.Errorf("%s: %w", label, err)
		}
		colData, err = parse.AlignMetadata(table, counts.ColIDs(), m.URL)
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
		Series:      p.cfg.Series,
		Exp:         exp,
	}
	p.lggr.Infow("Initialized GEO dataset",
		"dataset", p.cfg.Name,
		"genes", exp.NumGenes(),
		"cells", exp.NumCells(),
	)

	return *p.dataset, nil
}

func (p *Provider) parseCounts(ctx context.Context, src CountsSource) (*matrix.Sparse, error) {
	r, err := p.open(ctx, src.URL, src.Checksum)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	if src.Format == FormatMatrixMarket {
		genes, err := p.open(ctx, src.GenesURL, "")
		if err != nil {
			return nil, err
		}
		defer genes.Close()
		cells, err := p.open(ctx, src.BarcodesURL, "")
		if err != nil {
			return nil, err
		}
		defer cells.Close()

		return parse.MatrixMarket(p.lggr, r, genes, cells, src.URL)
	}

	comma := src.Comma
	if comma == 0 {
		comma = '\t'
	}

	return parse.DenseCounts(p.lggr, r, comma, src.URL)
}

func (p *Provider) parseMetadata(ctx context.Context, m *MetadataSource) (*experiment.Table, error) {
	r, err := p.open(ctx, m.URL, m.Checksum)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	comma := m.Comma
	if comma == 0 {
		comma = '\t'
	}

	return parse.CellMetadata(r, comma, m.IDColumn, m.URL)
}

func (p *Provider) open(ctx context.Context, url, checksum string) (io.ReadCloser, error) {
	var opts []fetch.FetchOption
	if checksum != "" {
		opts = append(opts, fetch.WithChecksum(checksum))
	}

	return p.cache.Open(ctx, url, opts...)
}
