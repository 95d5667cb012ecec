package local

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/crossbatch/scrna-integration-framework/analysis/experiment"
	"github.com/crossbatch/scrna-integration-framework/dataset/internal/common"
	"github.com/crossbatch/scrna-integration-framework/dataset/internal/parse"
	"github.com/crossbatch/scrna-integration-framework/pkg/logger"
)

// Default file names inside a dataset directory.
const (
	DefaultCountsFile  = "counts.tsv"
	DefaultColDataFile = "coldata.csv"
)

// ProviderConfig describes a directory-backed dataset: a counts table and
// an optional cell-annotation table, both possibly gzipped.
type ProviderConfig struct {
	// Name is the workflow-facing dataset name.
	Name string
	// Dir is the dataset directory.
	Dir string
	// CountsFile is the counts table file name. Defaults to
	// DefaultCountsFile.
	CountsFile string
	// Comma is the counts field separator. Defaults to tab.
	Comma rune
	// ColDataFile is the cell-annotation file name. Defaults to
	// DefaultColDataFile when that file exists; empty skips annotations.
	ColDataFile string
	// ColDataComma is the annotation field separator. Defaults to comma.
	ColDataComma rune
	// IDColumn names the annotation cell-ID column. Defaults to the first
	// column.
	IDColumn string
	// SpikePrefix marks spike-in control rows by gene-ID prefix.
	SpikePrefix string
	// Fields derives per-cell annotation columns, keyed by column name.
	Fields map[string]common.FieldRule
}

// Provider loads a dataset from a local directory.
type Provider struct {
	cfg  ProviderConfig
	lggr logger.Logger

	dataset *Dataset
}

// NewProvider creates a provider for one directory-backed dataset.
func NewProvider(cfg ProviderConfig, lggr logger.Logger) *Provider {
	return &Provider{cfg: cfg, lggr: lggr}
}

// Name returns the workflow-facing dataset name.
func (p *Provider) Name() string {
	return p.cfg.Name
}

// Accession returns the backing directory, which stands in for an
// accession.
func (p *Provider) Accession() string {
	return p.cfg.Dir
}

// Dataset returns the initialized dataset, or the zero Dataset before
// Initialize has succeeded.
func (p *Provider) Dataset() Dataset {
	if p.dataset == nil {
		return Dataset{}
	}

	return *p.dataset
}

// Initialize parses the directory's files and assembles the experiment.
// Repeated calls return the already-initialized dataset. The context is
// accepted for interface symmetry; local reads do not block on it.
func (p *Provider) Initialize(_ context.Context) (Dataset, error) {
	if p.dataset != nil {
		return *p.dataset, nil
	}
	if p.cfg.Name == "" {
		return Dataset{}, fmt.Errorf("local dataset: name is required")
	}
	if p.cfg.Dir == "" {
		return Dataset{}, fmt.Errorf("local dataset %q: directory is required", p.cfg.Name)
	}

	label := common.Label(p.cfg.Name, p.cfg.Dir)

	countsFile := p.cfg.CountsFile
	if countsFile == "" {
		countsFile = DefaultCountsFile
	}
	comma := p.cfg.Comma
	if comma == 0 {
		comma = '\t'
	}

	countsPath := filepath.Join(p.cfg.Dir, countsFile)
	r, err := openMaybeGzip(countsPath)
	if err != nil {
		return Dataset{}, fmt.Errorf("%s: %w", label, err)
	}
	counts, err := parse.DenseCounts(p.lggr, r, comma, countsPath)
	r.Close()
	if err != nil {
		return Dataset{}, fmt.Errorf("%s: %w", label, err)
	}

	colData, err := p.loadColData(label, counts.ColIDs())
	if err != nil {
		return Dataset{}, err
	}

	exp, err := common.BuildExperiment(p.lggr, counts, colData, p.cfg.SpikePrefix, p.cfg.Fields, label)
	if err != nil {
		return Dataset{}, err
	}

	p.dataset = &Dataset{
		DatasetName: p.cfg.Name,
		Dir:         p.cfg.Dir,
		Exp:         exp,
	}
	p.lggr.Infow("Initialized local dataset",
		"dataset", p.cfg.Name,
		"dir", p.cfg.Dir,
		"genes", exp.NumGenes(),
		"cells", exp.NumCells(),
	)

	return *p.dataset, nil
}

func (p *Provider) loadColData(label string, colIDs []string) (*experiment.Table, error) {
	file := p.cfg.ColDataFile
	optional := false
	if file == "" {
		file = DefaultColDataFile
		optional = true
	}

	path := filepath.Join(p.cfg.Dir, file)
	r, err := openMaybeGzip(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("%s: %w", label, err)
	}
	defer r.Close()

	comma := p.cfg.ColDataComma
	if comma == 0 {
		comma = ','
	}
	table, err := parse.CellMetadata(r, comma, p.cfg.IDColumn, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", label, err)
	}

	aligned, err := parse.AlignMetadata(table, colIDs, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", label, err)
	}

	return aligned, nil
}

func openMaybeGzip(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}

	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to open gzip %s: %w", path, err)
	}

	return &gzipFile{gz: gz, f: f}, nil
}

type gzipFile struct {
	gz *gzip.Reader
	f  *os.File
}

func (r *gzipFile) Read(p []byte) (int, error) {
	return r.gz.Read(p)
}

func (r *gzipFile) Close() error {
	gzErr := r.gz.Close()
	fErr := r.f.Close()
	if gzErr != nil {
		return gzErr
	}

	return fErr
}
