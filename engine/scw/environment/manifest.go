package environment

import (
	"context"
	"fmt"
	"os"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/crossbatch/scrna-integration-framework/analysis/fetch"
	"github.com/crossbatch/scrna-integration-framework/dataset"
	"github.com/crossbatch/scrna-integration-framework/dataset/arrayexpress"
	"github.com/crossbatch/scrna-integration-framework/dataset/geo"
	"github.com/crossbatch/scrna-integration-framework/helper"
	"github.com/crossbatch/scrna-integration-framework/pkg/logger"
)

// Manifest declares the datasets available to a workflow run, grouped into
// repository families, plus optional workflow parameters. Manifests are YAML:
//
//	datasets:
//	  - name: grun
//	    repository: geo
//	    accession: GSE81076
//	    spikePrefix: ERCC-
//	    counts:
//	      - url: https://ftp.ncbi.nlm.nih.gov/geo/series/.../GSE81076_D2_3_7_10_17.txt.gz
//	    fields:
//	      donor:
//	        pattern: "^(D[0-9]+)"
//	  - name: segerstolpe
//	    repository: arrayexpress
//	    accession: E-MTAB-5061
//	    countsUrl: https://www.ebi.ac.uk/biostudies/files/E-MTAB-5061/...
//	    sdrfUrl: https://www.ebi.ac.uk/biostudies/files/E-MTAB-5061/E-MTAB-5061.sdrf.txt
//	params:
//	  hvg:
//	    n: 2000
type Manifest struct {
	Datasets []DatasetEntry `yaml:"datasets"`
	// Params is the workflow parameter tree. Values exported from R sessions
	// arrive as quoted strings or NA markers; they are coerced on load.
	Params map[string]any `yaml:"params"`
}

// DatasetEntry declares one dataset. The repository family decides which
// fields apply: counts/cellMetadata for geo, countsUrl/sdrfUrl for
// arrayexpress.
type DatasetEntry struct {
	Name        string `yaml:"name"`
	Repository  string `yaml:"repository"`
	Accession   string `yaml:"accession"`
	SpikePrefix string `yaml:"spikePrefix"`

	// GEO series fields.
	Counts       []CountsEntry  `yaml:"counts"`
	CellMetadata *MetadataEntry `yaml:"cellMetadata"`

	// ArrayExpress fields.
	CountsURL      string `yaml:"countsUrl"`
	CountsChecksum string `yaml:"countsChecksum"`
	SDRFURL        string `yaml:"sdrfUrl"`
	SDRFIDColumn   string `yaml:"sdrfIdColumn"`

	Fields map[string]FieldEntry `yaml:"fields"`
}

// CountsEntry declares one counts file of a GEO series.
type CountsEntry struct {
	URL         string `yaml:"url"`
	Checksum    string `yaml:"checksum"`
	Format      string `yaml:"format"`
	Comma       string `yaml:"comma"`
	GenesURL    string `yaml:"genesUrl"`
	BarcodesURL string `yaml:"barcodesUrl"`
}

// MetadataEntry declares an optional per-cell annotation table.
type MetadataEntry struct {
	URL      string `yaml:"url"`
	Checksum string `yaml:"checksum"`
	Comma    string `yaml:"comma"`
	IDColumn string `yaml:"idColumn"`
}

// FieldEntry declares one derived per-cell annotation column.
type FieldEntry struct {
	Column  string `yaml:"column"`
	Pattern string `yaml:"pattern"`
}

// LoadManifest reads and validates a YAML manifest.
func LoadManifest(filePath string) (*Manifest, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", filePath, err)
	}
	if m.Params != nil {
		m.Params = helper.CoerceNumericStrings(m.Params).(map[string]any)
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", filePath, err)
	}

	return &m, nil
}

// Validate checks the manifest for entries no provider could be built from.
func (m *Manifest) Validate() error {
	if len(m.Datasets) == 0 {
		return fmt.Errorf("manifest declares no datasets")
	}

	seen := make(map[string]bool, len(m.Datasets))
	for i, d := range m.Datasets {
		if d.Name == "" {
			return fmt.Errorf("dataset %d has no name", i)
		}
		if seen[d.Name] {
			return fmt.Errorf("dataset %q is declared twice", d.Name)
		}
		seen[d.Name] = true

		if d.Accession == "" {
			return fmt.Errorf("dataset %q has no accession", d.Name)
		}

		switch d.Repository {
		case dataset.RepositoryGEO:
			if len(d.Counts) == 0 {
				return fmt.Errorf("dataset %q: geo datasets need at least one counts entry", d.Name)
			}
			for j, c := range d.Counts {
				if c.URL == "" {
					return fmt.Errorf("dataset %q: counts entry %d has no url", d.Name, j)
				}
				if utf8.RuneCountInString(c.Comma) > 1 {
					return fmt.Errorf("dataset %q: counts entry %d: comma must be a single character", d.Name, j)
				}
			}
		case dataset.RepositoryArrayExpress:
			if d.CountsURL == "" {
				return fmt.Errorf("dataset %q: arrayexpress datasets need a countsUrl", d.Name)
			}
		default:
			return fmt.Errorf("dataset %q: unknown repository %q", d.Name, d.Repository)
		}

		for name, f := range d.Fields {
			if (f.Column == "") == (f.Pattern == "") {
				return fmt.Errorf("dataset %q: field %q needs exactly one of column or pattern", d.Name, name)
			}
		}
	}

	return nil
}

// Collection builds the lazy dataset collection the manifest declares.
// Nothing is downloaded until a workflow asks for a dataset.
func (m *Manifest) Collection(ctx context.Context, cache *fetch.Cache, lggr logger.Logger) (dataset.Collection, error) {
	if err := m.Validate(); err != nil {
		return dataset.Collection{}, err
	}

	var (
		geoProviders []*geo.Provider
		aeProviders  []*arrayexpress.Provider
		supported    = make(map[string]string, len(m.Datasets))
	)
	for _, d := range m.Datasets {
		supported[d.Name] = d.Repository

		switch d.Repository {
		case dataset.RepositoryGEO:
			geoProviders = append(geoProviders, geo.NewProvider(d.geoConfig(), cache, lggr))
		case dataset.RepositoryArrayExpress:
			aeProviders = append(aeProviders, arrayexpress.NewProvider(d.arrayExpressConfig(), cache, lggr))
		}
	}

	loaders := make(map[string]dataset.Loader, 2)
	if len(geoProviders) > 0 {
		loader, err := dataset.NewLoader[geo.Dataset](geoProviders...)
		if err != nil {
			return dataset.Collection{}, fmt.Errorf("failed to build the GEO loader: %w", err)
		}
		loaders[dataset.RepositoryGEO] = loader
	}
	if len(aeProviders) > 0 {
		loader, err := dataset.NewLoader[arrayexpress.Dataset](aeProviders...)
		if err != nil {
			return dataset.Collection{}, fmt.Errorf("failed to build the ArrayExpress loader: %w", err)
		}
		loaders[dataset.RepositoryArrayExpress] = loader
	}

	return dataset.NewLazyCollection(ctx, supported, loaders, lggr), nil
}

func (d DatasetEntry) fieldRules() map[string]dataset.FieldRule {
	if len(d.Fields) == 0 {
		return nil
	}

	rules := make(map[string]dataset.FieldRule, len(d.Fields))
	for name, f := range d.Fields {
		rules[name] = dataset.FieldRule{Column: f.Column, Pattern: f.Pattern}
	}

	return rules
}

func (d DatasetEntry) geoConfig() geo.ProviderConfig {
	counts := make([]geo.CountsSource, len(d.Counts))
	for i, c := range d.Counts {
		var comma rune
		if c.Comma != "" {
			comma, _ = utf8.DecodeRuneInString(c.Comma)
		}
		counts[i] = geo.CountsSource{
			URL:         c.URL,
			Checksum:    c.Checksum,
			Format:      geo.CountsFormat(c.Format),
			Comma:       comma,
			GenesURL:    c.GenesURL,
			BarcodesURL: c.BarcodesURL,
		}
	}

	cfg := geo.ProviderConfig{
		Name:        d.Name,
		Series:      d.Accession,
		Counts:      counts,
		SpikePrefix: d.SpikePrefix,
		Fields:      d.fieldRules(),
	}
	if d.CellMetadata != nil {
		var comma rune
		if d.CellMetadata.Comma != "" {
			comma, _ = utf8.DecodeRuneInString(d.CellMetadata.Comma)
		}
		cfg.CellMetadata = &geo.MetadataSource{
			URL:      d.CellMetadata.URL,
			Checksum: d.CellMetadata.Checksum,
			Comma:    comma,
			IDColumn: d.CellMetadata.IDColumn,
		}
	}

	return cfg
}

func (d DatasetEntry) arrayExpressConfig() arrayexpress.ProviderConfig {
	return arrayexpress.ProviderConfig{
		Name:           d.Name,
		Accession:      d.Accession,
		CountsURL:      d.CountsURL,
		CountsChecksum: d.CountsChecksum,
		SDRFURL:        d.SDRFURL,
		SDRFIDColumn:   d.SDRFIDColumn,
		SpikePrefix:    d.SpikePrefix,
		Fields:         d.fieldRules(),
	}
}
