package integrate

import (
	"context"
	"fmt"

	"github.com/crossbatch/scrna-integration-framework/analysis/fetch"
	"github.com/crossbatch/scrna-integration-framework/dataset"
	"github.com/crossbatch/scrna-integration-framework/dataset/arrayexpress"
	"github.com/crossbatch/scrna-integration-framework/dataset/geo"
	"github.com/crossbatch/scrna-integration-framework/pkg/logger"
)

// The four human pancreas datasets the reference analysis integrates. Each
// was produced with a different protocol, which is what makes the set a
// worthwhile correction benchmark.
const (
	DatasetGrun        = "grun"        // GSE81076, CEL-seq2
	DatasetMuraro      = "muraro"      // GSE85241, CEL-seq
	DatasetLawlor      = "lawlor"      // GSE86469, SMARTer
	DatasetSegerstolpe = "segerstolpe" // E-MTAB-5061, Smart-seq2
)

// PancreasDatasets lists the manifest's dataset names in merge order:
// largest plate-based sets first.
var PancreasDatasets = []string{DatasetGrun, DatasetMuraro, DatasetSegerstolpe, DatasetLawlor}

// pancreasSpikePrefix marks the External RNA Controls Consortium spike-in
// rows present in the plate-based datasets.
const pancreasSpikePrefix = "ERCC-"

func grunProvider(cache *fetch.Cache, lggr logger.Logger) *geo.Provider {
	return geo.NewProvider(geo.ProviderConfig{
		Name:   DatasetGrun,
		Series: "GSE81076",
		Counts: []geo.CountsSource{{
			URL: "https://ftp.ncbi.nlm.nih.gov/geo/series/GSE81nnn/GSE81076/suppl/GSE81076_D2_3_7_10_17.txt.gz",
		}},
		SpikePrefix: pancreasSpikePrefix,
		Fields: map[string]dataset.FieldRule{
			// Cell IDs look like "D2ex_34": donor, then protocol tag.
			"donor": {Pattern: `^(D[0-9]+)`},
		},
	}, cache, lggr)
}

func muraroProvider(cache *fetch.Cache, lggr logger.Logger) *geo.Provider {
	return geo.NewProvider(geo.ProviderConfig{
		Name:   DatasetMuraro,
		Series: "GSE85241",
		Counts: []geo.CountsSource{{
			URL: "https://ftp.ncbi.nlm.nih.gov/geo/series/GSE85nnn/GSE85241/suppl/GSE85241_cellsystems_dataset_4donors_updated.csv.gz",
		}},
		SpikePrefix: pancreasSpikePrefix,
		Fields: map[string]dataset.FieldRule{
			// Cell IDs look like "D28.1_13": donor, plate, well.
			"donor": {Pattern: `^(D[0-9]+)`},
		},
	}, cache, lggr)
}

func lawlorProvider(cache *fetch.Cache, lggr logger.Logger) *geo.Provider {
	return geo.NewProvider(geo.ProviderConfig{
		Name:   DatasetLawlor,
		Series: "GSE86469",
		Counts: []geo.CountsSource{{
			URL:   "https://ftp.ncbi.nlm.nih.gov/geo/series/GSE86nnn/GSE86469/suppl/GSE86469_GEO.islet.single.cell.processed.data.RSEM.raw.expected.counts.csv.gz",
			Comma: ',',
		}},
		// Droplet-free SMARTer libraries without spike-ins; QC falls back to
		// library size and detected genes.
	}, cache, lggr)
}

func segerstolpeProvider(cache *fetch.Cache, lggr logger.Logger) *arrayexpress.Provider {
	return arrayexpress.NewProvider(arrayexpress.ProviderConfig{
		Name:        DatasetSegerstolpe,
		Accession:   "E-MTAB-5061",
		CountsURL:   "https://www.ebi.ac.uk/biostudies/files/E-MTAB-5061/pancreas_refseq_rpkms_counts_3514sc.txt",
		SDRFURL:     "https://www.ebi.ac.uk/biostudies/files/E-MTAB-5061/E-MTAB-5061.sdrf.txt",
		SpikePrefix: pancreasSpikePrefix,
		Fields: map[string]dataset.FieldRule{
			"donor": {Column: "Characteristics[individual]"},
		},
	}, cache, lggr)
}

// NewPancreasCollection builds the lazy collection over the four pancreas
// datasets. Nothing is downloaded until a workflow asks for a dataset.
func NewPancreasCollection(ctx context.Context, cache *fetch.Cache, lggr logger.Logger) (dataset.Collection, error) {
	geoLoader, err := dataset.NewLoader[geo.Dataset](
		grunProvider(cache, lggr),
		muraroProvider(cache, lggr),
		lawlorProvider(cache, lggr),
	)
	if err != nil {
		return dataset.Collection{}, fmt.Errorf("failed to build the GEO loader: %w", err)
	}
	aeLoader, err := dataset.NewLoader[arrayexpress.Dataset](segerstolpeProvider(cache, lggr))
	if err != nil {
		return dataset.Collection{}, fmt.Errorf("failed to build the ArrayExpress loader: %w", err)
	}

	return dataset.NewLazyCollection(ctx,
		map[string]string{
			DatasetGrun:        dataset.RepositoryGEO,
			DatasetMuraro:      dataset.RepositoryGEO,
			DatasetLawlor:      dataset.RepositoryGEO,
			DatasetSegerstolpe: dataset.RepositoryArrayExpress,
		},
		map[string]dataset.Loader{
			dataset.RepositoryGEO:          geoLoader,
			dataset.RepositoryArrayExpress: aeLoader,
		},
		lggr,
	), nil
}

// PancreasConfig is the reference configuration over the four-dataset
// manifest: defaults everywhere, ERCC spike handling and the canonical
// islet marker panel.
func PancreasConfig() Config {
	cfg := DefaultConfig()
	cfg.Datasets = append([]string(nil), PancreasDatasets...)
	cfg.SpikePrefix = pancreasSpikePrefix
	cfg.HVG.N = 2000
	cfg.MarkerGenes = []string{
		"INS",    // beta
		"GCG",    // alpha
		"SST",    // delta
		"PPY",    // gamma
		"GHRL",   // epsilon
		"PRSS1",  // acinar
		"KRT19",  // ductal
		"PECAM1", // endothelial
	}

	return cfg
}
