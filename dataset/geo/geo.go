// Package geo defines datasets published as supplementary files of a GEO
// series.
package geo

import (
	"github.com/crossbatch/scrna-integration-framework/analysis/experiment"
	"github.com/crossbatch/scrna-integration-framework/dataset/internal/common"
)

// Dataset represents a dataset loaded from a GEO series.
type Dataset struct {
	// DatasetName is the workflow-facing name, e.g. "grun".
	DatasetName string
	// Series is the GEO series accession, e.g. "GSE81076".
	Series string
	// Exp holds the parsed counts and annotations.
	Exp *experiment.Experiment
}

// Name returns the workflow-facing name of the dataset.
func (d Dataset) Name() string {
	return d.DatasetName
}

// Accession returns the GEO series accession.
func (d Dataset) Accession() string {
	return d.Series
}

// Repository returns the repository family of the dataset.
func (d Dataset) Repository() string {
	return common.RepositoryGEO
}

// String returns dataset name and accession "<name> (<accession>)".
func (d Dataset) String() string {
	return common.Label(d.DatasetName, d.Series)
}

// Experiment returns the loaded experiment.
func (d Dataset) Experiment() *experiment.Experiment {
	return d.Exp
}
