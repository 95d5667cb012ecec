// Package local defines directory-backed datasets for tests and offline use.
package local

import (
	"github.com/crossbatch/scrna-integration-framework/analysis/experiment"
	"github.com/crossbatch/scrna-integration-framework/dataset/internal/common"
)

// Dataset represents a dataset loaded from a local directory.
type Dataset struct {
	// DatasetName is the workflow-facing name.
	DatasetName string
	// Dir is the directory the dataset was loaded from.
	Dir string
	// Exp holds the parsed counts and annotations.
	Exp *experiment.Experiment
}

// Name returns the workflow-facing name of the dataset.
func (d Dataset) Name() string {
	return d.DatasetName
}

// Accession returns the backing directory, which stands in for an accession.
func (d Dataset) Accession() string {
	return d.Dir
}

// Repository returns the repository family of the dataset.
func (d Dataset) Repository() string {
	return common.RepositoryLocal
}

// String returns dataset name and accession "<name> (<accession>)".
func (d Dataset) String() string {
	return common.Label(d.DatasetName, d.Dir)
}

// Experiment returns the loaded experiment.
func (d Dataset) Experiment() *experiment.Experiment {
	return d.Exp
}
