// Package arrayexpress defines datasets published under an ArrayExpress
// experiment accession.
package arrayexpress

import (
	"github.com/crossbatch/scrna-integration-framework/analysis/experiment"
	"github.com/crossbatch/scrna-integration-framework/dataset/internal/common"
)

// Dataset represents a dataset loaded from ArrayExpress.
type Dataset struct {
	// DatasetName is the workflow-facing name, e.g. "segerstolpe".
	DatasetName string
	// AccessionID is the experiment accession, e.g. "E-MTAB-5061".
	AccessionID string
	// Exp holds the parsed counts and annotations.
	Exp *experiment.Experiment
}

// Name returns the workflow-facing name of the dataset.
func (d Dataset) Name() string {
	return d.DatasetName
}

// Accession returns the ArrayExpress experiment accession.
func (d Dataset) Accession() string {
	return d.AccessionID
}

// Repository returns the repository family of the dataset.
func (d Dataset) Repository() string {
	return common.RepositoryArrayExpress
}

// String returns dataset name and accession "<name> (<accession>)".
func (d Dataset) String() string {
	return common.Label(d.DatasetName, d.AccessionID)
}

// Experiment returns the loaded experiment.
func (d Dataset) Experiment() *experiment.Experiment {
	return d.Exp
}
