package dataset

import (
	"context"
	"errors"

	"github.com/crossbatch/scrna-integration-framework/analysis/experiment"
	"github.com/crossbatch/scrna-integration-framework/dataset/internal/common"
)

// ErrDatasetNotFound is returned when a collection has no dataset under the
// requested name.
var ErrDatasetNotFound = errors.New("dataset not found")

// Repository identifiers for the supported dataset sources.
const (
	RepositoryGEO          = common.RepositoryGEO
	RepositoryArrayExpress = common.RepositoryArrayExpress
	RepositoryLocal        = common.RepositoryLocal
)

// FieldRule derives a per-cell annotation column from existing metadata or
// from the cell IDs. Re-exported so provider configurations can be written
// outside the dataset packages.
type FieldRule = common.FieldRule

// Dataset is an interface that represents a loaded single-cell dataset.
// A dataset can come from GEO, ArrayExpress or a local directory.
type Dataset interface {
	// String returns dataset name and accession "<name> (<accession>)"
	String() string
	// Name returns the workflow-facing name of the dataset
	Name() string
	Accession() string
	Repository() string
	Experiment() *experiment.Experiment
}

// Provider is an interface for dataset providers that can initialize a
// dataset instance, typically by downloading and parsing its source files.
type Provider interface {
	Initialize(ctx context.Context) (Dataset, error)
	Name() string
	Accession() string
	Dataset() Dataset
}

// Loader is an interface for loading a dataset instance lazily.
// It's used by the lazy loading mechanism in Collection to load datasets
// on-demand.
type Loader interface {
	Load(ctx context.Context, name string) (Dataset, error)
}
