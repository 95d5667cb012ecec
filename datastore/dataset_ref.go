package datastore

import (
	"errors"

	"github.com/Masterminds/semver/v3"

	"github.com/crossbatch/scrna-integration-framework/internal/pointer"
)

var ErrDatasetRefNotFound = errors.New("no dataset reference can be found for the provided key")
var ErrDatasetRefExists = errors.New("a dataset reference with the supplied key already exists")

// DatasetRef implements the UniqueRecord interface.
var _ UniqueRecord[DatasetRefKey, DatasetRef] = DatasetRef{}

// DatasetRef is a pointer to a dataset in a repository. It records where the
// counts live, not the counts themselves, so a catalog of references stays
// cheap to serialize and merge.
type DatasetRef struct {
	// Repository is the repository family the dataset lives in (geo, arrayexpress, local).
	Repository string `json:"repository"`
	// Accession is the repository accession of the dataset, e.g. a GEO series.
	Accession string `json:"accession"`
	// Name is the short name the dataset is registered under in a Collection.
	Name string `json:"name"`
	// Version is the semantic version of the reference. Bumped when the
	// upstream files are re-quantified or re-annotated.
	Version *semver.Version `json:"version"`
	// URI locates the primary counts file for the dataset.
	URI string `json:"uri"`
	// Labels is an optional set of free-form labels for the reference.
	Labels LabelSet `json:"labels,omitempty"`
	// Qualifier is an optional qualifier distinguishing references that share
	// a repository and accession.
	Qualifier string `json:"qualifier,omitempty"`
}

// Clone creates a copy of the DatasetRef.
func (r DatasetRef) Clone() DatasetRef {
	var version *semver.Version
	if r.Version != nil {
		version = pointer.To(*r.Version)
	}

	return DatasetRef{
		Repository: r.Repository,
		Accession:  r.Accession,
		Name:       r.Name,
		Version:    version,
		URI:        r.URI,
		Labels:     r.Labels.Clone(),
		Qualifier:  r.Qualifier,
	}
}

// Key returns the DatasetRefKey for the DatasetRef.
// It is used to uniquely identify the reference in the datastore.
func (r DatasetRef) Key() DatasetRefKey {
	return NewDatasetRefKey(r.Repository, r.Accession, r.Qualifier)
}
