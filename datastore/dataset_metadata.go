package datastore

import "errors"

var ErrDatasetMetadataNotFound = errors.New("no dataset metadata record can be found for the provided key")
var ErrDatasetMetadataExists = errors.New("a dataset metadata record with the supplied key already exists")

// DatasetMetadata implements the UniqueRecord interface.
var _ UniqueRecord[DatasetMetadataKey, DatasetMetadata] = DatasetMetadata{}

// DatasetMetadata is a struct that holds the metadata for a specific dataset,
// such as QC summaries or protocol annotations.
// NOTE: Metadata can be of any type. To convert from any to a specific type, use the utility method As.
type DatasetMetadata struct {
	// Repository is the repository family the dataset lives in.
	Repository string `json:"repository"`
	// Accession is the repository accession of the dataset the metadata belongs to.
	Accession string `json:"accession"`
	// Metadata is the metadata associated with the dataset.
	Metadata any `json:"metadata"`
}

// Clone creates a copy of the DatasetMetadata.
func (r DatasetMetadata) Clone() (DatasetMetadata, error) {
	metaClone, err := clone(r.Metadata)
	if err != nil {
		return DatasetMetadata{}, err
	}

	return DatasetMetadata{
		Repository: r.Repository,
		Accession:  r.Accession,
		Metadata:   metaClone,
	}, nil
}

// Key returns the DatasetMetadataKey for the DatasetMetadata.
// It is used to uniquely identify the dataset metadata in the datastore.
func (r DatasetMetadata) Key() DatasetMetadataKey {
	return NewDatasetMetadataKey(r.Repository, r.Accession)
}

// datasetMetadataKey implements the DatasetMetadataKey interface.
var _ DatasetMetadataKey = datasetMetadataKey{}

type datasetMetadataKey struct {
	repository string
	accession  string
}

// Repository returns the repository family the dataset lives in.
func (k datasetMetadataKey) Repository() string { return k.repository }

// Accession returns the repository accession of the dataset.
func (k datasetMetadataKey) Accession() string { return k.accession }

// Equals returns true if the two DatasetMetadataKey instances are equal, false otherwise.
func (k datasetMetadataKey) Equals(other DatasetMetadataKey) bool {
	return k.repository == other.Repository() && k.accession == other.Accession()
}

// NewDatasetMetadataKey creates a new DatasetMetadataKey instance.
func NewDatasetMetadataKey(repository, accession string) DatasetMetadataKey {
	return datasetMetadataKey{
		repository: repository,
		accession:  accession,
	}
}
