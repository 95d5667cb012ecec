package datastore

// datasetRefKey implements the DatasetRefKey interface.
var _ DatasetRefKey = datasetRefKey{}

// datasetRefKey is a struct that implements the DatasetRefKey interface.
// It is used to uniquely identify a record in the DatasetRefStore.
type datasetRefKey struct {
	repository string
	accession  string
	qualifier  string
}

// Repository returns the repository family the dataset lives in.
func (k datasetRefKey) Repository() string { return k.repository }

// Accession returns the repository accession of the dataset.
func (k datasetRefKey) Accession() string { return k.accession }

// Qualifier returns the optional qualifier for the reference.
func (k datasetRefKey) Qualifier() string { return k.qualifier }

// Equals returns true if the two DatasetRefKey instances are equal, false otherwise.
func (k datasetRefKey) Equals(other DatasetRefKey) bool {
	return k.repository == other.Repository() &&
		k.accession == other.Accession() &&
		k.qualifier == other.Qualifier()
}

// NewDatasetRefKey creates a new DatasetRefKey instance.
func NewDatasetRefKey(repository, accession, qualifier string) DatasetRefKey {
	return datasetRefKey{
		repository: repository,
		accession:  accession,
		qualifier:  qualifier,
	}
}
