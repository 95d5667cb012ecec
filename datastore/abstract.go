package datastore

import (
	"github.com/Masterminds/semver/v3"
)

// Comparable provides an Equals() method which returns true if the two instances are equal, false otherwise.
type Comparable[T any] interface {
	// Equals returns true if the two instances are equal, false otherwise.
	Equals(T) bool
}

// Fetcher provides a Fetch() method which is used to complete a read query from a Store.
type Fetcher[R any] interface {
	// Fetch returns a slice of records representing the entire data set. The returned slice
	// will be a newly allocated slice (not a reference to an existing one), and each record should
	// be a copy of the corresponding stored data. Modifying the returned slice or its records must
	// not affect the underlying data.
	Fetch() ([]R, error)
}

// Getter provides a Get() method which is used to complete a read by key query from a Store.
type Getter[K Comparable[K], R UniqueRecord[K, R]] interface {
	// Get returns the record with the given key, or an error if no such record exists.
	Get(K) (R, error)
}

// PrimaryKeyHolder is an interface for types that can provide a unique identifier key for themselves.
type PrimaryKeyHolder[K Comparable[K]] interface {
	// Key returns the primary key for the implementing type.
	Key() K
}

// UniqueRecord represents a data entry that is uniquely identifiable by its primary key.
type UniqueRecord[K Comparable[K], R PrimaryKeyHolder[K]] interface {
	PrimaryKeyHolder[K]
}

// FilterFunc is a function that filters a slice of records.
type FilterFunc[K Comparable[K], R UniqueRecord[K, R]] func([]R) []R

// Filterable provides a Filter() method which is used to complete a filtered query with from a Store.
type Filterable[K Comparable[K], R UniqueRecord[K, R]] interface {
	Filter(filters ...FilterFunc[K, R]) []R
}

// Store is an interface that represents an immutable set of records.
type Store[K Comparable[K], R UniqueRecord[K, R]] interface {
	Fetcher[R]
	Getter[K, R]
	Filterable[K, R]
}

// MutableStore is an interface that represents a mutable set of records.
type MutableStore[K Comparable[K], R UniqueRecord[K, R]] interface {
	Store[K, R]

	// Add inserts a new record into the MutableStore.
	Add(record R) error

	// Upsert behaves like Add where there is not already a record with the same composite primary key as the
	// supplied record, otherwise it behaves like an update.
	Upsert(record R) error

	// Update edits an existing record whose primary key elements match the supplied record, with
	// the non-primary-key values of the supplied record.
	Update(record R) error

	// Delete deletes record whose primary key elements match the supplied key, returning an error if no
	// such record exists to be deleted
	Delete(key K) error
}

// UnaryStore is an interface that represents a read-only store that is limited to a single record.
type UnaryStore[R any] interface {
	// Get returns the record or an error.
	// If the record exists, the error should be nil.
	// If the record does not exist, the error should not be nil.
	Get() (R, error)
}

// MutableUnaryStore is an interface that represents a mutable store that contains a single record.
type MutableUnaryStore[R any] interface {
	// Get returns a copy of the record or an error.
	// If the record exists, the error should be nil.
	// If the record does not exist, the error should not be nil.
	Get() (R, error)

	// Set sets the record in the store.
	// If the record already exists, it should be replaced.
	// If the record does not exist, it should be added.
	Set(record R) error
}

// DatasetRefStore is an interface that represents an immutable view over a set
// of DatasetRef records identified by DatasetRefKey.
type DatasetRefStore interface {
	Store[DatasetRefKey, DatasetRef]
}

// MutableDatasetRefStore is an interface that represents a mutable DatasetRefStore
// of DatasetRef records identified by DatasetRefKey.
type MutableDatasetRefStore interface {
	MutableStore[DatasetRefKey, DatasetRef]
}

// DatasetMetadataStore is an interface that represents an immutable view over a set
// of DatasetMetadata records identified by DatasetMetadataKey.
type DatasetMetadataStore interface {
	Store[DatasetMetadataKey, DatasetMetadata]
}

// MutableDatasetMetadataStore is an interface that represents a mutable DatasetMetadataStore
// of DatasetMetadata records identified by DatasetMetadataKey.
type MutableDatasetMetadataStore interface {
	MutableStore[DatasetMetadataKey, DatasetMetadata]
}

// RunMetadataStore is an interface that represents an immutable view over a set
// of RunMetadata records identified by RunMetadataKey.
type RunMetadataStore interface {
	Store[RunMetadataKey, RunMetadata]
}

// MutableRunMetadataStore is an interface that represents a mutable RunMetadataStore
// of RunMetadata records identified by RunMetadataKey.
type MutableRunMetadataStore interface {
	MutableStore[RunMetadataKey, RunMetadata]
}

// WorkspaceMetadataStore is an interface that defines the methods for a store that manages
// the singleton workspace metadata record.
type WorkspaceMetadataStore interface {
	UnaryStore[WorkspaceMetadata]
}

// MutableWorkspaceMetadataStore is an interface that defines the methods for a mutable store
// that manages the singleton workspace metadata record.
type MutableWorkspaceMetadataStore interface {
	MutableUnaryStore[WorkspaceMetadata]
}

// DatasetRefKey is an interface that represents a key for DatasetRef records.
// It is used to uniquely identify a record in the DatasetRefStore.
type DatasetRefKey interface {
	Comparable[DatasetRefKey]

	// Repository returns the repository family the dataset lives in (geo, arrayexpress, local).
	Repository() string
	// Accession returns the repository accession of the dataset.
	Accession() string
	// Qualifier returns the optional qualifier for the reference.
	// This can be used to differentiate between different references of the same dataset,
	// for example a re-quantified copy of a series.
	Qualifier() string
}

// DatasetMetadataKey is an interface that represents a key for DatasetMetadata records.
// It is used to uniquely identify a record in the DatasetMetadataStore.
type DatasetMetadataKey interface {
	Comparable[DatasetMetadataKey]

	// Repository returns the repository family the dataset lives in.
	Repository() string
	// Accession returns the repository accession of the dataset.
	Accession() string
}

// RunMetadataKey is an interface that represents a key for RunMetadata records.
// It is used to uniquely identify a record in the RunMetadataStore.
type RunMetadataKey interface {
	Comparable[RunMetadataKey]

	// RunID returns the KSUID of the workflow run.
	RunID() string
}

// versionsEqual compares two possibly-nil semantic versions.
func versionsEqual(a, b *semver.Version) bool {
	if a == nil || b == nil {
		return a == b
	}

	return a.Equal(b)
}
