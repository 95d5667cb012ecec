package datastore

// BaseDataStore is an interface that defines the basic operations for a data store.
// It is parameterized by the type of dataset reference store, dataset metadata store,
// run metadata store and workspace metadata store it uses.
type BaseDataStore[
	DR DatasetRefStore, DM DatasetMetadataStore, RM RunMetadataStore, WM WorkspaceMetadataStore,
] interface {
	DatasetRefs() DR
	DatasetMetadata() DM
	RunMetadata() RM
	WorkspaceMetadata() WM
}

// DataStore is an interface that defines the operations for a read-only data store.
type DataStore interface {
	BaseDataStore[
		DatasetRefStore, DatasetMetadataStore,
		RunMetadataStore, WorkspaceMetadataStore,
	]
}

// Merger is an interface that defines a method for merging two data stores.
type Merger[T any] interface {
	// Merge merges the given data into the current data store.
	// It should return an error if the merge fails.
	Merge(other T) error
}

// Sealer is an interface that defines a method for sealing a data store.
// A sealed data store cannot be modified further.
type Sealer[T any] interface {
	// Seal seals the data store, preventing further modifications.
	Seal() T
}

// MutableDataStore is an interface that defines the operations for a mutable data store.
type MutableDataStore interface {
	Merger[DataStore]
	Sealer[DataStore]

	BaseDataStore[
		MutableDatasetRefStore, MutableDatasetMetadataStore,
		MutableRunMetadataStore, MutableWorkspaceMetadataStore,
	]
}
