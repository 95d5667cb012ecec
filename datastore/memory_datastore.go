package datastore

import (
	"encoding/json"
	"errors"
)

// MemoryDataStore is a concrete implementation of the MutableDataStore interface.
var _ MutableDataStore = &MemoryDataStore{}

type MemoryDataStore struct {
	DatasetRefStore        *MemoryDatasetRefStore        `json:"datasetRefStore"`
	DatasetMetadataStore   *MemoryDatasetMetadataStore   `json:"datasetMetadataStore"`
	RunMetadataStore       *MemoryRunMetadataStore       `json:"runMetadataStore"`
	WorkspaceMetadataStore *MemoryWorkspaceMetadataStore `json:"workspaceMetadataStore"`
}

// NewMemoryDataStore creates a new instance of MemoryDataStore.
// NOTE: The instance returned is mutable and can be modified.
func NewMemoryDataStore() *MemoryDataStore {
	return &MemoryDataStore{
		DatasetRefStore:        NewMemoryDatasetRefStore(),
		DatasetMetadataStore:   NewMemoryDatasetMetadataStore(),
		RunMetadataStore:       NewMemoryRunMetadataStore(),
		WorkspaceMetadataStore: NewMemoryWorkspaceMetadataStore(),
	}
}

// FromJSON restores a MemoryDataStore from its JSON serialization, typically
// the datastore.json of a workspace. Stores absent from the document are
// initialized empty.
func FromJSON(data []byte) (*MemoryDataStore, error) {
	var store MemoryDataStore
	if err := json.Unmarshal(data, &store); err != nil {
		return nil, err
	}

	if store.DatasetRefStore == nil {
		store.DatasetRefStore = NewMemoryDatasetRefStore()
	}
	if store.DatasetMetadataStore == nil {
		store.DatasetMetadataStore = NewMemoryDatasetMetadataStore()
	}
	if store.RunMetadataStore == nil {
		store.RunMetadataStore = NewMemoryRunMetadataStore()
	}
	if store.WorkspaceMetadataStore == nil {
		store.WorkspaceMetadataStore = NewMemoryWorkspaceMetadataStore()
	}

	return &store, nil
}

// ToJSON serializes the MemoryDataStore for persistence in a workspace.
func (s *MemoryDataStore) ToJSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// Seal seals the MemoryDataStore, by returning a new instance of sealedMemoryDataStore.
func (s *MemoryDataStore) Seal() DataStore {
	return &sealedMemoryDataStore{
		DatasetRefStore:        s.DatasetRefStore,
		DatasetMetadataStore:   s.DatasetMetadataStore,
		RunMetadataStore:       s.RunMetadataStore,
		WorkspaceMetadataStore: s.WorkspaceMetadataStore,
	}
}

// DatasetRefs returns the DatasetRefStore of the MemoryDataStore.
func (s *MemoryDataStore) DatasetRefs() MutableDatasetRefStore {
	return s.DatasetRefStore
}

// DatasetMetadata returns the DatasetMetadataStore of the MemoryDataStore.
func (s *MemoryDataStore) DatasetMetadata() MutableDatasetMetadataStore {
	return s.DatasetMetadataStore
}

// RunMetadata returns the RunMetadataStore of the MemoryDataStore.
func (s *MemoryDataStore) RunMetadata() MutableRunMetadataStore {
	return s.RunMetadataStore
}

// WorkspaceMetadata returns the WorkspaceMetadataStore of the MemoryDataStore.
func (s *MemoryDataStore) WorkspaceMetadata() MutableWorkspaceMetadataStore {
	return s.WorkspaceMetadataStore
}

// Merge merges the given data store into the current MemoryDataStore.
func (s *MemoryDataStore) Merge(other DataStore) error {
	datasetRefs, err := other.DatasetRefs().Fetch()
	if err != nil {
		return err
	}

	for _, ref := range datasetRefs {
		if err = s.DatasetRefStore.Upsert(ref); err != nil {
			return err
		}
	}

	datasetMetadataRecords, err := other.DatasetMetadata().Fetch()
	if err != nil {
		return err
	}

	for _, record := range datasetMetadataRecords {
		if err = s.DatasetMetadataStore.Upsert(record); err != nil {
			return err
		}
	}

	runMetadataRecords, err := other.RunMetadata().Fetch()
	if err != nil {
		return err
	}

	for _, record := range runMetadataRecords {
		if err = s.RunMetadataStore.Upsert(record); err != nil {
			return err
		}
	}

	workspaceMetadata, err := other.WorkspaceMetadata().Get()
	if err != nil {
		if errors.Is(err, ErrWorkspaceMetadataNotSet) {
			// The other store carries no workspace metadata update, so the
			// current record stands.
			return nil
		}

		return err
	}

	err = s.WorkspaceMetadataStore.Set(workspaceMetadata)
	if err != nil {
		return err
	}

	return nil
}

// sealedMemoryDataStore is a concrete implementation of the DataStore interface.
// It represents a sealed data store that cannot be modified further.
var _ DataStore = &sealedMemoryDataStore{}

type sealedMemoryDataStore struct {
	DatasetRefStore        *MemoryDatasetRefStore        `json:"datasetRefStore"`
	DatasetMetadataStore   *MemoryDatasetMetadataStore   `json:"datasetMetadataStore"`
	RunMetadataStore       *MemoryRunMetadataStore       `json:"runMetadataStore"`
	WorkspaceMetadataStore *MemoryWorkspaceMetadataStore `json:"workspaceMetadataStore"`
}

// DatasetRefs returns the DatasetRefStore of the sealedMemoryDataStore.
// It implements the BaseDataStore interface.
func (s *sealedMemoryDataStore) DatasetRefs() DatasetRefStore {
	return s.DatasetRefStore
}

func (s *sealedMemoryDataStore) DatasetMetadata() DatasetMetadataStore {
	return s.DatasetMetadataStore
}

// RunMetadata returns the RunMetadataStore of the sealedMemoryDataStore.
func (s *sealedMemoryDataStore) RunMetadata() RunMetadataStore {
	return s.RunMetadataStore
}

// WorkspaceMetadata returns the WorkspaceMetadataStore of the sealedMemoryDataStore.
func (s *sealedMemoryDataStore) WorkspaceMetadata() WorkspaceMetadataStore {
	return s.WorkspaceMetadataStore
}
