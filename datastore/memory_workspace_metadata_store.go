package datastore

import (
	"sync"
)

// MemoryWorkspaceMetadataStore is a concrete implementation of the WorkspaceMetadataStore interface.
type MemoryWorkspaceMetadataStore struct {
	mu     sync.RWMutex
	Record *WorkspaceMetadata `json:"record"`
}

// MemoryWorkspaceMetadataStore implements WorkspaceMetadataStore interface.
var _ WorkspaceMetadataStore = &MemoryWorkspaceMetadataStore{}

// MemoryWorkspaceMetadataStore implements MutableWorkspaceMetadataStore interface.
var _ MutableWorkspaceMetadataStore = &MemoryWorkspaceMetadataStore{}

// NewMemoryWorkspaceMetadataStore creates a new MemoryWorkspaceMetadataStore instance.
func NewMemoryWorkspaceMetadataStore() *MemoryWorkspaceMetadataStore {
	return &MemoryWorkspaceMetadataStore{Record: nil}
}

// Get returns a copy of the stored WorkspaceMetadata record if it exists or an error if any occurred.
// If no record exists, it returns an empty WorkspaceMetadata and ErrWorkspaceMetadataNotSet.
func (s *MemoryWorkspaceMetadataStore) Get() (WorkspaceMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.Record == nil {
		return WorkspaceMetadata{}, ErrWorkspaceMetadataNotSet
	}

	return s.Record.Clone()
}

// Set sets the WorkspaceMetadata record in the store. If the record already exists, it will be replaced.
func (s *MemoryWorkspaceMetadataStore) Set(record WorkspaceMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Record = &record

	return nil
}
