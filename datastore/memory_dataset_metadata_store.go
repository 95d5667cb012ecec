package datastore

import (
	"sync"
)

// MemoryDatasetMetadataStore is an in-memory implementation of the DatasetMetadataStore and
// MutableDatasetMetadataStore interfaces.
type MemoryDatasetMetadataStore struct {
	mu      sync.RWMutex
	Records []DatasetMetadata `json:"records"`
}

// MemoryDatasetMetadataStore implements DatasetMetadataStore interface.
var _ DatasetMetadataStore = &MemoryDatasetMetadataStore{}

// MemoryDatasetMetadataStore implements MutableDatasetMetadataStore interface.
var _ MutableDatasetMetadataStore = &MemoryDatasetMetadataStore{}

// NewMemoryDatasetMetadataStore creates a new MemoryDatasetMetadataStore instance.
func NewMemoryDatasetMetadataStore() *MemoryDatasetMetadataStore {
	return &MemoryDatasetMetadataStore{Records: []DatasetMetadata{}}
}

// Get returns the DatasetMetadata for the provided key, or an error if no such record exists.
// NOTE: The returned DatasetMetadata will have an any type for the Metadata field.
// To convert it to a specific type, use the utility method As.
func (s *MemoryDatasetMetadataStore) Get(key DatasetMetadataKey) (DatasetMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexOf(key)
	if idx == -1 {
		return DatasetMetadata{}, ErrDatasetMetadataNotFound
	}

	return s.Records[idx].Clone()
}

// Fetch returns a copy of all DatasetMetadata in the store.
// NOTE: The returned DatasetMetadata will have an any type for the Metadata field.
// To convert it to a specific type, use the utility method As.
func (s *MemoryDatasetMetadataStore) Fetch() ([]DatasetMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := []DatasetMetadata{}
	for _, record := range s.Records {
		clone, err := record.Clone()
		if err != nil {
			return nil, err
		}
		records = append(records, clone)
	}

	return records, nil
}

// Filter returns a copy of all DatasetMetadata in the store that pass all of the provided filters.
// Filters are applied in the order they are provided.
// If no filters are provided, all records are returned.
func (s *MemoryDatasetMetadataStore) Filter(filters ...FilterFunc[DatasetMetadataKey, DatasetMetadata]) []DatasetMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := append([]DatasetMetadata{}, s.Records...)
	for _, filter := range filters {
		records = filter(records)
	}

	return records
}

// indexOf returns the index of the record with the provided key, or -1 if no such record exists.
func (s *MemoryDatasetMetadataStore) indexOf(key DatasetMetadataKey) int {
	for i, record := range s.Records {
		if record.Key().Equals(key) {
			return i
		}
	}

	return -1
}

// Add inserts a new record into the store.
// If a record with the same key already exists, an error is returned.
func (s *MemoryDatasetMetadataStore) Add(record DatasetMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(record.Key())
	if idx != -1 {
		return ErrDatasetMetadataExists
	}
	s.Records = append(s.Records, record)

	return nil
}

// Upsert inserts a new record into the store if no record with the same key already exists.
// If a record with the same key already exists, it is updated.
func (s *MemoryDatasetMetadataStore) Upsert(record DatasetMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(record.Key())
	if idx == -1 {
		s.Records = append(s.Records, record)
		return nil
	}
	s.Records[idx] = record

	return nil
}

// Update edits an existing record whose primary key elements match the supplied DatasetMetadata, with
// the non-primary-key values of the supplied DatasetMetadata.
// If no such record exists, an error is returned.
func (s *MemoryDatasetMetadataStore) Update(record DatasetMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(record.Key())
	if idx == -1 {
		return ErrDatasetMetadataNotFound
	}
	s.Records[idx] = record

	return nil
}

// Delete deletes an existing record whose primary key elements match the supplied key, returning an
// error if no such record exists.
func (s *MemoryDatasetMetadataStore) Delete(key DatasetMetadataKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(key)
	if idx == -1 {
		return ErrDatasetMetadataNotFound
	}
	s.Records = append(s.Records[:idx], s.Records[idx+1:]...)

	return nil
}
