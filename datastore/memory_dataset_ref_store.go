package datastore

import (
	"sync"
)

// MemoryDatasetRefStore is an in-memory implementation of the DatasetRefStore and
// MutableDatasetRefStore interfaces.
type MemoryDatasetRefStore struct {
	mu      sync.RWMutex
	Records []DatasetRef `json:"records"`
}

// MemoryDatasetRefStore implements DatasetRefStore interface.
var _ DatasetRefStore = &MemoryDatasetRefStore{}

// MemoryDatasetRefStore implements MutableDatasetRefStore interface.
var _ MutableDatasetRefStore = &MemoryDatasetRefStore{}

// NewMemoryDatasetRefStore creates a new MemoryDatasetRefStore instance.
func NewMemoryDatasetRefStore() *MemoryDatasetRefStore {
	return &MemoryDatasetRefStore{Records: []DatasetRef{}}
}

// Get returns the DatasetRef for the provided key, or an error if no such record exists.
func (s *MemoryDatasetRefStore) Get(key DatasetRefKey) (DatasetRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexOf(key)
	if idx == -1 {
		return DatasetRef{}, ErrDatasetRefNotFound
	}

	return s.Records[idx].Clone(), nil
}

// Fetch returns a copy of all DatasetRef records in the store.
func (s *MemoryDatasetRefStore) Fetch() ([]DatasetRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := []DatasetRef{}
	for _, record := range s.Records {
		records = append(records, record.Clone())
	}

	return records, nil
}

// Filter returns a copy of all DatasetRef records in the store that pass all of the provided filters.
// Filters are applied in the order they are provided.
// If no filters are provided, all records are returned.
func (s *MemoryDatasetRefStore) Filter(filters ...FilterFunc[DatasetRefKey, DatasetRef]) []DatasetRef {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := append([]DatasetRef{}, s.Records...)
	for _, filter := range filters {
		records = filter(records)
	}

	return records
}

// indexOf returns the index of the record with the provided key, or -1 if no such record exists.
func (s *MemoryDatasetRefStore) indexOf(key DatasetRefKey) int {
	for i, record := range s.Records {
		if record.Key().Equals(key) {
			return i
		}
	}

	return -1
}

// Add inserts a new record into the store.
// If a record with the same key already exists, an error is returned.
func (s *MemoryDatasetRefStore) Add(record DatasetRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(record.Key())
	if idx != -1 {
		return ErrDatasetRefExists
	}
	s.Records = append(s.Records, record)

	return nil
}

// Upsert inserts a new record into the store if no record with the same key already exists.
// If a record with the same key already exists, it is updated.
func (s *MemoryDatasetRefStore) Upsert(record DatasetRef) error {
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

// Update edits an existing record whose primary key elements match the supplied DatasetRef, with
// the non-primary-key values of the supplied DatasetRef.
// If no such record exists, an error is returned.
func (s *MemoryDatasetRefStore) Update(record DatasetRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(record.Key())
	if idx == -1 {
		return ErrDatasetRefNotFound
	}
	s.Records[idx] = record

	return nil
}

// Delete deletes an existing record whose primary key elements match the supplied key, returning an
// error if no such record exists.
func (s *MemoryDatasetRefStore) Delete(key DatasetRefKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(key)
	if idx == -1 {
		return ErrDatasetRefNotFound
	}
	s.Records = append(s.Records[:idx], s.Records[idx+1:]...)

	return nil
}
