package datastore

import (
	"sync"
)

// MemoryRunMetadataStore is an in-memory implementation of the RunMetadataStore and
// MutableRunMetadataStore interfaces.
type MemoryRunMetadataStore struct {
	mu      sync.RWMutex
	Records []RunMetadata `json:"records"`
}

// MemoryRunMetadataStore implements RunMetadataStore interface.
var _ RunMetadataStore = &MemoryRunMetadataStore{}

// MemoryRunMetadataStore implements MutableRunMetadataStore interface.
var _ MutableRunMetadataStore = &MemoryRunMetadataStore{}

// NewMemoryRunMetadataStore creates a new MemoryRunMetadataStore instance.
func NewMemoryRunMetadataStore() *MemoryRunMetadataStore {
	return &MemoryRunMetadataStore{Records: []RunMetadata{}}
}

// Get returns the RunMetadata for the provided key, or an error if no such record exists.
// NOTE: The returned RunMetadata will have an any type for the Metadata field.
// To convert it to a specific type, use the utility method As.
func (s *MemoryRunMetadataStore) Get(key RunMetadataKey) (RunMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexOf(key)
	if idx == -1 {
		return RunMetadata{}, ErrRunMetadataNotFound
	}

	return s.Records[idx].Clone()
}

// Fetch returns a copy of all RunMetadata in the store.
// NOTE: The returned RunMetadata will have an any type for the Metadata field.
// To convert it to a specific type, use the utility method As.
func (s *MemoryRunMetadataStore) Fetch() ([]RunMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := []RunMetadata{}
	for _, record := range s.Records {
		clone, err := record.Clone()
		if err != nil {
			return nil, err
		}
		records = append(records, clone)
	}

	return records, nil
}

// Filter returns a copy of all RunMetadata in the store that pass all of the provided filters.
// Filters are applied in the order they are provided.
// If no filters are provided, all records are returned.
func (s *MemoryRunMetadataStore) Filter(filters ...FilterFunc[RunMetadataKey, RunMetadata]) []RunMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := append([]RunMetadata{}, s.Records...)
	for _, filter := range filters {
		records = filter(records)
	}

	return records
}

// indexOf returns the index of the record with the provided key, or -1 if no such record exists.
func (s *MemoryRunMetadataStore) indexOf(key RunMetadataKey) int {
	for i, record := range s.Records {
		if record.Key().Equals(key) {
			return i
		}
	}

	return -1
}

// Add inserts a new record into the store.
// If a record with the same key already exists, an error is returned.
func (s *MemoryRunMetadataStore) Add(record RunMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(record.Key())
	if idx != -1 {
		return ErrRunMetadataExists
	}
	s.Records = append(s.Records, record)

	return nil
}

// Upsert inserts a new record into the store if no record with the same key already exists.
// If a record with the same key already exists, it is updated.
func (s *MemoryRunMetadataStore) Upsert(record RunMetadata) error {
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

// Update edits an existing record whose primary key elements match the supplied RunMetadata, with
// the non-primary-key values of the supplied RunMetadata.
// If no such record exists, an error is returned.
func (s *MemoryRunMetadataStore) Update(record RunMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(record.Key())
	if idx == -1 {
		return ErrRunMetadataNotFound
	}
	s.Records[idx] = record

	return nil
}

// Delete deletes an existing record whose primary key elements match the supplied key, returning an
// error if no such record exists.
func (s *MemoryRunMetadataStore) Delete(key RunMetadataKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(key)
	if idx == -1 {
		return ErrRunMetadataNotFound
	}
	s.Records = append(s.Records[:idx], s.Records[idx+1:]...)

	return nil
}
