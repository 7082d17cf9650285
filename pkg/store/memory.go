package store

import (
	"context"
	"maps"
	"sort"
	"sync"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Get returns a copy of the record for deviceID.
func (s *MemoryStore) Get(_ context.Context, deviceID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[deviceID]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

// Update merges fields into an existing record.
func (s *MemoryStore) Update(_ context.Context, deviceID string, fields map[string]string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[deviceID]
	if !ok {
		return 0, nil
	}
	maps.Copy(r.Fields, fields)
	return 1, nil
}

// Create inserts a new record.
func (s *MemoryStore) Create(_ context.Context, deviceID string, fields map[string]string) (*Record, error) {
	if deviceID == "" {
		return nil, ErrInvalidDeviceID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[deviceID]; ok {
		return nil, ErrExists
	}
	r := &Record{DeviceID: deviceID, Fields: maps.Clone(fields)}
	if r.Fields == nil {
		r.Fields = make(map[string]string)
	}
	s.records[deviceID] = r
	return r.Clone(), nil
}

// DeviceIDs returns the ids of all stored records, sorted.
func (s *MemoryStore) DeviceIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Compile-time interface satisfaction check.
var _ Store = (*MemoryStore)(nil)
