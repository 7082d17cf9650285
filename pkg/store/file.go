package store

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileVersion is the current version of the telemetry file format.
const FileVersion = 1

// fileDocument is the on-disk representation of a FileStore.
type fileDocument struct {
	Version int                `json:"version"`
	SavedAt time.Time          `json:"saved_at"`
	Records map[string]*Record `json:"records"`
}

// FileStore keeps all records in one JSON file. Every write rewrites the
// file through a temporary file and a rename.
type FileStore struct {
	mu      sync.Mutex
	path    string
	records map[string]*Record
}

// NewFileStore opens the store at path, loading existing records.
// A missing file is an empty store.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, records: make(map[string]*Record)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for id, r := range doc.Records {
		if r.Fields == nil {
			r.Fields = make(map[string]string)
		}
		r.DeviceID = id
		s.records[id] = r
	}
	return s, nil
}

// Get returns a copy of the record for deviceID.
func (s *FileStore) Get(_ context.Context, deviceID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[deviceID]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

// Update merges fields into an existing record and saves the file.
func (s *FileStore) Update(_ context.Context, deviceID string, fields map[string]string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.records[deviceID]
	if !ok {
		return 0, nil
	}
	r := old.Clone()
	maps.Copy(r.Fields, fields)
	s.records[deviceID] = r
	if err := s.saveLocked(); err != nil {
		s.records[deviceID] = old
		return 0, err
	}
	return 1, nil
}

// Create inserts a new record and saves the file.
func (s *FileStore) Create(_ context.Context, deviceID string, fields map[string]string) (*Record, error) {
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
	if err := s.saveLocked(); err != nil {
		delete(s.records, deviceID)
		return nil, err
	}
	return r.Clone(), nil
}

func (s *FileStore) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(fileDocument{
		Version: FileVersion,
		SavedAt: time.Now(),
		Records: s.records,
	}, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Compile-time interface satisfaction check.
var _ Store = (*FileStore)(nil)
