package store

import (
	"context"
	"errors"
	"maps"
	"time"
)

// FieldLastUpdatedOn is stamped by the server on every telemetry upsert.
const FieldLastUpdatedOn = "last_updated_on"

// Store errors.
var (
	// ErrNotFound indicates no record exists for the device.
	ErrNotFound = errors.New("record not found")

	// ErrExists indicates a create for a device that already has a record.
	ErrExists = errors.New("record already exists")

	// ErrInvalidDeviceID indicates an empty or unusable device id.
	ErrInvalidDeviceID = errors.New("invalid device id")
)

// Record is the persisted telemetry of one device.
type Record struct {
	DeviceID string            `json:"device_id"`
	Fields   map[string]string `json:"fields"`
}

// Get returns the value of a field.
func (r *Record) Get(field string) (string, bool) {
	if r == nil || r.Fields == nil {
		return "", false
	}
	v, ok := r.Fields[field]
	return v, ok
}

// LastUpdatedOn parses the server-stamped update time.
func (r *Record) LastUpdatedOn() (time.Time, bool) {
	v, ok := r.Get(FieldLastUpdatedOn)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	return &Record{DeviceID: r.DeviceID, Fields: maps.Clone(r.Fields)}
}

// Store is an upsert-capable keyed store of telemetry records.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the record for deviceID or ErrNotFound.
	Get(ctx context.Context, deviceID string) (*Record, error)

	// Update merges fields into an existing record and returns the number
	// of records affected (0 or 1). A missing record is not an error.
	Update(ctx context.Context, deviceID string, fields map[string]string) (int, error)

	// Create inserts a new record or returns ErrExists.
	Create(ctx context.Context, deviceID string, fields map[string]string) (*Record, error)
}

// Upsert updates the record of deviceID and creates it when the update
// affected nothing. A create that races with another writer falls back to
// a second update.
func Upsert(ctx context.Context, s Store, deviceID string, fields map[string]string) error {
	if deviceID == "" {
		return ErrInvalidDeviceID
	}
	n, err := s.Update(ctx, deviceID, fields)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	_, err = s.Create(ctx, deviceID, fields)
	if errors.Is(err, ErrExists) {
		_, err = s.Update(ctx, deviceID, fields)
	}
	return err
}
