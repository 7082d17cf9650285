package store

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// DefaultBucket is the JetStream key/value bucket used when none is configured.
const DefaultBucket = "keg_telemetry"

// NATSOptions configures a NATSStore.
type NATSOptions struct {
	// URL of the NATS server.
	URL string

	// Bucket is the key/value bucket name.
	Bucket string

	// Timeout bounds every bucket operation (default 5s).
	Timeout time.Duration

	// MaxRetries bounds compare-and-set retries on concurrent updates.
	MaxRetries int
}

// errRevisionConflict indicates a compare-and-set lost against another writer.
var errRevisionConflict = errors.New("kv revision conflict")

// kvBucket is the part of a JetStream bucket the store needs.
type kvBucket interface {
	get(ctx context.Context, key string) ([]byte, uint64, error)
	create(ctx context.Context, key string, value []byte) error
	update(ctx context.Context, key string, value []byte, revision uint64) error
}

// NATSStore keeps records as JSON values in a JetStream key/value bucket.
type NATSStore struct {
	bucket  kvBucket
	conn    *nats.Conn
	timeout time.Duration
	retries int
}

// NewNATSStore connects to NATS and binds the configured bucket, creating
// it if it does not exist.
func NewNATSStore(ctx context.Context, opts NATSOptions) (*NATSStore, error) {
	if opts.URL == "" {
		opts.URL = nats.DefaultURL
	}
	if opts.Bucket == "" {
		opts.Bucket = DefaultBucket
	}

	nc, err := nats.Connect(opts.URL, nats.Name("keglink"))
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", opts.URL, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	kv, err := js.KeyValue(ctx, opts.Bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      opts.Bucket,
			Description: "Plaato Keg telemetry by device id",
		})
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("bind bucket %s: %w", opts.Bucket, err)
	}

	s := newNATSStore(jsBucket{kv: kv}, opts)
	s.conn = nc
	return s, nil
}

func newNATSStore(bucket kvBucket, opts NATSOptions) *NATSStore {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	return &NATSStore{bucket: bucket, timeout: opts.Timeout, retries: opts.MaxRetries}
}

// Close drains the NATS connection.
func (s *NATSStore) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}

// Get returns the record for deviceID.
func (s *NATSStore) Get(ctx context.Context, deviceID string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	r, _, err := s.load(ctx, deviceID)
	return r, err
}

// Update merges fields into an existing record using compare-and-set,
// retrying when another writer changed the record in between.
func (s *NATSStore) Update(ctx context.Context, deviceID string, fields map[string]string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	for attempt := 0; attempt <= s.retries; attempt++ {
		r, rev, err := s.load(ctx, deviceID)
		if errors.Is(err, ErrNotFound) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}

		maps.Copy(r.Fields, fields)
		data, err := json.Marshal(r)
		if err != nil {
			return 0, err
		}

		err = s.bucket.update(ctx, bucketKey(deviceID), data, rev)
		if err == nil {
			return 1, nil
		}
		if !errors.Is(err, errRevisionConflict) {
			return 0, fmt.Errorf("kv update %s: %w", deviceID, err)
		}
	}
	return 0, fmt.Errorf("kv update %s: %w after %d attempts", deviceID, errRevisionConflict, s.retries+1)
}

// Create inserts a new record.
func (s *NATSStore) Create(ctx context.Context, deviceID string, fields map[string]string) (*Record, error) {
	if deviceID == "" {
		return nil, ErrInvalidDeviceID
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	r := &Record{DeviceID: deviceID, Fields: maps.Clone(fields)}
	if r.Fields == nil {
		r.Fields = make(map[string]string)
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	if err := s.bucket.create(ctx, bucketKey(deviceID), data); err != nil {
		if errors.Is(err, errRevisionConflict) {
			return nil, ErrExists
		}
		return nil, fmt.Errorf("kv create %s: %w", deviceID, err)
	}
	return r, nil
}

func (s *NATSStore) load(ctx context.Context, deviceID string) (*Record, uint64, error) {
	data, rev, err := s.bucket.get(ctx, bucketKey(deviceID))
	if err != nil {
		return nil, 0, err
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, 0, fmt.Errorf("decode record %s: %w", deviceID, err)
	}
	if r.Fields == nil {
		r.Fields = make(map[string]string)
	}
	r.DeviceID = deviceID
	return &r, rev, nil
}

var plainKey = regexp.MustCompile(`^[-_=a-zA-Z0-9]+$`)

// bucketKey maps a device id onto the key alphabet JetStream accepts.
// Ids outside it are hex encoded under a "hex." prefix, which cannot
// collide with a plain key because plain keys contain no dot.
func bucketKey(deviceID string) string {
	if plainKey.MatchString(deviceID) {
		return deviceID
	}
	return "hex." + hex.EncodeToString([]byte(deviceID))
}

// jsBucket adapts jetstream.KeyValue to kvBucket.
type jsBucket struct {
	kv jetstream.KeyValue
}

func (b jsBucket) get(ctx context.Context, key string) ([]byte, uint64, error) {
	entry, err := b.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("kv get %s: %w", key, err)
	}
	return entry.Value(), entry.Revision(), nil
}

func (b jsBucket) create(ctx context.Context, key string, value []byte) error {
	_, err := b.kv.Create(ctx, key, value)
	return classifyKVError(err)
}

func (b jsBucket) update(ctx context.Context, key string, value []byte, revision uint64) error {
	_, err := b.kv.Update(ctx, key, value, revision)
	return classifyKVError(err)
}

func classifyKVError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, jetstream.ErrKeyExists) {
		return errRevisionConflict
	}
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
		return errRevisionConflict
	}
	if strings.Contains(err.Error(), "wrong last sequence") {
		return errRevisionConflict
	}
	return err
}

// Compile-time interface satisfaction check.
var _ Store = (*NATSStore)(nil)
