package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keglink/keglink-go/pkg/blynk"
	"github.com/keglink/keglink-go/pkg/command"
	"github.com/keglink/keglink-go/pkg/keg"
	"github.com/keglink/keglink-go/pkg/store"
)

var fixedNow = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

type fakeDispatcher struct {
	mu      sync.Mutex
	online  bool
	sent    []command.Command
	offline []command.Command
}

func (d *fakeDispatcher) Dispatch(_ context.Context, cmd command.Command) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.online {
		d.offline = append(d.offline, cmd)
		return command.ErrDeviceOffline
	}
	d.sent = append(d.sent, cmd)
	return nil
}

// recordingStore wraps a MemoryStore and records calls.
type recordingStore struct {
	*store.MemoryStore
	updates []map[string]string
	creates []map[string]string
	getErr  error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: store.NewMemoryStore()}
}

func (s *recordingStore) Get(ctx context.Context, id string) (*store.Record, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.MemoryStore.Get(ctx, id)
}

func (s *recordingStore) Update(ctx context.Context, id string, fields map[string]string) (int, error) {
	s.updates = append(s.updates, fields)
	return s.MemoryStore.Update(ctx, id, fields)
}

func (s *recordingStore) Create(ctx context.Context, id string, fields map[string]string) (*store.Record, error) {
	s.creates = append(s.creates, fields)
	return s.MemoryStore.Create(ctx, id, fields)
}

type captureSink struct {
	updates map[string]map[string]string
}

func (s *captureSink) TelemetryUpdated(id string, fields map[string]string) {
	if s.updates == nil {
		s.updates = make(map[string]map[string]string)
	}
	s.updates[id] = fields
}

func idFrame(id string) []byte {
	return blynk.EncodeCommand(blynk.CommandGetSharedDash, 1, []byte(id))
}

func pinFrame(msgID uint16, pin, value string) []byte {
	return blynk.EncodeCommand(blynk.CommandHardware, msgID, blynk.JoinBody(keg.KindVirtualWrite, pin, value))
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func newTestRouter(s store.Store, d Dispatcher, sink Sink) *Router {
	return NewRouter(s, d, Config{Sink: sink, Now: func() time.Time { return fixedNow }})
}

func TestProcessPersistsAfterIdentification(t *testing.T) {
	ctx := context.Background()
	s := newRecordingStore()
	sink := &captureSink{}
	r := newTestRouter(s, &fakeDispatcher{online: true}, sink)

	res, err := r.Process(ctx, concat(idFrame("mydevice123"), pinFrame(2, "51", "17.5"), pinFrame(3, "56", "4.2")))
	require.NoError(t, err)
	assert.True(t, res.NewlyIdentified)
	assert.Equal(t, "mydevice123", res.DeviceID)
	assert.ElementsMatch(t, []string{"amount_left", "temperature", store.FieldLastUpdatedOn}, res.Persisted)

	rec, err := s.Get(ctx, "mydevice123")
	require.NoError(t, err)
	assert.Equal(t, "17.5", rec.Fields["amount_left"])
	assert.Equal(t, "4.2", rec.Fields["temperature"])
	ts, ok := rec.LastUpdatedOn()
	require.True(t, ok)
	assert.True(t, ts.Equal(fixedNow))

	assert.Contains(t, sink.updates, "mydevice123")
}

func TestUpdateMissCreatesRecordWithSameFields(t *testing.T) {
	s := newRecordingStore()
	r := newTestRouter(s, nil, nil)

	_, err := r.Process(context.Background(), concat(idFrame("dev"), pinFrame(2, "51", "10")))
	require.NoError(t, err)

	require.Len(t, s.updates, 1)
	require.Len(t, s.creates, 1)
	assert.Equal(t, s.updates[0], s.creates[0])
	assert.Equal(t, map[string]string{
		"amount_left":             "10",
		store.FieldLastUpdatedOn: fixedNow.Format(time.RFC3339Nano),
	}, s.creates[0])
}

func TestDataBeforeIdentityIsDropped(t *testing.T) {
	s := newRecordingStore()
	r := newTestRouter(s, nil, nil)

	res, err := r.Process(context.Background(), pinFrame(1, "51", "10"))
	require.NoError(t, err)
	assert.True(t, res.Dropped)
	assert.Empty(t, s.updates)
	assert.Empty(t, s.DeviceIDs())

	// Identity in a later batch does not replay the dropped data.
	res, err = r.Process(context.Background(), idFrame("late"))
	require.NoError(t, err)
	assert.True(t, res.NewlyIdentified)
	assert.Empty(t, s.DeviceIDs())
}

func TestFirstDeviceIDWins(t *testing.T) {
	r := newTestRouter(store.NewMemoryStore(), nil, nil)
	ctx := context.Background()

	res, _ := r.Process(ctx, idFrame("first"))
	assert.True(t, res.NewlyIdentified)
	res, _ = r.Process(ctx, idFrame("second"))
	assert.False(t, res.NewlyIdentified)
	assert.Equal(t, "first", r.DeviceID())
}

func TestUserOverrideWinsOverDeviceValue(t *testing.T) {
	ctx := context.Background()
	s := newRecordingStore()
	_, err := s.MemoryStore.Create(ctx, "keg", map[string]string{keg.UserFieldUnit: "02", keg.FieldUnit: "02"})
	require.NoError(t, err)

	d := &fakeDispatcher{online: true}
	r := newTestRouter(s, d, nil)

	res, err := r.Process(ctx, concat(idFrame("keg"), pinFrame(2, "71", "01"), pinFrame(3, "51", "5")))
	require.NoError(t, err)

	require.Len(t, res.Commands, 1)
	assert.Equal(t, command.Command{DeviceID: "keg", Name: keg.CommandSetUnit, Value: "02"}, res.Commands[0])
	assert.NotContains(t, res.Persisted, keg.FieldUnit)

	// The batch that identified the device waits for registration.
	assert.Empty(t, d.sent)
	assert.Equal(t, res.Commands, r.Pending())
	assert.Equal(t, 1, r.FlushPending(ctx))
	assert.Equal(t, res.Commands, d.sent)

	res, err = r.Process(ctx, pinFrame(4, "71", "01"))
	require.NoError(t, err)
	require.Len(t, res.Commands, 1)
	assert.Len(t, d.sent, 2, "later batches dispatch immediately")
	assert.Empty(t, r.Pending())

	rec, err := s.Get(ctx, "keg")
	require.NoError(t, err)
	assert.Equal(t, "02", rec.Fields[keg.FieldUnit], "device value must not replace the stored one")
	assert.Equal(t, "5", rec.Fields[keg.FieldAmountLeft])
}

func TestMatchingOverrideIsPersisted(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	_, err := s.Create(ctx, "keg", map[string]string{keg.UserFieldKegModeCO2Beer: "1"})
	require.NoError(t, err)
	d := &fakeDispatcher{online: true}
	r := newTestRouter(s, d, nil)

	res, err := r.Process(ctx, concat(idFrame("keg"), pinFrame(2, "88", "01")))
	require.NoError(t, err)
	assert.Empty(t, res.Commands)
	assert.Empty(t, d.sent)

	rec, _ := s.Get(ctx, "keg")
	assert.Equal(t, "01", rec.Fields[keg.FieldKegModeCO2Beer])
}

func TestNoPreferencePersistsDeviceValue(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	r := newTestRouter(s, &fakeDispatcher{online: true}, nil)

	res, err := r.Process(ctx, concat(idFrame("keg"), pinFrame(2, "75", "02")))
	require.NoError(t, err)
	assert.Empty(t, res.Commands)
	rec, _ := s.Get(ctx, "keg")
	assert.Equal(t, "02", rec.Fields[keg.FieldMeasureUnit])
}

func TestUndeliverableCorrectionsArePending(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	_, err := s.Create(ctx, "keg", map[string]string{keg.UserFieldMeasureUnit: "01"})
	require.NoError(t, err)

	d := &fakeDispatcher{}
	r := newTestRouter(s, d, nil)

	_, err = r.Process(ctx, concat(idFrame("keg"), pinFrame(2, "75", "02")))
	require.NoError(t, err)
	require.Len(t, r.Pending(), 1)

	// A repeated report replaces the pending command instead of stacking it.
	_, err = r.Process(ctx, pinFrame(3, "75", "02"))
	require.NoError(t, err)
	require.Len(t, r.Pending(), 1)

	d.online = true
	assert.Equal(t, 1, r.FlushPending(ctx))
	assert.Empty(t, r.Pending())
	require.Len(t, d.sent, 1)
	assert.Equal(t, keg.CommandSetMeasureUnit, d.sent[0].Name)
	assert.Equal(t, "01", d.sent[0].Value)
}

func TestInternalIsNotPersisted(t *testing.T) {
	ctx := context.Background()
	s := newRecordingStore()
	r := newTestRouter(s, nil, nil)

	internal := blynk.EncodeCommand(blynk.CommandInternal, 2, blynk.JoinBody("ver", "0.4.7", "dev", "ESP8266"))
	_, err := r.Process(ctx, concat(idFrame("keg"), internal))
	require.NoError(t, err)

	assert.Empty(t, s.updates)
	assert.Equal(t, "0.4.7", r.Internal()["ver"])
}

func TestStoreErrorFailsBatchOnly(t *testing.T) {
	ctx := context.Background()
	s := newRecordingStore()
	s.getErr = errors.New("database unavailable")
	r := newTestRouter(s, nil, nil)

	_, err := r.Process(ctx, concat(idFrame("keg"), pinFrame(2, "51", "10")))
	require.Error(t, err)
	assert.Equal(t, "keg", r.DeviceID(), "identity survives a failed batch")

	s.getErr = nil
	_, err = r.Process(ctx, pinFrame(3, "51", "9"))
	require.NoError(t, err)
	rec, err := s.Get(ctx, "keg")
	require.NoError(t, err)
	assert.Equal(t, "9", rec.Fields["amount_left"])
}

type batchRecorder struct {
	results []Result
	errs    []error
}

func (b *batchRecorder) BatchProcessed(res Result, err error) {
	b.results = append(b.results, res)
	b.errs = append(b.errs, err)
}

func TestObserverSeesEveryBatch(t *testing.T) {
	obs := &batchRecorder{}
	r := NewRouter(store.NewMemoryStore(), nil, Config{Observer: obs})
	_, _ = r.Process(context.Background(), pinFrame(1, "51", "1"))
	_, _ = r.Process(context.Background(), idFrame("x"))
	require.Len(t, obs.results, 2)
	assert.True(t, obs.results[0].Dropped)
	assert.True(t, obs.results[1].NewlyIdentified)
}
