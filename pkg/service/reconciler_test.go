package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keglink/keglink-go/pkg/command"
	"github.com/keglink/keglink-go/pkg/keg"
	"github.com/keglink/keglink-go/pkg/store"
)

type recordingDispatcher struct {
	mu      sync.Mutex
	sent    []command.Command
	offline bool
	err     error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, cmd command.Command) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	if d.offline {
		return command.ErrDeviceOffline
	}
	d.sent = append(d.sent, cmd)
	return nil
}

type staticDevices []string

func (s staticDevices) Devices() []string { return s }

func seed(t *testing.T, s store.Store, id string, fields map[string]string) {
	t.Helper()
	_, err := s.Create(context.Background(), id, fields)
	require.NoError(t, err)
}

func TestReconcileDevicePushesDivergingPreference(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, "keg-1", map[string]string{
		keg.FieldUnit:               "1",
		keg.UserFieldUnit:           "2",
		keg.FieldMeasureUnit:        "01",
		keg.UserFieldMeasureUnit:    "1",
		keg.FieldKegModeCO2Beer:     "1",
		keg.UserFieldKegModeCO2Beer: "",
	})
	d := &recordingDispatcher{}
	r := NewReconciler(s, staticDevices{"keg-1"}, d, nil)

	n, err := r.ReconcileDevice(context.Background(), "keg-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, d.sent, 1)
	assert.Equal(t, command.Command{DeviceID: "keg-1", Name: keg.CommandSetUnit, Value: "02"}, d.sent[0])
}

func TestReconcileDeviceMissingDeviceValueDiverges(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, "keg-1", map[string]string{keg.UserFieldKegModeCO2Beer: "2"})
	d := &recordingDispatcher{}

	n, err := NewReconciler(s, staticDevices{}, d, nil).ReconcileDevice(context.Background(), "keg-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, keg.CommandSetMode, d.sent[0].Name)
	assert.Equal(t, "02", d.sent[0].Value)
}

func TestReconcileDeviceUnknownDevice(t *testing.T) {
	d := &recordingDispatcher{}
	n, err := NewReconciler(store.NewMemoryStore(), staticDevices{}, d, nil).
		ReconcileDevice(context.Background(), "missing")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, d.sent)
}

func TestReconcileDeviceOfflineIsNotAnError(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, "keg-1", map[string]string{keg.FieldUnit: "1", keg.UserFieldUnit: "2"})

	n, err := NewReconciler(s, staticDevices{}, &recordingDispatcher{offline: true}, nil).
		ReconcileDevice(context.Background(), "keg-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReconcileNowJoinsErrors(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, "keg-1", map[string]string{keg.FieldUnit: "1", keg.UserFieldUnit: "2"})
	seed(t, s, "keg-2", map[string]string{keg.FieldUnit: "2", keg.UserFieldUnit: "2"})

	boom := errors.New("boom")
	d := &recordingDispatcher{err: boom}
	n, err := NewReconciler(s, staticDevices{"keg-1", "keg-2", "keg-3"}, d, nil).
		ReconcileNow(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, n)

	d.err = nil
	n, err = NewReconciler(s, staticDevices{"keg-1", "keg-2", "keg-3"}, d, nil).
		ReconcileNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReconcileNowStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewReconciler(store.NewMemoryStore(), staticDevices{"keg-1"}, &recordingDispatcher{}, nil).
		ReconcileNow(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
