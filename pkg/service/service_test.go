package service_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keglink/keglink-go/pkg/blynk"
	"github.com/keglink/keglink-go/pkg/command"
	"github.com/keglink/keglink-go/pkg/config"
	"github.com/keglink/keglink-go/pkg/keg"
	"github.com/keglink/keglink-go/pkg/log"
	"github.com/keglink/keglink-go/pkg/service"
	"github.com/keglink/keglink-go/pkg/store"
	"github.com/keglink/keglink-go/pkg/transport"
)

const receiveTimeout = 2 * time.Second

func testConfig() config.Config {
	cfg := config.Default()
	cfg.ListenAddress = "127.0.0.1:0"
	return cfg
}

func startService(t *testing.T, cfg config.Config, opts ...service.Option) *service.KegService {
	t.Helper()
	svc, err := service.New(cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() {
		if svc.State() == service.StateRunning {
			_ = svc.Stop()
		}
	})
	return svc
}

func dial(t *testing.T, svc *service.KegService) *transport.ClientConn {
	t.Helper()
	conn, err := transport.NewClient(transport.ClientConfig{}).Connect(context.Background(), svc.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendAndAck(t *testing.T, conn *transport.ClientConn, cmd blynk.Command, msgID uint16, tokens ...string) {
	t.Helper()
	require.NoError(t, conn.Send(cmd, msgID, tokens...))
	f, err := conn.Receive(receiveTimeout)
	require.NoError(t, err)
	require.Equal(t, blynk.CommandResponse, f.Command)
	require.Equal(t, msgID, f.MessageID)
	require.Equal(t, blynk.StatusOK, f.Status())
}

func announce(t *testing.T, svc *service.KegService, conn *transport.ClientConn, id string) {
	t.Helper()
	sendAndAck(t, conn, blynk.CommandGetSharedDash, 1, id)
	require.Eventually(t, func() bool {
		return slices.Contains(svc.Devices(), id)
	}, receiveTimeout, 10*time.Millisecond)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.ReadBufferSize = 0

	_, err := service.New(cfg)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestLifecycle(t *testing.T) {
	svc, err := service.New(testConfig(), service.WithStore(store.NewMemoryStore()))
	require.NoError(t, err)
	assert.Equal(t, service.StateIdle, svc.State())

	assert.ErrorIs(t, svc.Stop(), service.ErrNotStarted)
	_, err = svc.ReconcileNow(context.Background())
	assert.ErrorIs(t, err, service.ErrNotStarted)

	require.NoError(t, svc.Start(context.Background()))
	assert.Equal(t, service.StateRunning, svc.State())
	assert.NotNil(t, svc.Addr())
	assert.Nil(t, svc.MetricsAddr())
	assert.ErrorIs(t, svc.Start(context.Background()), service.ErrAlreadyStarted)

	require.NoError(t, svc.Stop())
	assert.Equal(t, service.StateStopped, svc.State())
	assert.ErrorIs(t, svc.Stop(), service.ErrNotStarted)
}

func TestStartFailsOnBadStorePath(t *testing.T) {
	cfg := testConfig()
	cfg.Store.Driver = config.StoreFile
	cfg.Store.Path = t.TempDir()

	svc, err := service.New(cfg)
	require.NoError(t, err)
	assert.Error(t, svc.Start(context.Background()))
	assert.Equal(t, service.StateIdle, svc.State())
}

func TestTelemetryIsPersisted(t *testing.T) {
	st := store.NewMemoryStore()
	svc := startService(t, testConfig(), service.WithStore(st))
	conn := dial(t, svc)

	announce(t, svc, conn, "keg-1")
	sendAndAck(t, conn, blynk.CommandHardware, 2, keg.KindVirtualWrite, "51", "12.5")
	sendAndAck(t, conn, blynk.CommandHardware, 3, keg.KindVirtualWrite, "56", "4.2")

	require.Eventually(t, func() bool {
		rec, err := svc.Record(context.Background(), "keg-1")
		if err != nil {
			return false
		}
		v, _ := rec.Get(keg.FieldTemperature)
		return v == "4.2"
	}, receiveTimeout, 10*time.Millisecond)

	rec, err := svc.Record(context.Background(), "keg-1")
	require.NoError(t, err)
	v, ok := rec.Get(keg.FieldAmountLeft)
	assert.True(t, ok)
	assert.Equal(t, "12.5", v)
	_, ok = rec.Get(keg.FieldID)
	assert.False(t, ok)
}

func TestSendCommandReachesDevice(t *testing.T) {
	svc := startService(t, testConfig(), service.WithStore(store.NewMemoryStore()))
	conn := dial(t, svc)
	announce(t, svc, conn, "keg-1")

	require.True(t, svc.SendCommand(context.Background(), "keg-1", keg.CommandSetMode, "1"))

	f, err := conn.Receive(receiveTimeout)
	require.NoError(t, err)
	assert.Equal(t, blynk.CommandHardware, f.Command)
	assert.Equal(t, []string{keg.KindVirtualWrite, "88", "01"}, blynk.SplitBody(f.Body))

	assert.False(t, svc.SendCommand(context.Background(), "keg-2", keg.CommandSetMode, "1"))
	err = svc.Send(context.Background(), command.Command{DeviceID: "keg-1", Name: keg.CommandSetMode, Value: "7"})
	assert.Error(t, err)
	assert.False(t, errors.Is(err, command.ErrDeviceOffline))
}

func TestUserPreferenceIsPushedOnReport(t *testing.T) {
	st := store.NewMemoryStore()
	_, err := st.Create(context.Background(), "keg-1", map[string]string{keg.UserFieldUnit: "2"})
	require.NoError(t, err)

	svc := startService(t, testConfig(), service.WithStore(st))
	conn := dial(t, svc)
	announce(t, svc, conn, "keg-1")

	sendAndAck(t, conn, blynk.CommandHardware, 2, keg.KindVirtualWrite, "71", "1")

	f, err := conn.Receive(receiveTimeout)
	require.NoError(t, err)
	assert.Equal(t, blynk.CommandHardware, f.Command)
	assert.Equal(t, []string{keg.KindVirtualWrite, "71", "02"}, blynk.SplitBody(f.Body))
}

func TestReconnectCorrectionReachesNewConnection(t *testing.T) {
	st := store.NewMemoryStore()
	_, err := st.Create(context.Background(), "keg-1", map[string]string{keg.UserFieldUnit: "2"})
	require.NoError(t, err)

	svc := startService(t, testConfig(), service.WithStore(st))
	stale := dial(t, svc)
	announce(t, svc, stale, "keg-1")

	// The reconnecting device announces itself and reports a stale unit in
	// a single write.
	fresh := dial(t, svc)
	require.NoError(t, fresh.SendRaw(append(
		blynk.EncodeCommand(blynk.CommandGetSharedDash, 1, []byte("keg-1")),
		blynk.EncodeCommand(blynk.CommandHardware, 2, blynk.JoinBody(keg.KindVirtualWrite, "71", "1"))...,
	)))

	for _, id := range []uint16{1, 2} {
		f, err := fresh.Receive(receiveTimeout)
		require.NoError(t, err)
		require.Equal(t, blynk.CommandResponse, f.Command)
		require.Equal(t, id, f.MessageID)
	}

	f, err := fresh.Receive(receiveTimeout)
	require.NoError(t, err)
	assert.Equal(t, blynk.CommandHardware, f.Command)
	assert.Equal(t, []string{keg.KindVirtualWrite, "71", "02"}, blynk.SplitBody(f.Body))

	_, err = stale.Receive(100 * time.Millisecond)
	assert.Error(t, err, "old connection must not receive the correction")
}

func TestReconcileNowPushesStoredPreference(t *testing.T) {
	st := store.NewMemoryStore()
	svc := startService(t, testConfig(), service.WithStore(st))
	conn := dial(t, svc)
	announce(t, svc, conn, "keg-1")

	sendAndAck(t, conn, blynk.CommandHardware, 2, keg.KindVirtualWrite, "75", "1")
	require.Eventually(t, func() bool {
		rec, err := st.Get(context.Background(), "keg-1")
		if err != nil {
			return false
		}
		_, ok := rec.Get(keg.FieldMeasureUnit)
		return ok
	}, receiveTimeout, 10*time.Millisecond)

	_, err := st.Update(context.Background(), "keg-1", map[string]string{keg.UserFieldMeasureUnit: "2"})
	require.NoError(t, err)

	n, err := svc.ReconcileNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	f, err := conn.Receive(receiveTimeout)
	require.NoError(t, err)
	assert.Equal(t, []string{keg.KindVirtualWrite, "75", "02"}, blynk.SplitBody(f.Body))
}

func TestDisconnectDropsDevice(t *testing.T) {
	svc := startService(t, testConfig(), service.WithStore(store.NewMemoryStore()))
	conn := dial(t, svc)
	announce(t, svc, conn, "keg-1")
	require.Len(t, svc.Connections(), 1)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return len(svc.Devices()) == 0 && len(svc.Connections()) == 0
	}, receiveTimeout, 10*time.Millisecond)
	assert.False(t, svc.SendCommand(context.Background(), "keg-1", keg.CommandSetUnit, "1"))
}

func TestProtocolCaptureAndMetrics(t *testing.T) {
	cfg := testConfig()
	cfg.ProtocolLog = filepath.Join(t.TempDir(), "capture.klog")
	cfg.MetricsAddress = "127.0.0.1:0"

	svc := startService(t, cfg, service.WithStore(store.NewMemoryStore()))
	require.NotNil(t, svc.MetricsAddr())

	conn := dial(t, svc)
	announce(t, svc, conn, "keg-1")
	sendAndAck(t, conn, blynk.CommandHardware, 2, keg.KindVirtualWrite, "52", "18.4")

	resp, err := http.Get("http://" + svc.MetricsAddr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "keglink_transport_connections")
	assert.Contains(t, string(body), `keglink_transport_frames_received_total{command="HARDWARE"}`)

	require.NoError(t, svc.Stop())

	r, err := log.NewFilteredReader(cfg.ProtocolLog, log.Filter{DeviceID: "keg-1"})
	require.NoError(t, err)
	defer r.Close()

	var in, out int
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		if e.Category != log.CategoryMessage || e.Layer != log.LayerWire {
			continue
		}
		switch e.Direction {
		case log.DirectionIn:
			in++
		case log.DirectionOut:
			out++
		}
	}
	assert.Positive(t, in)
	assert.Positive(t, out)
}
