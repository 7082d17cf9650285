package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keglink/keglink-go/pkg/config"
	"github.com/keglink/keglink-go/pkg/keg"
	"github.com/keglink/keglink-go/pkg/service"
	"github.com/keglink/keglink-go/pkg/store"
	"github.com/keglink/keglink-go/pkg/transport"
)

// fieldEquals polls a stored field. An empty want matches any value.
func fieldEquals(svc *service.KegService, id, field, want string) func() bool {
	return func() bool {
		rec, err := svc.Record(context.Background(), id)
		if err != nil {
			return false
		}
		v, ok := rec.Get(field)
		return ok && (want == "" || v == want)
	}
}

func TestSimDeviceAgainstServer(t *testing.T) {
	cfg := config.Default()
	cfg.ListenAddress = "127.0.0.1:0"
	svc, err := service.New(cfg, service.WithStore(store.NewMemoryStore()))
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop()

	conn, err := transport.NewClient(transport.ClientConfig{}).Connect(context.Background(), svc.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dev := NewSimDevice("sim-1", conn, logger)
	done := make(chan error, 1)
	go func() { done <- dev.Run(ctx, 50*time.Millisecond) }()

	require.Eventually(t, fieldEquals(svc, "sim-1", keg.FieldAmountLeft, ""), 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, fieldEquals(svc, "sim-1", keg.FieldUnit, ""), 2*time.Second, 10*time.Millisecond)

	require.True(t, svc.SendCommand(context.Background(), "sim-1", keg.CommandSetUnit, "2"))
	require.Eventually(t, func() bool { return dev.Commanded() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, fieldEquals(svc, "sim-1", keg.FieldUnit, "02"), 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("device did not stop")
	}
}
