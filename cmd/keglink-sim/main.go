// Command keglink-sim simulates Plaato Keg devices against a keglink server.
//
// Each simulated keg announces its id, sends the firmware handshake and
// then reports pour and temperature telemetry periodically. Commands sent
// by the server are applied and acknowledged, so the next report carries
// the new value. Dropped connections are retried with backoff.
//
// Usage:
//
//	keglink-sim [flags]
//
// Flags:
//
//	-addr string         Server address; discovered via mDNS when empty
//	-id string           Device id prefix (default "sim-keg")
//	-count int           Number of simulated kegs (default 1)
//	-interval duration   Report interval (default 5s)
//	-discover duration   mDNS discovery timeout (default 5s)
//	-log-level string    Log level: debug, info, warn, error (default "info")
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/keglink/keglink-go/pkg/connection"
	"github.com/keglink/keglink-go/pkg/discovery"
	"github.com/keglink/keglink-go/pkg/transport"
	"github.com/keglink/keglink-go/pkg/version"
)

var (
	addr     = flag.String("addr", "", "Server address; discovered via mDNS when empty")
	idPrefix = flag.String("id", "sim-keg", "Device id prefix")
	count    = flag.Int("count", 1, "Number of simulated kegs")
	interval = flag.Duration("interval", 5*time.Second, "Report interval")
	discover = flag.Duration("discover", 5*time.Second, "mDNS discovery timeout")
	logLevel = flag.String("log-level", "info", "Log level: debug, info, warn, error")
)

func main() {
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(*logLevel))); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	target := *addr
	if target == "" {
		var err error
		target, err = discoverServer(ctx, *discover)
		if err != nil {
			logger.Error("discovery failed", "error", err)
			os.Exit(1)
		}
		logger.Info("discovered server", "addr", target)
	}

	client := transport.NewClient(transport.ClientConfig{})
	var wg sync.WaitGroup
	for i := 1; i <= *count; i++ {
		id := fmt.Sprintf("%s-%d", *idPrefix, i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			runDevice(ctx, client, target, id, logger)
		}()
	}
	wg.Wait()
}

// runDevice keeps one simulated keg connected, reconnecting with backoff
// like the firmware does.
func runDevice(ctx context.Context, client *transport.Client, target, id string, logger *slog.Logger) {
	loop := connection.NewLoop(nil, func(attempt int, delay time.Duration, err error) {
		logger.Warn("device disconnected", "device_id", id, "attempt", attempt, "retry_in", delay, "error", err)
	})
	_ = loop.Run(ctx, func(ctx context.Context, established func()) error {
		conn, err := client.Connect(ctx, target)
		if err != nil {
			return err
		}
		defer conn.Close()

		established()
		logger.Info("device connected", "device_id", id, "local", conn.LocalAddr().String())
		if err := NewSimDevice(id, conn, logger).Run(ctx, *interval); err != nil {
			return err
		}
		return errors.New("session ended")
	})
}

// discoverServer returns the address of the first compatible server found
// before timeout.
func discoverServer(ctx context.Context, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for svc := range discovery.NewBrowser(discovery.BrowserConfig{}).Browse(ctx) {
		if svc.Version != "" && !version.CompatibleWithCurrent(svc.Version) {
			continue
		}
		return svc.Dial(), nil
	}
	return "", errors.New("no keglink server found")
}
