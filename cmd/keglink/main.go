// Command keglink runs the keg connectivity server.
//
// Plaato Keg devices connect over TCP and speak the Blynk binary protocol.
// keglink acknowledges their frames, persists the decoded telemetry and
// pushes stored user preferences back to the devices.
//
// Usage:
//
//	keglink [flags]
//
// Flags:
//
//	-config string        YAML configuration file
//	-listen string        Device listen address (overrides config)
//	-store string         Store driver: memory, file, nats (overrides config)
//	-metrics string       Metrics listen address (overrides config)
//	-protocol-log string  Protocol capture file (overrides config)
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-log-format string    Log format: text, json (default "text")
//	-interactive          Start the interactive console
//
// Examples:
//
//	# Listen on the default port with an in-memory store
//	keglink
//
//	# Persist telemetry to a file and capture all traffic
//	keglink -store file -protocol-log /var/log/keglink/capture.klog
//
//	# Run with a config file and an operator console
//	keglink -config /etc/keglink/keglink.yaml -interactive
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/keglink/keglink-go/cmd/keglink/interactive"
	"github.com/keglink/keglink-go/pkg/config"
	"github.com/keglink/keglink-go/pkg/service"
	"github.com/keglink/keglink-go/pkg/version"
)

// Flags holds the command-line settings.
type Flags struct {
	ConfigFile  string
	Listen      string
	Store       string
	Metrics     string
	ProtocolLog string
	LogLevel    string
	LogFormat   string
	Interactive bool
}

var flags Flags

func init() {
	flag.StringVar(&flags.ConfigFile, "config", "", "YAML configuration file")
	flag.StringVar(&flags.Listen, "listen", "", "Device listen address (overrides config)")
	flag.StringVar(&flags.Store, "store", "", "Store driver: memory, file, nats (overrides config)")
	flag.StringVar(&flags.Metrics, "metrics", "", "Metrics listen address (overrides config)")
	flag.StringVar(&flags.ProtocolLog, "protocol-log", "", "Protocol capture file (overrides config)")
	flag.StringVar(&flags.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&flags.LogFormat, "log-format", "text", "Log format: text, json")
	flag.BoolVar(&flags.Interactive, "interactive", false, "Start the interactive console")
}

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "keglink: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		console *interactive.Console
		out     io.Writer = os.Stdout
	)
	if flags.Interactive {
		console, err = interactive.New()
		if err != nil {
			return err
		}
		out = console.Stdout()
	}

	logger := setupLogger(out, flags.LogLevel, flags.LogFormat)
	slog.SetDefault(logger)

	svc, err := service.New(cfg, service.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	logger.Info("keglink started",
		"addr", svc.Addr().String(),
		"protocol_version", version.Current,
		"store", cfg.Store.Driver,
	)

	if console != nil {
		go console.Run(ctx, cancel, svc)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return svc.Stop()
}

func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if flags.ConfigFile != "" {
		loaded, err := config.Load(flags.ConfigFile)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	if flags.Listen != "" {
		cfg.ListenAddress = flags.Listen
	}
	if flags.Store != "" {
		cfg.Store.Driver = flags.Store
	}
	if flags.Metrics != "" {
		cfg.MetricsAddress = flags.Metrics
	}
	if flags.ProtocolLog != "" {
		cfg.ProtocolLog = flags.ProtocolLog
	}
	return cfg, cfg.Validate()
}
