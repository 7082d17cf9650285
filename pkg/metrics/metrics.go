// Package metrics exposes keglink runtime metrics in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keglink/keglink-go/pkg/blynk"
	"github.com/keglink/keglink-go/pkg/command"
	"github.com/keglink/keglink-go/pkg/telemetry"
	"github.com/keglink/keglink-go/pkg/transport"
)

const namespace = "keglink"

// Metrics holds the collectors for one server instance.
type Metrics struct {
	registry *prometheus.Registry

	connections      prometheus.Gauge
	devices          prometheus.Gauge
	connectionsTotal prometheus.Counter
	disconnects      *prometheus.CounterVec // reason
	frames           *prometheus.CounterVec // command

	batches   *prometheus.CounterVec // result: ok, dropped, error
	readings  prometheus.Counter
	persisted *prometheus.CounterVec // field

	commands *prometheus.CounterVec // command, result
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connections",
			Help:      "Number of live device connections",
		}),
		devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "registered_devices",
			Help:      "Number of connections that announced a device id",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "connections_total",
			Help:      "Total number of accepted device connections",
		}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "disconnects_total",
			Help:      "Total number of closed device connections by reason",
		}, []string{"reason"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "frames_received_total",
			Help:      "Total number of inbound frames by command",
		}, []string{"command"}),

		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "batches_total",
			Help:      "Total number of processed reads by result",
		}, []string{"result"}),
		readings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "readings_total",
			Help:      "Total number of decoded readings",
		}),
		persisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "fields_persisted_total",
			Help:      "Total number of field writes to the store",
		}, []string{"field"}),

		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "command",
			Name:      "sent_total",
			Help:      "Total number of outbound command attempts by result",
		}, []string{"command", "result"}),
	}

	m.registry.MustRegister(
		m.connections, m.devices, m.connectionsTotal, m.disconnects, m.frames,
		m.batches, m.readings, m.persisted, m.commands,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ConnectionOpened records an accepted connection.
func (m *Metrics) ConnectionOpened() {
	m.connections.Inc()
	m.connectionsTotal.Inc()
}

// DeviceRegistered records a connection announcing its device id.
func (m *Metrics) DeviceRegistered() {
	m.devices.Inc()
}

// ConnectionClosed records a closed connection.
func (m *Metrics) ConnectionClosed(reason string, wasRegistered bool) {
	m.connections.Dec()
	if wasRegistered {
		m.devices.Dec()
	}
	m.disconnects.WithLabelValues(disconnectLabel(reason)).Inc()
}

// FrameReceived records one inbound frame.
func (m *Metrics) FrameReceived(cmd blynk.Command) {
	label := cmd.String()
	if !cmd.Known() {
		label = "UNKNOWN"
	}
	m.frames.WithLabelValues(label).Inc()
}

// BatchProcessed implements telemetry.Observer.
func (m *Metrics) BatchProcessed(res telemetry.Result, err error) {
	m.readings.Add(float64(res.Readings))
	switch {
	case err != nil:
		m.batches.WithLabelValues("error").Inc()
	case res.Dropped:
		m.batches.WithLabelValues("dropped").Inc()
	default:
		m.batches.WithLabelValues("ok").Inc()
	}
	for _, f := range res.Persisted {
		m.persisted.WithLabelValues(f).Inc()
	}
}

// CommandSent implements command.Observer.
func (m *Metrics) CommandSent(cmd command.Command, err error) {
	m.commands.WithLabelValues(string(cmd.Name), commandResult(err)).Inc()
}

var (
	_ telemetry.Observer = (*Metrics)(nil)
	_ command.Observer   = (*Metrics)(nil)
)

func disconnectLabel(reason string) string {
	switch reason {
	case transport.ReasonPeerClosed, transport.ReasonTimeout, transport.ReasonStopped:
		return reason
	default:
		return "error"
	}
}

func commandResult(err error) string {
	var invalid *command.InvalidArgumentError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, command.ErrDeviceOffline):
		return "offline"
	case errors.Is(err, command.ErrUnknownCommand), errors.As(err, &invalid):
		return "invalid"
	default:
		return "error"
	}
}

// Handler serves the registry and a health probe.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// Serve listens on addr and serves Handler until ctx ends. It returns the
// bound address and a channel that reports the serve error on shutdown.
func (m *Metrics) Serve(ctx context.Context, addr string) (net.Addr, <-chan error, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	srv := &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
		close(errCh)
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	return ln.Addr(), errCh, nil
}
