package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"sync"

	"github.com/keglink/keglink-go/pkg/blynk"
	"github.com/keglink/keglink-go/pkg/command"
	"github.com/keglink/keglink-go/pkg/config"
	"github.com/keglink/keglink-go/pkg/discovery"
	"github.com/keglink/keglink-go/pkg/keg"
	"github.com/keglink/keglink-go/pkg/log"
	"github.com/keglink/keglink-go/pkg/metrics"
	"github.com/keglink/keglink-go/pkg/mqttbridge"
	"github.com/keglink/keglink-go/pkg/store"
	"github.com/keglink/keglink-go/pkg/telemetry"
	"github.com/keglink/keglink-go/pkg/transport"
	"github.com/keglink/keglink-go/pkg/version"
)

// Option customizes a KegService.
type Option func(*KegService)

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *KegService) { s.logger = l }
}

// WithStore injects a telemetry store instead of opening the configured one.
func WithStore(st store.Store) Option {
	return func(s *KegService) { s.store = st }
}

// WithProtocolLogger adds a protocol capture logger next to the configured
// capture file.
func WithProtocolLogger(l log.Logger) Option {
	return func(s *KegService) { s.extraProto = l }
}

// KegService is the keglink server.
type KegService struct {
	cfg    config.Config
	logger *slog.Logger

	mu    sync.RWMutex
	state ServiceState

	store      store.Store
	ownsStore  bool
	extraProto log.Logger
	fileLog    *log.FileLogger

	writer     *command.Writer
	server     *transport.Server
	metrics    *metrics.Metrics
	reconciler *Reconciler
	bridge     *mqttbridge.Bridge
	advertiser *discovery.Advertiser

	metricsAddr net.Addr
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// New validates cfg and assembles a service. Nothing is opened until Start.
func New(cfg config.Config, opts ...Option) (*KegService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &KegService{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics = metrics.New()

	server, err := transport.NewServer(transport.ServerConfig{
		Address:           cfg.ListenAddress,
		InactivityTimeout: cfg.InactivityTimeout,
		ReadBufferSize:    cfg.ReadBufferSize,
		NewProcessor:      s.newProcessor,
		Logger:            s.logger,
		OnConnect:         s.onConnect,
		OnRegister:        s.onRegister,
		OnDisconnect:      s.onDisconnect,
		OnFrame:           s.onFrame,
	})
	if err != nil {
		return nil, err
	}
	s.server = server

	s.writer = command.NewWriter(server,
		command.WithLogger(s.logger),
		command.WithObserver(s.metrics),
	)

	if cfg.MQTT.Enabled() {
		s.bridge = mqttbridge.New(mqttbridge.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			Logger:      s.logger,
		}, s)
	}
	if cfg.MDNS.Enabled {
		s.advertiser = discovery.NewAdvertiser(discovery.AdvertiserConfig{Interface: cfg.MDNS.Interface})
	}
	return s, nil
}

// State returns the service state.
func (s *KegService) State() ServiceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Start opens the store and starts the listener and integrations.
func (s *KegService) Start(ctx context.Context) (err error) {
	s.mu.Lock()
	if s.state != StateIdle && s.state != StateStopped {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateStarting
	s.mu.Unlock()

	defer func() {
		if err != nil {
			s.teardown()
			s.setState(StateIdle)
		}
	}()

	ctx, s.cancel = context.WithCancel(ctx)

	if s.store == nil {
		st, err := openStore(ctx, s.cfg.Store)
		if err != nil {
			return err
		}
		s.store, s.ownsStore = st, true
	}
	s.reconciler = NewReconciler(s.store, s.server, s.writer, s.logger)

	if s.cfg.ProtocolLog != "" {
		fl, err := log.NewFileLogger(s.cfg.ProtocolLog)
		if err != nil {
			return fmt.Errorf("open protocol log: %w", err)
		}
		s.fileLog = fl
	}
	s.server.SetProtocolLogger(s.protocolLogger())

	if err := s.server.Start(ctx); err != nil {
		return err
	}
	s.infoLog("keg server listening", "addr", s.server.Addr().String(), "store", s.cfg.Store.Driver)

	if s.cfg.MetricsAddress != "" {
		addr, errCh, err := s.metrics.Serve(ctx, s.cfg.MetricsAddress)
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
		s.metricsAddr = addr
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := <-errCh; err != nil {
				s.warnLog("metrics server stopped", "error", err)
			}
		}()
		s.infoLog("metrics listening", "addr", addr.String())
	}

	if s.bridge != nil {
		if err := s.bridge.Start(ctx); err != nil {
			return err
		}
	}

	if s.advertiser != nil {
		if err := s.advertiser.Advertise(&discovery.ServerInfo{
			Instance: s.cfg.MDNS.Instance,
			Port:     portOf(s.server.Addr()),
			Version:  version.Current,
			Store:    s.cfg.Store.Driver,
		}); err != nil {
			return err
		}
	}

	if s.cfg.ReconcileInterval > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.reconciler.Run(ctx, s.cfg.ReconcileInterval)
		}()
	}

	s.setState(StateRunning)
	return nil
}

// Stop shuts the service down. Live connections go through their normal
// cleanup.
func (s *KegService) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.state = StateStopping
	s.mu.Unlock()

	err := s.teardown()
	s.setState(StateStopped)
	s.infoLog("keg server stopped")
	return err
}

// teardown releases everything Start may have acquired.
func (s *KegService) teardown() error {
	var errs []error
	if s.advertiser != nil {
		s.advertiser.Stop()
	}
	if s.bridge != nil {
		s.bridge.Stop()
	}
	if err := s.server.Stop(); err != nil {
		errs = append(errs, err)
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	if s.fileLog != nil {
		errs = append(errs, s.fileLog.Close())
		s.fileLog = nil
	}
	if s.ownsStore {
		if c, ok := s.store.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
		s.store, s.ownsStore = nil, false
	}
	return errors.Join(errs...)
}

// SendCommand sends a named command to a connected device and reports
// whether it was written.
func (s *KegService) SendCommand(ctx context.Context, deviceID string, name keg.CommandName, value string) bool {
	return s.writer.SendCommand(ctx, deviceID, name, value)
}

// Send is SendCommand with the failure reason.
func (s *KegService) Send(ctx context.Context, cmd command.Command) error {
	return s.writer.Send(ctx, cmd)
}

// Devices returns the ids of connected devices.
func (s *KegService) Devices() []string {
	return s.server.Devices()
}

// Connections returns a snapshot of live connections.
func (s *KegService) Connections() []transport.ConnInfo {
	return s.server.Connections()
}

// Record returns the stored telemetry of a device.
func (s *KegService) Record(ctx context.Context, deviceID string) (*store.Record, error) {
	if s.State() != StateRunning {
		return nil, ErrNotStarted
	}
	return s.store.Get(ctx, deviceID)
}

// ReconcileNow pushes diverging user preferences to every connected device.
func (s *KegService) ReconcileNow(ctx context.Context) (int, error) {
	if s.State() != StateRunning {
		return 0, ErrNotStarted
	}
	return s.reconciler.ReconcileNow(ctx)
}

// Addr returns the device listener address.
func (s *KegService) Addr() net.Addr { return s.server.Addr() }

// MetricsAddr returns the metrics listener address, or nil when disabled.
func (s *KegService) MetricsAddr() net.Addr { return s.metricsAddr }

// newProcessor builds the telemetry router of a new connection.
func (s *KegService) newProcessor(conn *transport.ServerConn) transport.Processor {
	cfg := telemetry.Config{
		Decoder:  keg.Decoder{IncludeUnknown: s.cfg.IncludeUnknownPins},
		Observer: s.metrics,
	}
	if s.logger != nil {
		cfg.Logger = s.logger.With("conn_id", conn.ConnID())
	}
	if s.bridge != nil {
		cfg.Sink = s.bridge
	}
	return routerProcessor{router: telemetry.NewRouter(s.store, s.writer, cfg)}
}

func (s *KegService) onConnect(*transport.ServerConn) {
	s.metrics.ConnectionOpened()
}

func (s *KegService) onRegister(_ *transport.ServerConn, deviceID string) {
	s.metrics.DeviceRegistered()
	if s.bridge != nil {
		s.bridge.DeviceOnline(deviceID)
	}
}

func (s *KegService) onDisconnect(conn *transport.ServerConn, reason string) {
	id := conn.DeviceID()
	s.metrics.ConnectionClosed(reason, id != "")
	if s.bridge != nil && id != "" && !slices.Contains(s.server.Devices(), id) {
		s.bridge.DeviceOffline(id)
	}
}

func (s *KegService) onFrame(_ *transport.ServerConn, f blynk.Frame) {
	s.metrics.FrameReceived(f.Command)
}

func (s *KegService) protocolLogger() log.Logger {
	var loggers []log.Logger
	if s.fileLog != nil {
		loggers = append(loggers, s.fileLog)
	}
	if s.extraProto != nil {
		loggers = append(loggers, s.extraProto)
	}
	switch len(loggers) {
	case 0:
		return nil
	case 1:
		return loggers[0]
	default:
		return log.NewMultiLogger(loggers...)
	}
}

func (s *KegService) setState(st ServiceState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

func (s *KegService) infoLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *KegService) warnLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

// routerProcessor adapts a telemetry router to the transport.
type routerProcessor struct {
	router *telemetry.Router
}

func (p routerProcessor) ProcessFrames(ctx context.Context, frames []blynk.Frame) (transport.Batch, error) {
	res, err := p.router.ProcessFrames(ctx, frames)
	return transport.Batch{DeviceID: res.DeviceID, NewlyIdentified: res.NewlyIdentified}, err
}

func (p routerProcessor) FlushPending(ctx context.Context) int {
	return p.router.FlushPending(ctx)
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.StoreFile:
		return store.NewFileStore(cfg.Path)
	case config.StoreNATS:
		return store.NewNATSStore(ctx, store.NATSOptions{URL: cfg.NATSURL, Bucket: cfg.Bucket})
	default:
		return store.NewMemoryStore(), nil
	}
}

func portOf(addr net.Addr) uint16 {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return uint16(tcp.Port)
	}
	_, p, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0
	}
	n, _ := strconv.ParseUint(p, 10, 16)
	return uint16(n)
}
