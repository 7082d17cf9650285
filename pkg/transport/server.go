package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/keglink/keglink-go/pkg/blynk"
	"github.com/keglink/keglink-go/pkg/log"
)

const (
	// DefaultAddress is the listen address used when none is configured.
	DefaultAddress = ":1234"

	// DefaultInactivityTimeout closes connections that stay silent this long.
	DefaultInactivityTimeout = 300 * time.Second

	// DefaultReadBufferSize is the maximum number of bytes taken per read.
	DefaultReadBufferSize = 1024

	// DefaultWriteTimeout bounds a single socket write.
	DefaultWriteTimeout = 10 * time.Second
)

// ServerConfig configures a keg device server.
type ServerConfig struct {
	// Address to listen on (e.g., ":1234" or "127.0.0.1:0").
	Address string

	// InactivityTimeout is the read deadline per read (default: 300s).
	InactivityTimeout time.Duration

	// ReadBufferSize is the read buffer size per connection (default: 1024).
	ReadBufferSize int

	// WriteTimeout bounds each socket write (default: 10s).
	WriteTimeout time.Duration

	// NewProcessor creates the per-connection frame processor. Required.
	NewProcessor ProcessorFactory

	// Logger for operational logging (optional).
	Logger *slog.Logger

	// ProtocolLogger captures frames and state changes (optional).
	ProtocolLogger log.Logger

	// OnConnect is called when a new connection is accepted.
	OnConnect func(conn *ServerConn)

	// OnRegister is called when a connection announces its device id.
	OnRegister func(conn *ServerConn, deviceID string)

	// OnDisconnect is called after a connection has been cleaned up.
	OnDisconnect func(conn *ServerConn, reason string)

	// OnFrame is called for every inbound frame.
	OnFrame func(conn *ServerConn, frame blynk.Frame)
}

// Server accepts device connections and routes commands to them.
type Server struct {
	config   ServerConfig
	listener net.Listener
	reg      *registry

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a new server. It does not listen until Start.
func NewServer(config ServerConfig) (*Server, error) {
	if config.NewProcessor == nil {
		return nil, ErrNoProcessor
	}
	if config.Address == "" {
		config.Address = DefaultAddress
	}
	if config.InactivityTimeout <= 0 {
		config.InactivityTimeout = DefaultInactivityTimeout
	}
	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = DefaultReadBufferSize
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	config.ProtocolLogger = log.OrNoop(config.ProtocolLogger)

	return &Server{
		config: config,
		reg:    newRegistry(),
	}, nil
}

// SetProtocolLogger replaces the protocol capture logger. Call it before Start.
func (s *Server) SetProtocolLogger(l log.Logger) {
	s.config.ProtocolLogger = log.OrNoop(l)
}

// Start listens and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return ErrServerRunning
	}

	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Address, err)
	}
	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running.Store(true)

	s.wg.Add(2)
	go s.acceptLoop()
	go s.watchContext()

	s.infoLog("listening", "addr", listener.Addr().String())
	return nil
}

// Stop stops accepting, closes every live connection and waits for their
// cleanup to finish.
func (s *Server) Stop() error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	s.wg.Wait()
	s.infoLog("stopped")
	return nil
}

// watchContext tears down the listener and connections once the server
// context ends, whether through Stop or the parent context.
func (s *Server) watchContext() {
	defer s.wg.Done()
	<-s.ctx.Done()
	s.running.Store(false)
	_ = s.listener.Close()
	for _, c := range s.reg.all() {
		c.closeWithReason(ReasonStopped)
	}
}

// Addr returns the listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ConnectionCount returns the number of live connections.
func (s *Server) ConnectionCount() int {
	return s.reg.len()
}

// Devices returns the ids of registered devices in sorted order.
func (s *Server) Devices() []string {
	return s.reg.deviceIDs()
}

// Connections returns a snapshot of every live connection.
func (s *Server) Connections() []ConnInfo {
	conns := s.reg.all()
	out := make([]ConnInfo, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.Info())
	}
	slices.SortFunc(out, func(a, b ConnInfo) int { return a.AcceptedAt.Compare(b.AcceptedAt) })
	return out
}

// SendCommandToKeg writes data to the connection registered for deviceID.
// It reports false when the device is not connected or the write fails.
func (s *Server) SendCommandToKeg(deviceID string, data []byte) bool {
	c := s.reg.lookup(deviceID)
	if c == nil {
		s.debugLog("device not connected", "device_id", deviceID)
		return false
	}
	if err := c.Send(data); err != nil {
		s.warnLog("send to device failed", "device_id", deviceID, "conn_id", c.connID, "error", err)
		c.logError("send command", err)
		return false
	}
	return true
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.warnLog("accept failed", "error", err)
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	c := newServerConn(s, conn, uuid.New().String())
	c.processor = s.config.NewProcessor(c)
	s.reg.add(c)

	// Stop may have swept the registry before c was added.
	if !s.running.Load() {
		c.closeWithReason(ReasonStopped)
	}

	c.logState("", "CONNECTED", "")
	s.infoLog("device connection accepted", "conn_id", c.connID, "remote", c.remoteAddr.String())
	if s.config.OnConnect != nil {
		s.config.OnConnect(c)
	}

	reason := c.readLoop(s.ctx)
	s.cleanup(c, reason)
}

// register records the device id announced on c and flushes commands held
// back until the device was reachable.
func (s *Server) register(ctx context.Context, c *ServerConn, deviceID string) {
	if !c.setDeviceID(deviceID) {
		return
	}
	if prev := s.reg.register(deviceID, c); prev != nil {
		s.infoLog("device reconnected", "device_id", deviceID, "conn_id", c.connID, "previous_conn_id", prev.connID)
	}

	c.logState("CONNECTED", "REGISTERED", "")
	s.infoLog("device registered", "device_id", deviceID, "conn_id", c.connID)
	if s.config.OnRegister != nil {
		s.config.OnRegister(c, deviceID)
	}

	if n := c.processor.FlushPending(ctx); n > 0 {
		s.debugLog("flushed pending commands", "device_id", deviceID, "count", n)
	}
}

func (s *Server) cleanup(c *ServerConn, reason string) {
	owner, touched := s.reg.remove(c)
	if touched {
		if owner != nil {
			s.debugLog("device entry handed to live connection", "device_id", c.DeviceID(), "conn_id", owner.connID)
		} else {
			s.debugLog("device unregistered", "device_id", c.DeviceID())
		}
	}
	c.closeWithReason(reason)

	old := "CONNECTED"
	if c.DeviceID() != "" {
		old = "REGISTERED"
	}
	c.markClosed()
	c.logState(old, "DISCONNECTED", c.closeReason())

	if c.closeReason() == ReasonTimeout {
		s.infoLog("inactivity timeout", "conn_id", c.connID, "device_id", c.DeviceID())
	} else {
		s.infoLog("device disconnected", "conn_id", c.connID, "device_id", c.DeviceID(), "reason", c.closeReason())
	}
	if s.config.OnDisconnect != nil {
		s.config.OnDisconnect(c, c.closeReason())
	}
}

func (s *Server) debugLog(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(msg, args...)
	}
}

func (s *Server) infoLog(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Info(msg, args...)
	}
}

func (s *Server) warnLog(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Warn(msg, args...)
	}
}
