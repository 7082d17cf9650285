package transport

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/keglink/keglink-go/pkg/blynk"
	"github.com/keglink/keglink-go/pkg/log"
)

// Disconnect reasons reported to OnDisconnect. I/O failures report the
// error text instead.
const (
	ReasonPeerClosed = "peer closed"
	ReasonTimeout    = "inactivity timeout"
	ReasonStopped    = "server stopped"
)

// ConnInfo is a snapshot of a live connection.
type ConnInfo struct {
	ConnID     string
	DeviceID   string
	RemoteAddr string
	State      ConnState
	AcceptedAt time.Time
	LastSeen   time.Time
}

// ServerConn is one accepted device connection.
type ServerConn struct {
	conn       net.Conn
	server     *Server
	processor  Processor
	connID     string
	remoteAddr net.Addr
	acceptedAt time.Time

	closeCh   chan struct{}
	closeOnce sync.Once

	// writeMu serializes acknowledgments and outbound commands.
	writeMu sync.Mutex

	mu       sync.RWMutex
	deviceID string
	state    ConnState
	lastSeen time.Time
	reason   string
}

func newServerConn(s *Server, conn net.Conn, connID string) *ServerConn {
	now := time.Now()
	return &ServerConn{
		conn:       conn,
		server:     s,
		connID:     connID,
		remoteAddr: conn.RemoteAddr(),
		acceptedAt: now,
		lastSeen:   now,
		closeCh:    make(chan struct{}),
	}
}

// ConnID returns the unique connection identifier.
func (c *ServerConn) ConnID() string { return c.connID }

// RemoteAddr returns the device's network address.
func (c *ServerConn) RemoteAddr() net.Addr { return c.remoteAddr }

// DeviceID returns the announced device id, or "" before announcement.
func (c *ServerConn) DeviceID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deviceID
}

// State returns the connection's lifecycle state.
func (c *ServerConn) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Info returns a snapshot of the connection.
func (c *ServerConn) Info() ConnInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ConnInfo{
		ConnID:     c.connID,
		DeviceID:   c.deviceID,
		RemoteAddr: c.remoteAddr.String(),
		State:      c.state,
		AcceptedAt: c.acceptedAt,
		LastSeen:   c.lastSeen,
	}
}

// Send writes data to the device. Concurrent callers are serialized.
func (c *ServerConn) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout)); err != nil {
		return err
	}
	if _, err := c.conn.Write(data); err != nil {
		return err
	}
	frames, consumed := blynk.Decode(data)
	c.logFrame(log.DirectionOut, data, len(data)-consumed)
	for _, f := range frames {
		c.logMessage(log.DirectionOut, f)
	}
	return nil
}

// Close closes the connection. Its read loop ends and cleanup runs.
func (c *ServerConn) Close() error {
	return c.closeWithReason("closed locally")
}

func (c *ServerConn) closeWithReason(reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if c.reason == "" {
			c.reason = reason
		}
		c.mu.Unlock()
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}

func (c *ServerConn) closeReason() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reason
}

// setReason records why the read loop ended, unless a reason is already set.
func (c *ServerConn) setReason(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reason == "" {
		c.reason = reason
	}
}

// setDeviceID records the device id the first time it is announced.
func (c *ServerConn) setDeviceID(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deviceID != "" || id == "" || c.state == StateClosed {
		return false
	}
	c.deviceID = id
	c.state = StateRegistered
	return true
}

func (c *ServerConn) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateClosed
}

func (c *ServerConn) touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSeen = time.Now()
}

// readLoop reads until the peer closes, the inactivity window elapses,
// an I/O error occurs or ctx ends. It returns the disconnect reason.
func (c *ServerConn) readLoop(ctx context.Context) string {
	cfg := c.server.config
	buf := make([]byte, cfg.ReadBufferSize)

	for {
		select {
		case <-c.closeCh:
			return c.closeReason()
		case <-ctx.Done():
			c.setReason(ReasonStopped)
			return c.closeReason()
		default:
		}

		if err := c.conn.SetReadDeadline(time.Now().Add(cfg.InactivityTimeout)); err != nil {
			c.setReason(fmt.Sprintf("set deadline: %v", err))
			return c.closeReason()
		}

		n, err := c.conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if herr := c.handleRead(ctx, data); herr != nil {
				c.logError("acknowledge", herr)
				c.setReason(fmt.Sprintf("write: %v", herr))
				return c.closeReason()
			}
		}
		if err != nil {
			select {
			case <-c.closeCh:
				return c.closeReason()
			default:
			}
			c.setReason(readErrorReason(err))
			if c.closeReason() != ReasonPeerClosed && c.closeReason() != ReasonTimeout {
				c.logError("read", err)
			}
			return c.closeReason()
		}
	}
}

func readErrorReason(err error) string {
	var ne net.Error
	switch {
	case errors.Is(err, io.EOF):
		return ReasonPeerClosed
	case errors.Is(err, os.ErrDeadlineExceeded), errors.As(err, &ne) && ne.Timeout():
		return ReasonTimeout
	default:
		return err.Error()
	}
}

// handleRead acknowledges and processes the bytes of one read. Only write
// failures are returned; processing errors are logged.
func (c *ServerConn) handleRead(ctx context.Context, data []byte) error {
	c.touch()

	frames, consumed := blynk.Decode(data)
	c.logFrame(log.DirectionIn, data, len(data)-consumed)
	if consumed < len(data) {
		c.server.debugLog("discarding incomplete frame bytes", "conn_id", c.connID, "bytes", len(data)-consumed)
	}

	for _, f := range frames {
		c.logMessage(log.DirectionIn, f)
		if c.server.config.OnFrame != nil {
			c.server.config.OnFrame(c, f)
		}
		if f.IsResponse() {
			continue
		}
		if err := c.Send(blynk.SuccessResponse(f.MessageID)); err != nil {
			return err
		}
	}
	if len(frames) == 0 {
		return nil
	}

	batch, err := c.processor.ProcessFrames(ctx, frames)
	if err != nil {
		c.server.warnLog("processing failed", "conn_id", c.connID, "device_id", batch.DeviceID,
			"error", err, "raw", hex.EncodeToString(data))
		c.logError("process", err)
	}
	if batch.NewlyIdentified && batch.DeviceID != "" {
		c.server.register(ctx, c, batch.DeviceID)
	}
	return nil
}

func (c *ServerConn) event(dir log.Direction, layer log.Layer, cat log.Category) log.Event {
	return log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Direction:    dir,
		Layer:        layer,
		Category:     cat,
		RemoteAddr:   c.remoteAddr.String(),
		DeviceID:     c.DeviceID(),
	}
}

func (c *ServerConn) logFrame(dir log.Direction, data []byte, discarded int) {
	e := c.event(dir, log.LayerTransport, log.CategoryMessage)
	e.Frame = log.NewFrameEvent(data)
	e.Frame.Discarded = discarded
	c.server.config.ProtocolLogger.Log(e)
}

func (c *ServerConn) logMessage(dir log.Direction, f blynk.Frame) {
	e := c.event(dir, log.LayerWire, log.CategoryMessage)
	e.Message = log.NewMessageEvent(f)
	c.server.config.ProtocolLogger.Log(e)
}

func (c *ServerConn) logState(oldState, newState, reason string) {
	e := c.event(log.DirectionIn, log.LayerTransport, log.CategoryState)
	e.StateChange = &log.StateChangeEvent{
		Entity:   log.StateEntityConnection,
		OldState: oldState,
		NewState: newState,
		Reason:   reason,
	}
	c.server.config.ProtocolLogger.Log(e)
}

func (c *ServerConn) logError(op string, err error) {
	e := c.event(log.DirectionIn, log.LayerTransport, log.CategoryError)
	e.Error = &log.ErrorEventData{
		Layer:   log.LayerTransport,
		Message: err.Error(),
		Context: op,
	}
	c.server.config.ProtocolLogger.Log(e)
}
