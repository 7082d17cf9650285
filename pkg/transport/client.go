package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/keglink/keglink-go/pkg/blynk"
)

// ClientConfig configures a device-side client.
type ClientConfig struct {
	// ConnectTimeout is the dial timeout (default: 10s).
	ConnectTimeout time.Duration
}

// Client dials a keg server the way a device does. It is used by the
// device simulator and by tests.
type Client struct {
	config ClientConfig
}

// NewClient creates a new client.
func NewClient(config ClientConfig) *Client {
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	return &Client{config: config}
}

// Connect establishes a connection to address.
func (c *Client) Connect(ctx context.Context, address string) (*ClientConn, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ConnectTimeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return &ClientConn{
		conn:    conn,
		r:       bufio.NewReader(conn),
		closeCh: make(chan struct{}),
	}, nil
}

// ClientConn is a device-side connection.
type ClientConn struct {
	conn    net.Conn
	r       *bufio.Reader
	closeCh chan struct{}

	closeOnce sync.Once
	writeMu   sync.Mutex
	readMu    sync.Mutex
}

// LocalAddr returns the local network address.
func (c *ClientConn) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// RemoteAddr returns the server address.
func (c *ClientConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// SendRaw writes data as is.
func (c *ClientConn) SendRaw(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}
	_, err := c.conn.Write(data)
	return err
}

// Send encodes and writes one command frame.
func (c *ClientConn) Send(cmd blynk.Command, msgID uint16, tokens ...string) error {
	return c.SendRaw(blynk.EncodeCommand(cmd, msgID, blynk.JoinBody(tokens...)))
}

// Receive reads exactly one frame. Unlike the server-side decoder it reads
// a response frame as a bare header, since server acknowledgments carry no
// body.
func (c *ClientConn) Receive(timeout time.Duration) (blynk.Frame, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	select {
	case <-c.closeCh:
		return blynk.Frame{}, ErrConnectionClosed
	default:
	}

	if timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
		defer c.conn.SetReadDeadline(time.Time{})
	}

	var hdr [blynk.HeaderSize]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		return blynk.Frame{}, err
	}
	f := blynk.Frame{
		Command:   blynk.Command(hdr[0]),
		MessageID: binary.BigEndian.Uint16(hdr[1:3]),
		Length:    binary.BigEndian.Uint16(hdr[3:5]),
	}
	if f.IsResponse() {
		f.Unknown = !f.Status().Known()
		return f, nil
	}
	f.Unknown = !f.Command.Known()
	f.Body = make([]byte, f.Length)
	if _, err := io.ReadFull(c.r, f.Body); err != nil {
		return blynk.Frame{}, err
	}
	return f, nil
}

// Close closes the connection.
func (c *ClientConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}
