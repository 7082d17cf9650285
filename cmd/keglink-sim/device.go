package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/keglink/keglink-go/pkg/blynk"
	"github.com/keglink/keglink-go/pkg/keg"
	"github.com/keglink/keglink-go/pkg/transport"
)

// firmwareVersion is reported in the INTERNAL handshake frame.
const firmwareVersion = "2.0.11"

// Virtual pins written by the keg firmware.
const (
	pinPercentLeft = "48"
	pinAmountLeft  = "51"
	pinTemperature = "56"
	pinEmptyKeg    = "62"
	pinUnit        = "71"
	pinMeasureUnit = "75"
	pinMaxKegVol   = "76"
	pinKegMode     = "88"
)

// SimDevice pretends to be a keg on an open connection.
type SimDevice struct {
	id     string
	conn   *transport.ClientConn
	logger *slog.Logger

	mu        sync.Mutex
	msgID     uint16
	amount    float64
	temp      float64
	pin       map[string]string
	commanded int
}

// NewSimDevice creates a simulated keg with id on conn.
func NewSimDevice(id string, conn *transport.ClientConn, logger *slog.Logger) *SimDevice {
	return &SimDevice{
		id:     id,
		conn:   conn,
		logger: logger.With("device_id", id),
		amount: 19.0,
		temp:   4.5,
		pin: map[string]string{
			pinUnit:        "1",
			pinMeasureUnit: "1",
			pinKegMode:     "1",
			pinEmptyKeg:    "4.2",
			pinMaxKegVol:   "19",
		},
	}
}

// Run announces the device and reports telemetry every interval until ctx
// ends or the connection fails.
func (d *SimDevice) Run(ctx context.Context, interval time.Duration) error {
	if err := d.handshake(); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- d.receiveLoop(ctx) }()

	if err := d.report(); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		case <-ticker.C:
			d.pour()
			if err := d.report(); err != nil {
				return err
			}
		}
	}
}

// Commanded returns how many server commands the device has applied.
func (d *SimDevice) Commanded() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.commanded
}

func (d *SimDevice) nextID() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.msgID++
	if d.msgID == 0 {
		d.msgID = 1
	}
	return d.msgID
}

func (d *SimDevice) handshake() error {
	if err := d.conn.Send(blynk.CommandGetSharedDash, d.nextID(), d.id); err != nil {
		return fmt.Errorf("announce: %w", err)
	}
	return d.conn.Send(blynk.CommandInternal, d.nextID(),
		"ver", "0.6.0", "h-beat", "10", "buff-in", "1024", "dev", "ESP8266", "fw", firmwareVersion)
}

// pour drains a fixed amount per tick.
func (d *SimDevice) pour() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.amount -= 0.33
	if d.amount < 0 {
		d.amount = 19.0
	}
	d.temp = 4.5 + float64(int(d.amount*10)%7)/10
}

func (d *SimDevice) report() error {
	d.mu.Lock()
	values := map[string]string{
		pinAmountLeft:  strconv.FormatFloat(d.amount, 'f', 2, 64),
		pinTemperature: strconv.FormatFloat(d.temp, 'f', 1, 64),
		pinPercentLeft: strconv.FormatFloat(d.amount/19.0*100, 'f', 0, 64),
	}
	for pin, v := range d.pin {
		values[pin] = v
	}
	d.mu.Unlock()

	for pin, v := range values {
		if err := d.conn.Send(blynk.CommandHardware, d.nextID(), keg.KindVirtualWrite, pin, v); err != nil {
			return fmt.Errorf("report V%s: %w", pin, err)
		}
	}
	d.logger.Debug("reported telemetry", "pins", len(values))
	return nil
}

func (d *SimDevice) receiveLoop(ctx context.Context) error {
	for {
		f, err := d.conn.Receive(0)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrConnectionClosed) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
		if f.IsResponse() {
			continue
		}
		d.apply(f)
		if err := d.conn.SendRaw(blynk.SuccessResponse(f.MessageID)); err != nil {
			return err
		}
	}
}

func (d *SimDevice) apply(f blynk.Frame) {
	tokens := blynk.SplitBody(f.Body)
	if f.Command != blynk.CommandHardware || len(tokens) != 3 || tokens[0] != keg.KindVirtualWrite {
		d.logger.Info("ignoring server frame", "frame", f.String())
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pin[tokens[1]]; !ok {
		d.logger.Info("ignoring write to unknown pin", "pin", tokens[1])
		return
	}
	d.pin[tokens[1]] = tokens[2]
	d.commanded++
	d.logger.Info("applied server command", "pin", tokens[1], "value", tokens[2])
}
