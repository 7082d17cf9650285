package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/keglink/keglink-go/pkg/blynk"
	"github.com/keglink/keglink-go/pkg/keg"
)

// Command errors.
var (
	// ErrUnknownCommand indicates a command name missing from the table.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrDeviceOffline indicates the device has no live connection.
	ErrDeviceOffline = errors.New("device has no live connection")
)

// InvalidArgumentError reports a precondition violated by the caller.
type InvalidArgumentError struct {
	Argument string
	Reason   string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %s: %s", e.Argument, e.Reason)
}

// Command is an outbound command addressed to one device.
type Command struct {
	DeviceID string
	Name     keg.CommandName
	Value    string
}

// String returns a short description of the command.
func (c Command) String() string {
	return fmt.Sprintf("%s(%s)->%s", c.Name, c.Value, c.DeviceID)
}

// KegSender writes raw frames to the socket currently registered for a
// device. It reports false if there is none or the write failed.
type KegSender interface {
	SendCommandToKeg(deviceID string, data []byte) bool
}

// Observer is notified of every send attempt.
type Observer interface {
	CommandSent(cmd Command, err error)
}

// Writer encodes and sends commands.
type Writer struct {
	sender   KegSender
	seq      *Sequence
	logger   *slog.Logger
	observer Observer
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) WriterOption {
	return func(w *Writer) { w.logger = l }
}

// WithSequence shares a message id sequence with other writers.
func WithSequence(seq *Sequence) WriterOption {
	return func(w *Writer) { w.seq = seq }
}

// WithObserver registers an observer of send attempts.
func WithObserver(o Observer) WriterOption {
	return func(w *Writer) { w.observer = o }
}

// NewWriter creates a Writer sending through sender.
func NewWriter(sender KegSender, opts ...WriterOption) *Writer {
	w := &Writer{sender: sender}
	for _, opt := range opts {
		opt(w)
	}
	if w.seq == nil {
		w.seq = &Sequence{}
	}
	return w
}

// SendCommand sends a named command to a device and reports success.
// It never panics or returns an error; use Send for the failure reason.
func (w *Writer) SendCommand(ctx context.Context, deviceID string, name keg.CommandName, value string) bool {
	err := w.Send(ctx, Command{DeviceID: deviceID, Name: name, Value: value})
	return err == nil
}

// Dispatch sends cmd. It satisfies the telemetry router's dispatcher.
func (w *Writer) Dispatch(ctx context.Context, cmd Command) error {
	return w.Send(ctx, cmd)
}

// Send validates, encodes and writes cmd.
func (w *Writer) Send(ctx context.Context, cmd Command) (err error) {
	defer func() {
		if w.observer != nil {
			w.observer.CommandSent(cmd, err)
		}
		if err != nil {
			w.debugLog("command not sent", "command", cmd.String(), "error", err)
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	if cmd.DeviceID == "" {
		return &InvalidArgumentError{Argument: "device_id", Reason: "empty"}
	}

	data, err := w.Encode(cmd)
	if err != nil {
		return err
	}

	if w.sender == nil || !w.sender.SendCommandToKeg(cmd.DeviceID, data) {
		return fmt.Errorf("%w: %s", ErrDeviceOffline, cmd.DeviceID)
	}

	w.debugLog("command sent", "command", cmd.String())
	return nil
}

// Encode builds the hardware frame for cmd using the next message id.
func (w *Writer) Encode(cmd Command) ([]byte, error) {
	spec, ok := keg.LookupCommand(cmd.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Name)
	}
	value, err := keg.NormalizeCommandValue(cmd.Name, cmd.Value)
	if err != nil {
		return nil, err
	}
	body := HardwareWriteBody(spec.Pin, value)
	if len(body) > blynk.MaxBodySize {
		return nil, &InvalidArgumentError{Argument: "value", Reason: fmt.Sprintf("frame body of %d bytes exceeds %d", len(body), blynk.MaxBodySize)}
	}
	return blynk.EncodeCommand(blynk.CommandHardware, w.seq.Next(), body), nil
}

// HardwareWriteBody builds the "vw\0<pin>\0<value>" body of a pin write.
func HardwareWriteBody(pin, value string) []byte {
	return blynk.JoinBody(keg.KindVirtualWrite, pin, value)
}

func (w *Writer) debugLog(msg string, args ...any) {
	if w.logger != nil {
		w.logger.Debug(msg, args...)
	}
}
