package log

import (
	"time"

	"github.com/keglink/keglink-go/pkg/blynk"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the connection (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// RemoteAddr is the peer address (IP:port).
	RemoteAddr string `cbor:"6,keyasint,omitempty"`

	// DeviceID is the device identifier (populated once announced).
	DeviceID string `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Raw bytes
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"` // Decoded frame
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Connection state
	Error       *ErrorEventData   `cbor:"13,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates bytes received from a device.
	DirectionIn Direction = 0
	// DirectionOut indicates bytes sent to a device.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerTransport is the socket layer (raw bytes).
	LayerTransport Layer = 0
	// LayerWire is the frame layer (decoded headers).
	LayerWire Layer = 1
	// LayerService is the telemetry and command layer.
	LayerService Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerService:
		return "SERVICE"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates protocol traffic.
	CategoryMessage Category = 0
	// CategoryState indicates a state change.
	CategoryState Category = 1
	// CategoryError indicates an error event.
	CategoryError Category = 2
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw bytes at the transport layer.
type FrameEvent struct {
	// Size is the number of bytes read or written.
	Size int `cbor:"1,keyasint"`

	// Data is the raw bytes (may be truncated for large reads).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`

	// Discarded counts trailing bytes that did not form a complete frame.
	Discarded int `cbor:"4,keyasint,omitempty"`
}

// MessageEvent captures one decoded frame at the wire layer.
type MessageEvent struct {
	// Command is the frame command code.
	Command blynk.Command `cbor:"1,keyasint"`

	// MessageID is the frame message id.
	MessageID uint16 `cbor:"2,keyasint"`

	// Status is set for response frames.
	Status *blynk.Status `cbor:"3,keyasint,omitempty"`

	// BodySize is the body length in bytes.
	BodySize int `cbor:"4,keyasint"`

	// Unknown is set when the command or status was not recognized.
	Unknown bool `cbor:"5,keyasint,omitempty"`

	// Field and Value describe the decoded reading, if any.
	Field string `cbor:"6,keyasint,omitempty"`
	Value string `cbor:"7,keyasint,omitempty"`
}

// NewMessageEvent builds a MessageEvent from a frame.
func NewMessageEvent(f blynk.Frame) *MessageEvent {
	m := &MessageEvent{
		Command:   f.Command,
		MessageID: f.MessageID,
		BodySize:  len(f.Body),
		Unknown:   f.Unknown,
	}
	if f.IsResponse() {
		st := f.Status()
		m.Status = &st
	}
	return m
}

// StateChangeEvent captures connection lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntityDevice indicates a device registry change.
	StateEntityDevice StateEntity = 1
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityDevice:
		return "DEVICE"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}

// MaxCapturedBytes caps the raw bytes stored in a FrameEvent.
const MaxCapturedBytes = 512

// NewFrameEvent builds a FrameEvent, truncating data beyond MaxCapturedBytes.
func NewFrameEvent(data []byte) *FrameEvent {
	fe := &FrameEvent{Size: len(data)}
	if len(data) > MaxCapturedBytes {
		data = data[:MaxCapturedBytes]
		fe.Truncated = true
	}
	fe.Data = append([]byte(nil), data...)
	return fe
}
