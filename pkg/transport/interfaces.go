package transport

import (
	"context"

	"github.com/keglink/keglink-go/pkg/blynk"
)

// Batch is the outcome of processing the frames of one read.
type Batch struct {
	// DeviceID is the connection's device id after the batch, if known.
	DeviceID string

	// NewlyIdentified is set when this batch established the device id.
	NewlyIdentified bool
}

// Processor handles the inbound frames of a single connection.
// A Processor is only ever called from its connection's read loop.
type Processor interface {
	// ProcessFrames handles the frames of one read in arrival order.
	// An error is logged; it never closes the connection.
	ProcessFrames(ctx context.Context, frames []blynk.Frame) (Batch, error)

	// FlushPending delivers commands held back while the device was not
	// yet registered. It returns the number delivered.
	FlushPending(ctx context.Context) int
}

// ProcessorFactory creates the Processor for a newly accepted connection.
type ProcessorFactory func(conn *ServerConn) Processor

// DeviceSender routes raw frames to a registered device.
// Implemented by Server.
type DeviceSender interface {
	SendCommandToKeg(deviceID string, data []byte) bool
}

var _ DeviceSender = (*Server)(nil)
