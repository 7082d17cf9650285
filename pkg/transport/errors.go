package transport

import "errors"

// Transport errors.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrServerRunning    = errors.New("server already running")
	ErrNoProcessor      = errors.New("processor factory is required")
)
