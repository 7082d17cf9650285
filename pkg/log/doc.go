// Package log provides structured protocol capture for keglink.
//
// This package defines the Logger interface and Event types for recording
// what happens on device connections: raw frames in and out, decoded
// messages, connection state changes and errors. It is separate from
// operational logging (slog). Protocol capture is a machine-readable trace
// for debugging firmware behavior after the fact.
//
// # Basic Usage
//
//	// For development: log to console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to a capture file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/keglink/devices.klog")
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # File Format
//
// Capture files are a stream of CBOR-encoded events with integer keys
// (.klog extension). The keglink-log command views and summarizes them.
package log
