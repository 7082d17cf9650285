// Package telemetry turns the frames of one device connection into
// persisted telemetry and corrective commands.
//
// A Router is bound to a single connection. It remembers the device id the
// connection announced, persists device-reported fields with an upsert, and
// pushes user preferences back to the device whenever the device reports a
// different value for an overrideable setting.
package telemetry
