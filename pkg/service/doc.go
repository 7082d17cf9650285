// Package service wires the keglink components into a running server.
//
// KegService owns the telemetry store, the device listener, the command
// writer and the optional integrations (protocol capture, Prometheus
// metrics, MQTT bridge, mDNS advertisement). A Reconciler pushes stored
// user preferences to connected devices whose reported values disagree.
package service
