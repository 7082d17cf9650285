// Package transport accepts keg device connections and routes traffic.
//
// Devices connect over plain TCP and speak the Blynk binary protocol. The
// server runs one read loop per connection. Each inbound frame is
// acknowledged before it is handed to the connection's Processor. The
// device id only becomes known mid-stream, when the device announces it.
// Once known, the connection is registered under that id so that outbound
// commands can be routed to it.
//
// # Connection Lifecycle
//
//	ACCEPTED ──(device id announced)──► REGISTERED
//	    │                                  │
//	    └──────(EOF, timeout, error, Stop)─┴──► CLOSED
//
// Writes to one socket are serialized. On close, the device registry entry
// is removed unless another live connection already claims the same id.
package transport
