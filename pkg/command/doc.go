// Package command sends hardware-write commands to connected kegs.
//
// A single Sequence hands out message ids for every outbound frame the
// server produces, across all devices. Delivery is at-most-once: a command
// is written to the device's socket and never retried or acknowledged at
// this layer.
package command
