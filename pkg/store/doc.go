// Package store persists decoded keg telemetry keyed by device id.
//
// A Record holds the last known device-reported fields together with the
// user preference fields (user_unit, user_measure_unit,
// user_keg_mode_c02_beer) that other parts of the system write. The
// telemetry router only ever updates device fields.
//
// Three implementations are provided:
//   - MemoryStore: process-local, used in tests and for ephemeral runs
//   - FileStore: a single JSON document on disk
//   - NATSStore: a JetStream key/value bucket
package store
