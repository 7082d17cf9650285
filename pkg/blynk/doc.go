// Package blynk implements the Blynk-derived binary framing spoken by
// Plaato Keg hardware.
//
// Every frame starts with a 5 byte header, all integers big-endian:
//
//	┌─────────┬────────────┬──────────────────┬──────────────┐
//	│ cmd (1) │ msg_id (2) │ length/status (2)│ body (length)│
//	└─────────┴────────────┴──────────────────┴──────────────┘
//
// For CommandResponse the third field is a status code rather than a body
// length, and everything after the header belongs to the body. A decoder
// therefore stops after a response frame.
//
// The codec is stateless. Decode never carries partial frames across calls:
// a frame whose body is not fully present in the supplied buffer is not
// emitted, and the caller decides what to do with the unconsumed tail.
package blynk
