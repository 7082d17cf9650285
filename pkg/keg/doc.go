// Package keg interprets Blynk frames sent by Plaato Keg hardware.
//
// The firmware reports its state by writing virtual pins. The Decoder maps
// each (command, kind, pin) triple to a canonical field name such as
// "amount_left" or "temperature" and turns frames into Readings. The same
// package holds the table of commands the server can send back, and the
// list of fields a user may override.
package keg
