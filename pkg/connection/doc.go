// Package connection keeps a device-side session alive across connection
// loss.
//
// When a session ends, the next attempt waits with exponential backoff:
//
//  1. Initial delay: 1 second
//  2. Exponential increase: 2s, 4s, 8s, 16s
//  3. Maximum delay: 30 seconds
//  4. Reset to 1s once a session is established
//
// Each delay gets up to 25% jitter so that a fleet of kegs restarting with
// the server does not reconnect in lockstep:
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
package connection
