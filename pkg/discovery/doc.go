// Package discovery advertises keglink servers over mDNS/DNS-SD.
//
// A server announces itself as a "_keglink._tcp" service so that device
// provisioning tools and the device simulator can find it on the local
// network without a configured address. TXT records carry the protocol
// name and the server version.
package discovery
