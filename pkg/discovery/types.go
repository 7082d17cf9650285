package discovery

import (
	"errors"
	"time"
)

const (
	// ServiceType is the DNS-SD service type of a keglink server.
	ServiceType = "_keglink._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// MaxInstanceNameLen is the DNS-SD limit for instance labels.
	MaxInstanceNameLen = 63

	// ProtocolBlynk is the only wire protocol spoken by the server.
	ProtocolBlynk = "blynk"
)

// TXT record keys.
const (
	TXTKeyVersion  = "v"
	TXTKeyProtocol = "proto"
	TXTKeyStore    = "store"
)

// Discovery errors.
var (
	ErrMissingRequired     = errors.New("missing required TXT record")
	ErrInvalidInstanceName = errors.New("invalid instance name")
	ErrInvalidPort         = errors.New("invalid port")
)

// ServerInfo describes the server being advertised.
type ServerInfo struct {
	// Instance is the DNS-SD instance name.
	Instance string

	// Port is the device listener port.
	Port uint16

	// Version is the server version string.
	Version string

	// Store names the telemetry store driver (optional).
	Store string
}

// Service is a keglink server found on the network.
type Service struct {
	Instance  string
	Host      string
	Port      uint16
	Addresses []string
	Protocol  string
	Version   string
}

// AdvertiserConfig configures an advertiser.
type AdvertiserConfig struct {
	// Interface restricts advertising to one network interface (optional).
	Interface string

	// TTL for the DNS records (0 uses the library default).
	TTL time.Duration
}

// BrowserConfig configures a browser.
type BrowserConfig struct {
	// Interface restricts browsing to one network interface (optional).
	Interface string
}
