// Package config loads keglink server configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Store drivers.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreNATS   = "nats"
)

// Defaults.
const (
	DefaultListenAddress     = ":1234"
	DefaultInactivityTimeout = 300 * time.Second
	DefaultReadBufferSize    = 1024
	DefaultStorePath         = "keglink-state.json"
	DefaultNATSURL           = "nats://127.0.0.1:4222"
	DefaultNATSBucket        = "keg_telemetry"
	DefaultTopicPrefix       = "keglink"
	DefaultMDNSInstance      = "keglink"
)

// Config is the server configuration.
type Config struct {
	// ListenAddress is the TCP address devices connect to.
	ListenAddress string `yaml:"listen_address"`

	// InactivityTimeout closes connections that stay silent this long.
	InactivityTimeout time.Duration `yaml:"inactivity_timeout"`

	// ReadBufferSize is the maximum number of bytes taken per read.
	ReadBufferSize int `yaml:"read_buffer_size"`

	// IncludeUnknownPins persists readings from unmapped pins under
	// generated field names instead of dropping them.
	IncludeUnknownPins bool `yaml:"include_unknown_pins"`

	Store StoreConfig `yaml:"store"`

	// ProtocolLog is the path of the CBOR capture file. Empty disables capture.
	ProtocolLog string `yaml:"protocol_log"`

	// MetricsAddress serves Prometheus metrics. Empty disables the endpoint.
	MetricsAddress string `yaml:"metrics_address"`

	// ReconcileInterval is the period of the user-override reconciler.
	// Zero disables periodic reconciliation.
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`

	MQTT MQTTConfig `yaml:"mqtt"`
	MDNS MDNSConfig `yaml:"mdns"`
}

// StoreConfig selects the telemetry store backend.
type StoreConfig struct {
	Driver  string `yaml:"driver"`
	Path    string `yaml:"path"`
	NATSURL string `yaml:"nats_url"`
	Bucket  string `yaml:"bucket"`
}

// MQTTConfig configures the optional MQTT bridge. An empty Broker disables it.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
}

// Enabled reports whether the bridge is configured.
func (c MQTTConfig) Enabled() bool { return c.Broker != "" }

// MDNSConfig configures service advertisement.
type MDNSConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Instance  string `yaml:"instance"`
	Interface string `yaml:"interface"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		ListenAddress:     DefaultListenAddress,
		InactivityTimeout: DefaultInactivityTimeout,
		ReadBufferSize:    DefaultReadBufferSize,
		Store: StoreConfig{
			Driver:  StoreMemory,
			Path:    DefaultStorePath,
			NATSURL: DefaultNATSURL,
			Bucket:  DefaultNATSBucket,
		},
		MQTT: MQTTConfig{
			ClientID:    "keglink",
			TopicPrefix: DefaultTopicPrefix,
		},
		MDNS: MDNSConfig{
			Instance: DefaultMDNSInstance,
		},
	}
}

// Parse decodes YAML over the defaults. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// An empty document decodes to io.EOF and keeps the defaults.
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Load reads and parses the file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.ListenAddress == "" {
		return invalid("listen_address is required")
	}
	if c.InactivityTimeout <= 0 {
		return invalid("inactivity_timeout must be positive, got %s", c.InactivityTimeout)
	}
	if c.ReadBufferSize < 5 {
		return invalid("read_buffer_size must hold at least one frame header, got %d", c.ReadBufferSize)
	}
	if c.ReconcileInterval < 0 {
		return invalid("reconcile_interval must not be negative")
	}
	switch c.Store.Driver {
	case StoreMemory:
	case StoreFile:
		if c.Store.Path == "" {
			return invalid("store.path is required for the file driver")
		}
	case StoreNATS:
		if c.Store.NATSURL == "" || c.Store.Bucket == "" {
			return invalid("store.nats_url and store.bucket are required for the nats driver")
		}
	default:
		return invalid("unknown store.driver %q", c.Store.Driver)
	}
	if c.MQTT.Enabled() && c.MQTT.TopicPrefix == "" {
		return invalid("mqtt.topic_prefix is required when mqtt.broker is set")
	}
	if c.MDNS.Enabled && c.MDNS.Instance == "" {
		return invalid("mdns.instance is required when mdns is enabled")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
