package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":1234", cfg.ListenAddress)
	assert.Equal(t, 300*time.Second, cfg.InactivityTimeout)
	assert.Equal(t, StoreMemory, cfg.Store.Driver)
	assert.False(t, cfg.MQTT.Enabled())
}

func TestParseOverlaysDefaults(t *testing.T) {
	data := []byte(`
listen_address: "0.0.0.0:5000"
inactivity_timeout: 90s
include_unknown_pins: true
reconcile_interval: 5m
store:
  driver: nats
  nats_url: nats://broker:4222
mqtt:
  broker: tcp://mqtt:1883
mdns:
  enabled: true
`)
	cfg, err := Parse(data)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "0.0.0.0:5000", cfg.ListenAddress)
	assert.Equal(t, 90*time.Second, cfg.InactivityTimeout)
	assert.Equal(t, 5*time.Minute, cfg.ReconcileInterval)
	assert.True(t, cfg.IncludeUnknownPins)
	assert.Equal(t, DefaultReadBufferSize, cfg.ReadBufferSize, "unset keys keep defaults")
	assert.Equal(t, "nats://broker:4222", cfg.Store.NATSURL)
	assert.Equal(t, DefaultNATSBucket, cfg.Store.Bucket)
	assert.True(t, cfg.MQTT.Enabled())
	assert.Equal(t, DefaultTopicPrefix, cfg.MQTT.TopicPrefix)
	assert.Equal(t, DefaultMDNSInstance, cfg.MDNS.Instance)
}

func TestParseEmptyKeepsDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("listen_adress: :1\n"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keglink.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: file\n  path: /tmp/kegs.json\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, StoreFile, cfg.Store.Driver)
	assert.Equal(t, "/tmp/kegs.json", cfg.Store.Path)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen address", func(c *Config) { c.ListenAddress = "" }},
		{"zero timeout", func(c *Config) { c.InactivityTimeout = 0 }},
		{"tiny buffer", func(c *Config) { c.ReadBufferSize = 4 }},
		{"negative reconcile", func(c *Config) { c.ReconcileInterval = -time.Second }},
		{"unknown driver", func(c *Config) { c.Store.Driver = "postgres" }},
		{"file without path", func(c *Config) { c.Store.Driver = StoreFile; c.Store.Path = "" }},
		{"nats without bucket", func(c *Config) { c.Store.Driver = StoreNATS; c.Store.Bucket = "" }},
		{"mqtt without prefix", func(c *Config) { c.MQTT.Broker = "tcp://x:1883"; c.MQTT.TopicPrefix = "" }},
		{"mdns without instance", func(c *Config) { c.MDNS.Enabled = true; c.MDNS.Instance = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}
