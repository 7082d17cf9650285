// Package mqttbridge mirrors keg telemetry to an MQTT broker and accepts
// commands from it.
//
// Topics, relative to the configured prefix:
//
//	<prefix>/status                        online/offline (retained)
//	<prefix>/<device>/telemetry            JSON of each persisted update
//	<prefix>/<device>/status               online/offline (retained)
//	<prefix>/<device>/command/<name>       payload is the command value
//	<prefix>/<device>/command/<name>/result "ok" or "failed"
package mqttbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/keglink/keglink-go/pkg/keg"
)

// ErrConnectTimeout is returned when the broker does not answer in time.
var ErrConnectTimeout = errors.New("mqtt connect timeout")

const (
	payloadOnline  = "online"
	payloadOffline = "offline"
)

// CommandSender delivers a named command to a device.
type CommandSender interface {
	SendCommand(ctx context.Context, deviceID string, name keg.CommandName, value string) bool
}

// Config configures a Bridge.
type Config struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string

	// QoS for publishes and the command subscription (default: 1).
	QoS byte

	// ConnectTimeout bounds Start (default: 10s).
	ConnectTimeout time.Duration

	// Logger for operational logging (optional).
	Logger *slog.Logger
}

// client is the subset of mqtt.Client the bridge uses.
type client interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// Bridge connects the telemetry pipeline to an MQTT broker.
type Bridge struct {
	config Config
	sender CommandSender
	client client

	mu  sync.Mutex
	ctx context.Context
}

// TelemetryMessage is the JSON published for each persisted update.
type TelemetryMessage struct {
	DeviceID string            `json:"device_id"`
	Fields   map[string]string `json:"fields"`
}

// New creates a bridge backed by a paho client. It does not connect until
// Start.
func New(config Config, sender CommandSender) *Bridge {
	b := newBridge(config, sender)
	opts := mqtt.NewClientOptions().
		AddBroker(config.Broker).
		SetClientID(b.config.ClientID).
		SetUsername(config.Username).
		SetPassword(config.Password).
		SetWill(b.statusTopic(), payloadOffline, b.config.QoS, true).
		SetOrderMatters(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(b.onConnect).
		SetConnectionLostHandler(b.onConnectionLost)
	b.client = mqtt.NewClient(opts)
	return b
}

func newBridge(config Config, sender CommandSender) *Bridge {
	if config.QoS == 0 {
		config.QoS = 1
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if config.ClientID == "" {
		config.ClientID = "keglink"
	}
	config.TopicPrefix = strings.TrimSuffix(config.TopicPrefix, "/")
	return &Bridge{config: config, sender: sender, ctx: context.Background()}
}

// Start connects to the broker. Commands received afterwards run with ctx.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()

	token := b.client.Connect()
	if !token.WaitTimeout(b.config.ConnectTimeout) {
		return fmt.Errorf("%w: %s", ErrConnectTimeout, b.config.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", b.config.Broker, err)
	}
	return nil
}

// Stop publishes the offline status and disconnects.
func (b *Bridge) Stop() {
	b.client.Publish(b.statusTopic(), b.config.QoS, true, payloadOffline).WaitTimeout(time.Second)
	b.client.Disconnect(250)
}

// TelemetryUpdated publishes the persisted fields of one device.
func (b *Bridge) TelemetryUpdated(deviceID string, fields map[string]string) {
	payload, err := json.Marshal(TelemetryMessage{DeviceID: deviceID, Fields: fields})
	if err != nil {
		b.warnLog("encode telemetry", "device_id", deviceID, "error", err)
		return
	}
	b.client.Publish(b.deviceTopic(deviceID, "telemetry"), b.config.QoS, false, payload)
}

// DeviceOnline publishes the retained online status of a device.
func (b *Bridge) DeviceOnline(deviceID string) {
	b.client.Publish(b.deviceTopic(deviceID, "status"), b.config.QoS, true, payloadOnline)
}

// DeviceOffline publishes the retained offline status of a device.
func (b *Bridge) DeviceOffline(deviceID string) {
	b.client.Publish(b.deviceTopic(deviceID, "status"), b.config.QoS, true, payloadOffline)
}

func (b *Bridge) onConnect(mqtt.Client) {
	b.infoLog("mqtt connected", "broker", b.config.Broker)
	topic := b.config.TopicPrefix + "/+/command/+"
	if token := b.client.Subscribe(topic, b.config.QoS, b.handleCommand); token.Wait() && token.Error() != nil {
		b.warnLog("mqtt subscribe failed", "topic", topic, "error", token.Error())
		return
	}
	b.client.Publish(b.statusTopic(), b.config.QoS, true, payloadOnline)
}

func (b *Bridge) onConnectionLost(_ mqtt.Client, err error) {
	b.warnLog("mqtt connection lost", "error", err)
}

// handleCommand runs a command received on <prefix>/<device>/command/<name>.
func (b *Bridge) handleCommand(_ mqtt.Client, msg mqtt.Message) {
	deviceID, name, ok := b.parseCommandTopic(msg.Topic())
	if !ok {
		b.debugLog("ignoring message", "topic", msg.Topic())
		return
	}
	value := strings.TrimSpace(string(msg.Payload()))

	b.mu.Lock()
	ctx := b.ctx
	b.mu.Unlock()

	result := "failed"
	if b.sender.SendCommand(ctx, deviceID, name, value) {
		result = "ok"
	}
	b.infoLog("mqtt command", "device_id", deviceID, "command", name, "value", value, "result", result)
	b.client.Publish(msg.Topic()+"/result", b.config.QoS, false, result)
}

func (b *Bridge) parseCommandTopic(topic string) (deviceID string, name keg.CommandName, ok bool) {
	rest, found := strings.CutPrefix(topic, b.config.TopicPrefix+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != "command" || parts[0] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[0], keg.CommandName(parts[2]), true
}

func (b *Bridge) statusTopic() string {
	return b.config.TopicPrefix + "/status"
}

func (b *Bridge) deviceTopic(deviceID, leaf string) string {
	return b.config.TopicPrefix + "/" + deviceID + "/" + leaf
}

func (b *Bridge) debugLog(msg string, args ...any) {
	if b.config.Logger != nil {
		b.config.Logger.Debug(msg, args...)
	}
}

func (b *Bridge) infoLog(msg string, args ...any) {
	if b.config.Logger != nil {
		b.config.Logger.Info(msg, args...)
	}
}

func (b *Bridge) warnLog(msg string, args ...any) {
	if b.config.Logger != nil {
		b.config.Logger.Warn(msg, args...)
	}
}
