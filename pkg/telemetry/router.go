package telemetry

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/keglink/keglink-go/pkg/blynk"
	"github.com/keglink/keglink-go/pkg/command"
	"github.com/keglink/keglink-go/pkg/keg"
	"github.com/keglink/keglink-go/pkg/store"
)

// maxPending bounds the corrective commands held for a device that is not
// reachable yet.
const maxPending = 16

// Dispatcher sends corrective commands.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd command.Command) error
}

// Sink receives the fields of every successful upsert.
type Sink interface {
	TelemetryUpdated(deviceID string, fields map[string]string)
}

// Observer is notified of every processed batch.
type Observer interface {
	BatchProcessed(res Result, err error)
}

// Config configures a Router.
type Config struct {
	// Decoder interprets frames. The zero value drops unmapped pins.
	Decoder keg.Decoder

	// Logger for operational output (optional).
	Logger *slog.Logger

	// Sink receives persisted fields (optional).
	Sink Sink

	// Observer receives batch results (optional).
	Observer Observer

	// Now stamps last_updated_on (default time.Now).
	Now func() time.Time
}

// Result summarizes one processed batch.
type Result struct {
	// DeviceID is the connection's device id after the batch.
	DeviceID string

	// NewlyIdentified is set when this batch established the device id.
	NewlyIdentified bool

	// Readings is the number of readings decoded from the batch.
	Readings int

	// Persisted lists the fields written to the store.
	Persisted []string

	// Commands lists the corrective commands queued by the batch.
	Commands []command.Command

	// Dropped is set when data arrived before the device id was known.
	Dropped bool
}

// Router processes the inbound traffic of one connection.
type Router struct {
	store      store.Store
	dispatcher Dispatcher
	config     Config

	mu       sync.Mutex
	deviceID string
	internal map[string]string
	pending  []command.Command
}

// NewRouter creates a Router persisting to s and sending corrections via d.
func NewRouter(s store.Store, d Dispatcher, config Config) *Router {
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Router{
		store:      s,
		dispatcher: d,
		config:     config,
		internal:   make(map[string]string),
	}
}

// DeviceID returns the device id announced on this connection, if any.
func (r *Router) DeviceID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deviceID
}

// Internal returns the latest device-internal metadata (firmware version,
// heartbeat interval, buffer sizes) reported on this connection.
func (r *Router) Internal() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.internal)
}

// Pending returns the corrective commands waiting for the device to become
// reachable.
func (r *Router) Pending() []command.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]command.Command(nil), r.pending...)
}

// Process decodes raw bytes read from the connection and processes them.
// Errors are logged together with the offending bytes.
func (r *Router) Process(ctx context.Context, raw []byte) (Result, error) {
	frames, _ := blynk.Decode(raw)
	res, err := r.ProcessFrames(ctx, frames)
	if err != nil {
		r.logError("telemetry batch failed", err, "device_id", res.DeviceID, "raw", hex.EncodeToString(raw))
	}
	return res, err
}

// ProcessFrames processes a batch of frames in arrival order.
func (r *Router) ProcessFrames(ctx context.Context, frames []blynk.Frame) (res Result, err error) {
	defer func() {
		if r.config.Observer != nil {
			r.config.Observer.BatchProcessed(res, err)
		}
	}()

	readings := r.config.Decoder.DecodeAll(frames)
	res.Readings = len(readings)

	var data []keg.Reading
	for _, rd := range readings {
		switch {
		case rd.IsID():
			if r.identify(rd.Value) {
				res.NewlyIdentified = true
			}
		case rd.IsInternal():
			r.mergeInternal(rd.Attributes)
		default:
			data = append(data, rd)
		}
	}

	deviceID := r.DeviceID()
	res.DeviceID = deviceID
	if len(data) == 0 {
		return res, nil
	}
	if deviceID == "" {
		res.Dropped = true
		r.warnLog("dropping telemetry from unidentified device", "readings", len(data))
		return res, nil
	}

	fields, cmds, err := r.reconcile(ctx, deviceID, data)
	if err != nil {
		return res, err
	}
	res.Commands = cmds

	if len(fields) > 0 {
		fields[store.FieldLastUpdatedOn] = r.config.Now().UTC().Format(time.RFC3339Nano)
		if err := store.Upsert(ctx, r.store, deviceID, fields); err != nil {
			return res, fmt.Errorf("persist %s: %w", deviceID, err)
		}
		for f := range fields {
			res.Persisted = append(res.Persisted, f)
		}
		if r.config.Sink != nil {
			r.config.Sink.TelemetryUpdated(deviceID, maps.Clone(fields))
		}
	}

	// The connection is not registered until this batch returns, so a
	// command sent now would reach an older connection of the same device.
	for _, cmd := range cmds {
		if res.NewlyIdentified {
			r.keepPending(cmd)
			continue
		}
		r.dispatch(ctx, cmd)
	}
	return res, nil
}

// FlushPending retries corrective commands that could not be delivered
// earlier and returns how many were sent.
func (r *Router) FlushPending(ctx context.Context) int {
	r.mu.Lock()
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()

	sent := 0
	for _, cmd := range pending {
		if r.dispatch(ctx, cmd) {
			sent++
		}
	}
	return sent
}

// reconcile splits data into fields to persist and corrective commands.
func (r *Router) reconcile(ctx context.Context, deviceID string, data []keg.Reading) (map[string]string, []command.Command, error) {
	rec, err := r.store.Get(ctx, deviceID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, nil, fmt.Errorf("load %s: %w", deviceID, err)
	}

	fields := make(map[string]string, len(data))
	corrections := make(map[keg.CommandName]command.Command)
	var order []keg.CommandName

	for _, rd := range data {
		if keg.IsUserField(rd.Field) {
			continue
		}
		if o, ok := keg.OverrideFor(rd.Field); ok {
			if userValue, set := rec.Get(o.UserField); set {
				if want, diverges := o.Diverges(userValue, rd.Value); diverges {
					if _, seen := corrections[o.Command]; !seen {
						order = append(order, o.Command)
					}
					corrections[o.Command] = command.Command{DeviceID: deviceID, Name: o.Command, Value: want}
					delete(fields, rd.Field)
					continue
				}
			}
		}
		fields[rd.Field] = rd.Value
	}

	cmds := make([]command.Command, 0, len(order))
	for _, name := range order {
		cmds = append(cmds, corrections[name])
	}
	return fields, cmds, nil
}

// dispatch sends cmd, keeping it as pending when the device is unreachable.
func (r *Router) dispatch(ctx context.Context, cmd command.Command) bool {
	if r.dispatcher == nil {
		r.keepPending(cmd)
		return false
	}
	err := r.dispatcher.Dispatch(ctx, cmd)
	if err == nil {
		r.debugLog("corrective command sent", "command", cmd.String())
		return true
	}
	if errors.Is(err, command.ErrDeviceOffline) {
		r.keepPending(cmd)
		r.debugLog("corrective command pending", "command", cmd.String())
		return false
	}
	r.logError("corrective command failed", err, "command", cmd.String())
	return false
}

func (r *Router) keepPending(cmd command.Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.pending {
		if p.Name == cmd.Name {
			r.pending[i] = cmd
			return
		}
	}
	if len(r.pending) >= maxPending {
		r.pending = r.pending[1:]
	}
	r.pending = append(r.pending, cmd)
}

// identify records the device id. The first id seen on a connection wins.
func (r *Router) identify(id string) bool {
	if id == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deviceID == "" {
		r.deviceID = id
		return true
	}
	if r.deviceID != id {
		r.warnLog("ignoring second device id on connection", "device_id", r.deviceID, "announced", id)
	}
	return false
}

func (r *Router) mergeInternal(attrs map[string]string) {
	r.mu.Lock()
	maps.Copy(r.internal, attrs)
	r.mu.Unlock()
	r.debugLog("device internal info", "attributes", attrs)
}

func (r *Router) debugLog(msg string, args ...any) {
	if r.config.Logger != nil {
		r.config.Logger.Debug(msg, args...)
	}
}

func (r *Router) warnLog(msg string, args ...any) {
	if r.config.Logger != nil {
		r.config.Logger.Warn(msg, args...)
	}
}

func (r *Router) logError(msg string, err error, args ...any) {
	if r.config.Logger != nil {
		r.config.Logger.Error(msg, append([]any{"error", err}, args...)...)
	}
}
