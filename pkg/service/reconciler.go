package service

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/keglink/keglink-go/pkg/command"
	"github.com/keglink/keglink-go/pkg/keg"
	"github.com/keglink/keglink-go/pkg/store"
	"github.com/keglink/keglink-go/pkg/telemetry"
)

// DeviceLister returns the ids of currently connected devices.
type DeviceLister interface {
	Devices() []string
}

// Reconciler compares stored user preferences with the last values the
// device reported and sends corrective commands where they disagree.
type Reconciler struct {
	store      store.Store
	devices    DeviceLister
	dispatcher telemetry.Dispatcher
	logger     *slog.Logger
}

// NewReconciler creates a Reconciler. logger may be nil.
func NewReconciler(s store.Store, devices DeviceLister, d telemetry.Dispatcher, logger *slog.Logger) *Reconciler {
	return &Reconciler{store: s, devices: devices, dispatcher: d, logger: logger}
}

// ReconcileDevice checks one device and returns the number of commands sent.
func (r *Reconciler) ReconcileDevice(ctx context.Context, deviceID string) (int, error) {
	rec, err := r.store.Get(ctx, deviceID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	overrides := keg.Overrides()
	slices.SortFunc(overrides, func(a, b keg.Override) int { return strings.Compare(a.Field, b.Field) })

	sent := 0
	for _, o := range overrides {
		want, ok := rec.Get(o.UserField)
		if !ok {
			continue
		}
		have, _ := rec.Get(o.Field)
		value, diverges := o.Diverges(want, have)
		if !diverges {
			continue
		}

		cmd := command.Command{DeviceID: deviceID, Name: o.Command, Value: value}
		if err := r.dispatcher.Dispatch(ctx, cmd); err != nil {
			if errors.Is(err, command.ErrDeviceOffline) {
				return sent, nil
			}
			return sent, err
		}
		r.debugLog("pushed user preference", "device_id", deviceID, "field", o.Field, "value", value)
		sent++
	}
	return sent, nil
}

// ReconcileNow checks every connected device. Per-device errors are joined.
func (r *Reconciler) ReconcileNow(ctx context.Context) (int, error) {
	var (
		total int
		errs  []error
	)
	for _, id := range r.devices.Devices() {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := r.ReconcileDevice(ctx, id)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// Run reconciles every interval until ctx ends.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.ReconcileNow(ctx)
			if err != nil && r.logger != nil {
				r.logger.Warn("reconcile failed", "error", err)
			}
			if n > 0 {
				r.debugLog("reconcile pass", "commands", n)
			}
		}
	}
}

func (r *Reconciler) debugLog(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, args...)
	}
}
