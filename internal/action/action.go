// Package action implements the action plug-ins (spec §4.3): side effects
// triggered by the effective profile that are not owned by any single
// back-end driver, such as battery charge type and panel power savings.
package action

import (
	"log/slog"

	"github.com/mahendrapaipuri/power-profiles-daemon/internal/profile"
)

// Result reports what an action did; Registry.Apply logs a non-nil Err.
type Result struct {
	// Applied is false when the action found nothing to act on (no
	// matching device present) rather than having failed outright.
	Applied bool
	// Err is non-nil when the action attempted a write and it failed. A
	// failed action never blocks the profile transaction (spec §4.3):
	// the engine logs it and continues.
	Err error
}

// Action is the capability set every plug-in implements (spec §9: flat
// registry, no inheritance). An action owns no hardware of its own; it
// reacts to the already-applied effective profile.
type Action interface {
	ID() string

	// Probe discovers whatever devices this action controls. Called once
	// at startup by Registry.ProbeAll; later device changes reach the
	// action through OnDeviceAdded and OnDeviceRemoved, not a re-probe.
	Probe() error

	// OnProfile is invoked after a transaction has successfully applied p
	// to every driver. onBattery reflects the power_supply online state
	// at the time of the call.
	OnProfile(p profile.Profile, onBattery bool) Result

	// OnDeviceAdded and OnDeviceRemoved let an action react to a device
	// appearing or disappearing without a full re-probe, keyed by the
	// sysfs device path the watcher observed.
	OnDeviceAdded(path string)
	OnDeviceRemoved(path string)
}

// Registry holds the set of active actions and fans profile changes and
// device events out to all of them. It owns no policy of its own.
type Registry struct {
	logger  *slog.Logger
	actions []Action
}

func NewRegistry(logger *slog.Logger, actions ...Action) *Registry {
	return &Registry{logger: logger, actions: actions}
}

// ProbeAll runs Probe on every registered action, logging but not
// propagating individual failures: one action's probe failure must not
// prevent the others from loading.
func (r *Registry) ProbeAll() {
	for _, a := range r.actions {
		if err := a.Probe(); err != nil {
			r.logger.Warn("action probe failed", "action", a.ID(), "err", err)
		}
	}
}

// Apply runs OnProfile on every registered action. A failing action is
// logged and skipped; it never aborts the others or the transaction that
// triggered it (spec §4.3).
func (r *Registry) Apply(p profile.Profile, onBattery bool) {
	for _, a := range r.actions {
		res := a.OnProfile(p, onBattery)
		if res.Err != nil {
			r.logger.Warn("action apply failed", "action", a.ID(), "err", res.Err)
		}
	}
}

func (r *Registry) DeviceAdded(path string) {
	for _, a := range r.actions {
		a.OnDeviceAdded(path)
	}
}

func (r *Registry) DeviceRemoved(path string) {
	for _, a := range r.actions {
		a.OnDeviceRemoved(path)
	}
}
