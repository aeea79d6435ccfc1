package action

import (
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mahendrapaipuri/power-profiles-daemon/internal/profile"
	"github.com/mahendrapaipuri/power-profiles-daemon/internal/sysfs"
)

const (
	powerSupplyGlob = "sys/class/power_supply/*"
	chargeTypeFile  = "charge_type"
	scopeFile       = "scope"
	trickleToken    = "Trickle"
)

type trickleDevice struct {
	path    string // e.g. "sys/class/power_supply/BAT0"
	startup string // charge_type value observed the first time this device was seen
}

// TrickleCharge lowers battery charge current on power-saver by writing
// charge_type=Trickle to every Device-scope power_supply that exposes the
// attribute, restoring each device's startup value on any other profile
// (spec §4.3).
type TrickleCharge struct {
	gw     *sysfs.Gateway
	logger *slog.Logger

	mu      sync.Mutex
	devices map[string]*trickleDevice
}

func NewTrickleCharge(gw *sysfs.Gateway, logger *slog.Logger) *TrickleCharge {
	return &TrickleCharge{gw: gw, logger: logger, devices: make(map[string]*trickleDevice)}
}

func (a *TrickleCharge) ID() string { return "trickle_charge" }

func (a *TrickleCharge) Probe() error {
	matches, err := a.gw.Glob(powerSupplyGlob)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, m := range matches {
		a.considerLocked(m)
	}

	return nil
}

// considerLocked registers path as a trickle-chargeable device if it is
// Device-scoped and exposes charge_type, capturing its startup value the
// first time it is seen. Caller must hold a.mu.
func (a *TrickleCharge) considerLocked(path string) {
	if _, known := a.devices[path]; known {
		return
	}

	scope, err := a.gw.ReadTrimmed(filepath.Join(path, scopeFile))
	if err != nil || scope != "Device" {
		return
	}

	startup, err := a.gw.ReadTrimmed(filepath.Join(path, chargeTypeFile))
	if err != nil {
		return
	}

	a.devices[path] = &trickleDevice{path: path, startup: startup}
}

func (a *TrickleCharge) OnProfile(p profile.Profile, onBattery bool) Result {
	a.mu.Lock()
	devices := make([]*trickleDevice, 0, len(a.devices))
	for _, d := range a.devices {
		devices = append(devices, d)
	}
	a.mu.Unlock()

	if len(devices) == 0 {
		return Result{Applied: false}
	}

	want := func(d *trickleDevice) string {
		if p == profile.PowerSaver {
			return trickleToken
		}

		return d.startup
	}

	var firstErr error

	for _, d := range devices {
		if err := a.gw.WriteString(filepath.Join(d.path, chargeTypeFile), want(d)); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return Result{Applied: true, Err: firstErr}
}

func (a *TrickleCharge) OnDeviceAdded(path string) {
	if !strings.HasPrefix(path, "sys/class/power_supply/") {
		return
	}

	a.mu.Lock()
	a.considerLocked(path)
	a.mu.Unlock()
}

func (a *TrickleCharge) OnDeviceRemoved(path string) {
	a.mu.Lock()
	delete(a.devices, path)
	a.mu.Unlock()
}
