// Package driver implements the back-end drivers (spec §4.2): the
// components that translate an abstract Profile into concrete sysfs
// writes for one kind of hardware control (cpu, platform, or a
// placeholder when neither is present).
package driver

import (
	"github.com/mahendrapaipuri/power-profiles-daemon/internal/profile"
)

// Kind is the hardware axis a driver controls. Exactly one non-placeholder
// driver of each kind may be active simultaneously (spec §3).
type Kind int

const (
	KindCPU Kind = iota
	KindPlatform
	KindPlaceholder
)

func (k Kind) String() string {
	switch k {
	case KindCPU:
		return "cpu"
	case KindPlatform:
		return "platform"
	default:
		return "placeholder"
	}
}

// Events are the callbacks a driver uses to report asynchronous changes
// observed via its sysfs watches back onto the engine's single-threaded
// loop. A driver must never call engine methods directly from a watcher
// goroutine; it only ever invokes these closures, which the engine wires
// to push onto its own input channel (spec §5, §9 "file-watch callbacks
// and re-entrancy").
type Events struct {
	// ExternalProfileChange is called when a monitored file changes to a
	// value that maps onto a supported Profile not driven by the current
	// transaction (e.g. platform_profile written by the Fn+H hotkey).
	ExternalProfileChange func(p profile.Profile)
	// DegradationChanged is called when the driver's Degradation() value
	// may have changed; the engine re-reads it and re-aggregates (§4.6).
	DegradationChanged func()
}

// Driver is the capability set every back-end implements (spec §9:
// "treat every back-end... as a value implementing a small capability
// set"). Kind is tagged, not inherited.
type Driver interface {
	// ID is the stable identifier used in the bus Profiles property and
	// in POWER_PROFILE_DAEMON_DRIVER_BLOCK.
	ID() string
	Kind() Kind

	// Probe attempts to load the driver against its kernel prerequisite.
	// loaded is false (with no error) when the prerequisite is simply
	// absent; err is reserved for unexpected I/O failures while probing
	// a prerequisite that does exist.
	Probe() (loaded bool, err error)

	// Prerequisites lists the sysfs paths whose creation should trigger a
	// re-probe when the driver is dormant (spec §4.2).
	Prerequisites() []string

	// Supports lists the profiles this driver can realize given what it
	// found at probe time.
	Supports() []profile.Profile

	// Current is the profile this driver was last successfully applied
	// to.
	Current() profile.Profile

	// Apply drives the hardware to p. Implementations must leave Current()
	// at its prior value on error.
	Apply(p profile.Profile) error

	// Degradation is the informational token reported by this driver, or
	// "" when nothing is degraded.
	Degradation() string

	// InhibitedReason is non-empty when this driver, though loaded, cannot
	// be switched to performance right now.
	InhibitedReason() string

	// StartMonitoring begins watching whatever sysfs nodes this driver
	// needs to observe for external changes and degradation, invoking the
	// supplied Events callbacks. Called once, after a successful Probe.
	StartMonitoring(events Events) error
}

// Supported reports whether p is in drv's supported set.
func Supported(drv Driver, p profile.Profile) bool {
	for _, s := range drv.Supports() {
		if s == p {
			return true
		}
	}

	return false
}
