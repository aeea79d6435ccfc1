package driver

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mahendrapaipuri/power-profiles-daemon/internal/apierror"
	"github.com/mahendrapaipuri/power-profiles-daemon/internal/profile"
	"github.com/mahendrapaipuri/power-profiles-daemon/internal/sysfs"
)

const (
	intelPstateStatus    = "sys/devices/system/cpu/intel_pstate/status"
	intelPstateNoTurbo   = "sys/devices/system/cpu/intel_pstate/no_turbo"
	intelPstateTurboPct  = "sys/devices/system/cpu/intel_pstate/turbo_pct"
	cpufreqPolicyGlob    = "sys/devices/system/cpu/cpufreq/policy*"
	energyPerfPreference = "energy_performance_preference"
	cpuEnergyPerfBiasGlob = "sys/devices/system/cpu/cpu[0-9]*/power/energy_perf_bias"
)

var intelEppByProfile = map[profile.Profile]string{
	profile.PowerSaver:  "power",
	profile.Balanced:    "balance_performance",
	profile.Performance: "performance",
}

var intelEpbByProfile = map[profile.Profile]string{
	profile.PowerSaver:  "15",
	profile.Balanced:    "6",
	profile.Performance: "0",
}

// IntelPstate drives sys/devices/system/cpu/intel_pstate, writing
// energy_performance_preference per cpufreq policy and, when present, the
// legacy per-cpu energy_perf_bias knob.
type IntelPstate struct {
	gw      *sysfs.Gateway
	watcher *sysfs.Watcher
	logger  *slog.Logger

	mu          sync.Mutex
	current     profile.Profile
	degradation string
	events      Events
}

func NewIntelPstate(gw *sysfs.Gateway, watcher *sysfs.Watcher, logger *slog.Logger) *IntelPstate {
	return &IntelPstate{gw: gw, watcher: watcher, logger: logger, current: profile.Balanced}
}

func (d *IntelPstate) ID() string { return "intel_pstate" }
func (d *IntelPstate) Kind() Kind { return KindCPU }

func (d *IntelPstate) Prerequisites() []string {
	return []string{d.gw.Path(intelPstateStatus)}
}

func (d *IntelPstate) Probe() (bool, error) {
	status, err := d.gw.ReadTrimmed(intelPstateStatus)
	if err != nil {
		if sysfs.NotPresent(err) {
			return false, nil
		}

		return false, err
	}

	return status == "active", nil
}

func (d *IntelPstate) Supports() []profile.Profile {
	return []profile.Profile{profile.PowerSaver, profile.Balanced, profile.Performance}
}

func (d *IntelPstate) Current() profile.Profile {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.current
}

func (d *IntelPstate) Apply(p profile.Profile) error {
	status, err := d.gw.ReadTrimmed(intelPstateStatus)
	if err != nil {
		return apierror.New(apierror.KindIO, "intel_pstate.apply", err)
	}

	if status != "active" {
		return apierror.New(apierror.KindNotSupported, "intel_pstate.apply",
			fmt.Errorf("intel_pstate is %q, refusing to write energy_performance_preference", status))
	}

	policies, err := d.gw.Glob(cpufreqPolicyGlob)
	if err != nil {
		return apierror.New(apierror.KindIO, "intel_pstate.apply", err)
	}

	epp := intelEppByProfile[p]
	for _, policy := range policies {
		if err := d.gw.WriteString(policy+"/"+energyPerfPreference, epp); err != nil {
			return apierror.New(apierror.KindIO, "intel_pstate.apply", err)
		}
	}

	epbKnobs, err := d.gw.Glob(cpuEnergyPerfBiasGlob)
	if err != nil {
		return apierror.New(apierror.KindIO, "intel_pstate.apply", err)
	}

	epb := intelEpbByProfile[p]
	for _, knob := range epbKnobs {
		if err := d.gw.WriteString(knob, epb); err != nil {
			return apierror.New(apierror.KindIO, "intel_pstate.apply", err)
		}
	}

	d.mu.Lock()
	d.current = p
	d.mu.Unlock()

	return nil
}

func (d *IntelPstate) Degradation() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.degradation
}

func (d *IntelPstate) InhibitedReason() string { return "" }

func (d *IntelPstate) StartMonitoring(events Events) error {
	d.events = events

	return d.watcher.Watch(d.gw.Path(intelPstateNoTurbo), func(sysfs.Event) {
		d.onNoTurboChanged()
	})
}

func (d *IntelPstate) onNoTurboChanged() {
	noTurbo, err := d.gw.ReadTrimmed(intelPstateNoTurbo)
	if err != nil {
		d.logger.Warn("failed to read intel_pstate no_turbo after change notification", "err", err)

		return
	}

	turboPct, err := d.gw.ReadTrimmed(intelPstateTurboPct)
	if err != nil {
		d.logger.Warn("failed to read intel_pstate turbo_pct after change notification", "err", err)

		return
	}

	degraded := noTurbo == "1" && strings.TrimSpace(turboPct) != "0"

	d.mu.Lock()
	if degraded {
		d.degradation = "high-operating-temperature"
	} else {
		d.degradation = ""
	}
	d.mu.Unlock()

	if d.events.DegradationChanged != nil {
		d.events.DegradationChanged()
	}
}
