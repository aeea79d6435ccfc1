package driver

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/mahendrapaipuri/power-profiles-daemon/internal/apierror"
	"github.com/mahendrapaipuri/power-profiles-daemon/internal/profile"
	"github.com/mahendrapaipuri/power-profiles-daemon/internal/sysfs"
)

const (
	amdPstateStatus   = "sys/devices/system/cpu/amd_pstate/status"
	acpiPmProfile     = "sys/firmware/acpi/pm_profile"
	scalingGovernor   = "scaling_governor"
)

// serverPmProfile is the ACPI FADT Preferred_PM_Profile value (§5.2.9.1 of
// the ACPI spec) denoting Enterprise Server hardware, on which switching to
// performance is refused (spec §4.2).
const serverPmProfile = "4"

var amdGovernorByProfile = map[profile.Profile]string{
	profile.PowerSaver:  "powersave",
	profile.Balanced:    "powersave",
	profile.Performance: "performance",
}

// AmdPstate drives sys/devices/system/cpu/amd_pstate, writing
// scaling_governor per cpufreq policy, and refuses to switch to performance
// on ACPI-reported server hardware.
type AmdPstate struct {
	gw      *sysfs.Gateway
	watcher *sysfs.Watcher
	logger  *slog.Logger

	mu        sync.Mutex
	current   profile.Profile
	isServer  bool
}

func NewAmdPstate(gw *sysfs.Gateway, watcher *sysfs.Watcher, logger *slog.Logger) *AmdPstate {
	return &AmdPstate{gw: gw, watcher: watcher, logger: logger, current: profile.Balanced}
}

func (d *AmdPstate) ID() string { return "amd_pstate" }
func (d *AmdPstate) Kind() Kind { return KindCPU }

func (d *AmdPstate) Prerequisites() []string {
	return []string{d.gw.Path(amdPstateStatus)}
}

func (d *AmdPstate) Probe() (bool, error) {
	status, err := d.gw.ReadTrimmed(amdPstateStatus)
	if err != nil {
		if sysfs.NotPresent(err) {
			return false, nil
		}

		return false, err
	}

	if status != "active" {
		return false, nil
	}

	pmProfile, err := d.gw.ReadTrimmed(acpiPmProfile)
	if err != nil && !sysfs.NotPresent(err) {
		return false, err
	}

	d.mu.Lock()
	d.isServer = pmProfile == serverPmProfile
	d.mu.Unlock()

	return true, nil
}

func (d *AmdPstate) Supports() []profile.Profile {
	d.mu.Lock()
	server := d.isServer
	d.mu.Unlock()

	if server {
		return []profile.Profile{profile.PowerSaver, profile.Balanced}
	}

	return []profile.Profile{profile.PowerSaver, profile.Balanced, profile.Performance}
}

func (d *AmdPstate) Current() profile.Profile {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.current
}

func (d *AmdPstate) Apply(p profile.Profile) error {
	d.mu.Lock()
	server := d.isServer
	d.mu.Unlock()

	if server && p == profile.Performance {
		return apierror.New(apierror.KindNotSupported, "amd_pstate.apply",
			fmt.Errorf("refusing to switch server-class hardware (pm_profile) to performance"))
	}

	policies, err := d.gw.Glob(cpufreqPolicyGlob)
	if err != nil {
		return apierror.New(apierror.KindIO, "amd_pstate.apply", err)
	}

	epp := intelEppByProfile[p]
	governor := amdGovernorByProfile[p]

	for _, policy := range policies {
		if err := d.gw.WriteString(policy+"/"+energyPerfPreference, epp); err != nil {
			return apierror.New(apierror.KindIO, "amd_pstate.apply", err)
		}

		if err := d.gw.WriteString(policy+"/"+scalingGovernor, governor); err != nil {
			return apierror.New(apierror.KindIO, "amd_pstate.apply", err)
		}
	}

	d.mu.Lock()
	d.current = p
	d.mu.Unlock()

	return nil
}

func (d *AmdPstate) Degradation() string     { return "" }
func (d *AmdPstate) InhibitedReason() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isServer {
		return "performance unavailable on server-class hardware"
	}

	return ""
}

// StartMonitoring is a no-op: amd_pstate has no equivalent of intel's
// no_turbo degradation signal or platform_profile's external-write path.
func (d *AmdPstate) StartMonitoring(events Events) error { return nil }
