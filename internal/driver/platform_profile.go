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
	acpiPlatformProfileChoices = "sys/firmware/acpi/platform_profile_choices"
	acpiPlatformProfile        = "sys/firmware/acpi/platform_profile"
	dytcLapmode                = "sys/devices/platform/thinkpad_acpi/dytc_lapmode"
)

// firmwarePreference lists, per abstract Profile, the firmware tokens to
// try in order; the first one present in the platform's choices set wins
// (spec §4.2 table).
var firmwarePreference = map[profile.Profile][]string{
	profile.PowerSaver:  {"low-power", "quiet", "cool"},
	profile.Balanced:    {"balanced"},
	profile.Performance: {"performance", "balanced-performance"},
}

// PlatformProfile drives sys/firmware/acpi/platform_profile, optionally
// with Lenovo DYTC lap-mode degradation when thinkpad_acpi is present.
type PlatformProfile struct {
	gw      *sysfs.Gateway
	watcher *sysfs.Watcher
	logger  *slog.Logger

	mu           sync.Mutex
	choices      map[string]bool
	tokenByProf  map[profile.Profile]string
	profByToken  map[string]profile.Profile
	current      profile.Profile
	dytcPresent  bool
	degradation  string
	events       Events
}

// NewPlatformProfile constructs the driver. Probe must be called before
// any other method.
func NewPlatformProfile(gw *sysfs.Gateway, watcher *sysfs.Watcher, logger *slog.Logger) *PlatformProfile {
	return &PlatformProfile{gw: gw, watcher: watcher, logger: logger, current: profile.Balanced}
}

func (d *PlatformProfile) ID() string { return "platform_profile" }
func (d *PlatformProfile) Kind() Kind { return KindPlatform }

func (d *PlatformProfile) Prerequisites() []string {
	return []string{d.gw.Path(acpiPlatformProfileChoices)}
}

// Probe reads the choices file and, for every abstract profile, resolves
// the first firmware token from firmwarePreference that is present.
func (d *PlatformProfile) Probe() (bool, error) {
	raw, err := d.gw.ReadTrimmed(acpiPlatformProfileChoices)
	if err != nil {
		if sysfs.NotPresent(err) {
			return false, nil
		}

		return false, err
	}

	choices := make(map[string]bool)
	for _, tok := range strings.Fields(raw) {
		choices[tok] = true
	}

	if len(choices) == 0 {
		return false, nil
	}

	tokenByProf := make(map[profile.Profile]string)
	profByToken := make(map[string]profile.Profile)

	for _, p := range profile.All() {
		for _, tok := range firmwarePreference[p] {
			if choices[tok] {
				tokenByProf[p] = tok
				profByToken[tok] = p

				break
			}
		}
	}

	d.mu.Lock()
	d.choices = choices
	d.tokenByProf = tokenByProf
	d.profByToken = profByToken
	d.dytcPresent = d.gw.Exists(dytcLapmode)
	d.mu.Unlock()

	if cur, err := d.gw.ReadTrimmed(acpiPlatformProfile); err == nil {
		if p, ok := profByToken[cur]; ok {
			d.mu.Lock()
			d.current = p
			d.mu.Unlock()
		}
	}

	return true, nil
}

func (d *PlatformProfile) Supports() []profile.Profile {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]profile.Profile, 0, len(d.tokenByProf))

	for _, p := range profile.All() {
		if _, ok := d.tokenByProf[p]; ok {
			out = append(out, p)
		}
	}

	return out
}

func (d *PlatformProfile) Current() profile.Profile {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.current
}

func (d *PlatformProfile) Apply(p profile.Profile) error {
	d.mu.Lock()
	token, ok := d.tokenByProf[p]
	d.mu.Unlock()

	if !ok {
		return apierror.New(apierror.KindNotSupported, "platform_profile.apply",
			fmt.Errorf("profile %s has no firmware token in the current choices set", p))
	}

	if err := d.gw.WriteString(acpiPlatformProfile, token); err != nil {
		return apierror.New(apierror.KindIO, "platform_profile.apply", err)
	}

	d.mu.Lock()
	d.current = p
	d.mu.Unlock()

	return nil
}

func (d *PlatformProfile) Degradation() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.degradation
}

func (d *PlatformProfile) InhibitedReason() string { return "" }

// StartMonitoring watches platform_profile for changes made externally
// (the Fn+H hotkey) and, when DYTC is present, dytc_lapmode for the
// lap-detected degradation.
func (d *PlatformProfile) StartMonitoring(events Events) error {
	d.events = events

	if err := d.watcher.Watch(d.gw.Path(acpiPlatformProfile), func(sysfs.Event) {
		d.onPlatformProfileChanged()
	}); err != nil {
		return err
	}

	d.mu.Lock()
	dytc := d.dytcPresent
	d.mu.Unlock()

	if !dytc {
		return nil
	}

	return d.watcher.Watch(d.gw.Path(dytcLapmode), func(sysfs.Event) {
		d.onDytcLapmodeChanged()
	})
}

func (d *PlatformProfile) onPlatformProfileChanged() {
	raw, err := d.gw.ReadTrimmed(acpiPlatformProfile)
	if err != nil {
		d.logger.Warn("failed to read platform_profile after change notification", "err", err)

		return
	}

	d.mu.Lock()
	p, ok := d.profByToken[raw]
	d.mu.Unlock()

	if !ok {
		// Unsupported token written externally: ignored per spec §8.
		return
	}

	d.mu.Lock()
	d.current = p
	d.mu.Unlock()

	if d.events.ExternalProfileChange != nil {
		d.events.ExternalProfileChange(p)
	}
}

func (d *PlatformProfile) onDytcLapmodeChanged() {
	raw, err := d.gw.ReadTrimmed(dytcLapmode)
	if err != nil {
		d.logger.Warn("failed to read dytc_lapmode after change notification", "err", err)

		return
	}

	d.mu.Lock()
	if raw == "1" {
		d.degradation = "lap-detected"
	} else {
		d.degradation = ""
	}
	d.mu.Unlock()

	if d.events.DegradationChanged != nil {
		d.events.DegradationChanged()
	}
}
