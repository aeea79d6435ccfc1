package driver

import "github.com/mahendrapaipuri/power-profiles-daemon/internal/profile"

// Fake is a synthetic CPU-kind driver that supports every profile. It is
// enabled via POWER_PROFILE_DAEMON_FAKE_DRIVER=1 so CI can exercise
// performance-hold arbitration without real cpufreq or platform_profile
// hardware present (spec §6's environment variable contract).
type Fake struct {
	current profile.Profile
}

func NewFake() *Fake {
	return &Fake{current: profile.Balanced}
}

func (d *Fake) ID() string   { return "fake" }
func (d *Fake) Kind() Kind   { return KindCPU }

func (d *Fake) Probe() (bool, error) { return true, nil }

func (d *Fake) Prerequisites() []string { return nil }

func (d *Fake) Supports() []profile.Profile { return profile.All() }

func (d *Fake) Current() profile.Profile { return d.current }

func (d *Fake) Apply(p profile.Profile) error {
	d.current = p

	return nil
}

func (d *Fake) Degradation() string     { return "" }
func (d *Fake) InhibitedReason() string { return "" }

func (d *Fake) StartMonitoring(Events) error { return nil }
