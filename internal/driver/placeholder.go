package driver

import "github.com/mahendrapaipuri/power-profiles-daemon/internal/profile"

// Placeholder is substituted for a kind that has no active real driver, so
// the exposed Profiles list is always populated (spec §3). It always
// probes successfully, its Apply is a no-op, and it supports power-saver
// and balanced but not performance: per invariant 2 (spec §8), the bus
// exposes only two profiles until some real driver backs performance.
type Placeholder struct {
	kind    Kind
	current profile.Profile
}

// NewPlaceholder returns a Placeholder standing in for kind.
func NewPlaceholder(kind Kind) *Placeholder {
	return &Placeholder{kind: kind, current: profile.Balanced}
}

func (p *Placeholder) ID() string   { return "placeholder" }
func (p *Placeholder) Kind() Kind   { return p.kind }
func (p *Placeholder) Probe() (bool, error) { return true, nil }
func (p *Placeholder) Prerequisites() []string { return nil }

func (p *Placeholder) Supports() []profile.Profile {
	return []profile.Profile{profile.PowerSaver, profile.Balanced}
}

func (p *Placeholder) Current() profile.Profile { return p.current }

func (p *Placeholder) Apply(newProfile profile.Profile) error {
	p.current = newProfile

	return nil
}

func (p *Placeholder) Degradation() string      { return "" }
func (p *Placeholder) InhibitedReason() string  { return "" }
func (p *Placeholder) StartMonitoring(Events) error { return nil }
