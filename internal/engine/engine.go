// Package engine implements the arbitration engine (spec §4.4): the state
// machine that derives the effective profile from holds and the
// user-selected profile, sequences driver activation with transactional
// apply/rollback, and runs actions and the degradation aggregator.
//
// The engine is single-threaded cooperative (spec §5): every mutation runs
// on one goroutine reading from an internal channel, so no lock guards
// engine state during a transaction. Callers — the bus facade and driver
// watch callbacks — submit work through the exported methods, which
// enqueue a closure and block for its result; they never touch engine
// state directly.
package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/mahendrapaipuri/power-profiles-daemon/internal/action"
	"github.com/mahendrapaipuri/power-profiles-daemon/internal/apierror"
	"github.com/mahendrapaipuri/power-profiles-daemon/internal/driver"
	"github.com/mahendrapaipuri/power-profiles-daemon/internal/hold"
	"github.com/mahendrapaipuri/power-profiles-daemon/internal/persist"
	"github.com/mahendrapaipuri/power-profiles-daemon/internal/profile"
)

// State is the engine's transaction state (spec §4.4).
type State int

const (
	Idle State = iota
	Applying
	RollingBack
)

// Notifier is how the engine reports signals and property changes to
// whatever is exposing it, normally the bus facade. Implementations must
// not block or recurse back into the engine.
type Notifier interface {
	ProfileReleased(cookie uint32)
	PropertyChanged(name string)
}

// ProfileEntry mirrors one element of the bus Profiles property (spec §6).
type ProfileEntry struct {
	Profile       profile.Profile
	Driver        string
	CpuDriver     string
	PlatformDriver string
}

// HoldEntry mirrors one element of ActiveProfileHolds.
type HoldEntry struct {
	Cookie        uint32
	Profile       profile.Profile
	Reason        string
	ApplicationID string
}

// Snapshot is the read-only view backing every bus property getter. It is
// recomputed at the end of every transaction and on degradation refreshes;
// Snapshot() reads it through the engine loop's inbox, so a read waits
// behind any transaction already queued.
type Snapshot struct {
	ActiveProfile        profile.Profile
	Profiles             []ProfileEntry
	PerformanceDegraded  string
	PerformanceInhibited string
	Holds                []HoldEntry
	Actions              []string
	TransactionDuration  time.Duration
}

// Engine is the arbitration state machine.
type Engine struct {
	logger   *slog.Logger
	drivers  []driver.Driver // exactly one KindCPU and one KindPlatform entry
	actions  *action.Registry
	actionIDs []string
	holds    *hold.Registry
	store    *persist.Store
	notifier Notifier

	lastDuration time.Duration

	inbox chan func()

	state        State
	userSelected profile.Profile
	effective    profile.Profile
	onBattery    bool

	snapshot Snapshot
}

// New constructs an engine over the two already-selected active drivers
// (one KindCPU, one KindPlatform — substitute driver.NewPlaceholder for
// whichever kind has no probed back-end) and starts its loop goroutine.
// userSelected should come from persist.Store.Load at startup.
func New(logger *slog.Logger, drivers []driver.Driver, actions *action.Registry, actionIDs []string, holds *hold.Registry, store *persist.Store, notifier Notifier, userSelected profile.Profile) *Engine {
	e := &Engine{
		logger:       logger,
		drivers:      drivers,
		actions:      actions,
		actionIDs:    actionIDs,
		holds:        holds,
		store:        store,
		notifier:     notifier,
		inbox:        make(chan func(), 16),
		userSelected: userSelected,
		effective:    userSelected,
	}

	e.publishSnapshot()
	go e.run()

	return e
}

func (e *Engine) run() {
	for fn := range e.inbox {
		fn()
	}
}

// Snapshot returns the most recently published read-only view.
func (e *Engine) Snapshot() Snapshot {
	done := make(chan Snapshot, 1)
	e.inbox <- func() { done <- e.snapshot }

	return <-done
}

// SetOnBattery updates the cached power_supply online state consulted by
// actions; it does not itself trigger a transaction.
func (e *Engine) SetOnBattery(onBattery bool) {
	e.inbox <- func() { e.onBattery = onBattery }
}

// UserSet implements the ActiveProfile property setter (spec §4.4): it
// releases every hold, applies p, and persists on success.
func (e *Engine) UserSet(p profile.Profile) error {
	done := make(chan error, 1)
	e.inbox <- func() { done <- e.userSet(p) }

	return <-done
}

func (e *Engine) userSet(p profile.Profile) error {
	if !profile.Profile(p).Valid() {
		return apierror.New(apierror.KindInvalidArgs, "user_set", fmt.Errorf("invalid profile %q", p))
	}

	if !e.supports(p) {
		return apierror.New(apierror.KindNotSupported, "user_set", fmt.Errorf("profile %s not supported by active drivers", p))
	}

	e.releaseAllHolds()

	e.userSelected = p

	if err := e.transition(false); err != nil {
		return err
	}

	e.store.Save(p)

	return nil
}

// holdResult carries HoldProfile's two return values across the loop
// channel.
type holdResult struct {
	cookie uint32
	err    error
}

// HoldProfile implements the HoldProfile method (spec §4.4, §6).
func (e *Engine) HoldProfile(p profile.Profile, reason, applicationID, clientName string) (uint32, error) {
	done := make(chan holdResult, 1)
	e.inbox <- func() { done <- e.holdProfile(p, reason, applicationID, clientName) }

	res := <-done

	return res.cookie, res.err
}

func (e *Engine) holdProfile(p profile.Profile, reason, applicationID, clientName string) holdResult {
	if p == profile.Balanced {
		return holdResult{0, apierror.New(apierror.KindInvalidArgs, "hold_profile", fmt.Errorf("holding balanced is nonsensical"))}
	}

	if !profile.Profile(p).Valid() {
		return holdResult{0, apierror.New(apierror.KindInvalidArgs, "hold_profile", fmt.Errorf("invalid profile %q", p))}
	}

	if !e.supports(p) {
		return holdResult{0, apierror.New(apierror.KindNotSupported, "hold_profile", fmt.Errorf("profile %s not supported by active drivers", p))}
	}

	cookie := e.holds.Add(p, reason, applicationID, clientName)

	if err := e.transition(false); err != nil {
		e.holds.Remove(cookie, "")

		return holdResult{0, err}
	}

	return holdResult{cookie, nil}
}

// ReleaseProfile implements the ReleaseProfile method (spec §4.4, §6, §8).
// owner is the bus-unique name of the caller; release of another client's
// cookie is invalid-args, release of an unknown cookie from the owning
// client is a silent no-op.
func (e *Engine) ReleaseProfile(cookie uint32, owner string) error {
	done := make(chan error, 1)
	e.inbox <- func() { done <- e.releaseProfile(cookie, owner) }

	return <-done
}

func (e *Engine) releaseProfile(cookie uint32, owner string) error {
	h, ok := e.holds.Remove(cookie, owner)
	if !ok {
		// Unknown cookie entirely vs. belonging to someone else both land
		// here; §8 only distinguishes them for the wrong-owner case, which
		// Remove already enforced by refusing with owner set. The other
		// client's hold is left in place.
		for _, other := range e.holds.List() {
			if other.Cookie == cookie {
				return apierror.New(apierror.KindInvalidArgs, "release_profile", fmt.Errorf("cookie %d belongs to another client", cookie))
			}
		}

		return nil
	}

	e.notifier.ProfileReleased(h.Cookie)

	return e.transition(false)
}

// ClientVanished implements client-disappearance cleanup (spec §4.5): every
// hold owned by clientName is removed in insertion order with one
// ProfileReleased per cookie, and the engine re-derives exactly once.
func (e *Engine) ClientVanished(clientName string) {
	e.inbox <- func() {
		removed := e.holds.RemoveByClient(clientName)
		for _, h := range removed {
			e.notifier.ProfileReleased(h.Cookie)
		}

		if len(removed) > 0 {
			_ = e.transition(false)
		}
	}
}

// RefreshDegradation re-publishes the snapshot and notifies
// PerformanceDegraded after a driver reports its degradation token changed
// without any profile or driver-set change (e.g. platform_profile's
// dytc_lapmode flipping while the effective profile stays put).
func (e *Engine) RefreshDegradation() {
	e.inbox <- func() {
		e.publishSnapshot()
		e.notifier.PropertyChanged("PerformanceDegraded")
	}
}

// DriverBecameAvailable swaps a dormant placeholder for a newly-probed
// driver of the same kind and forces a re-apply even if the effective
// profile is numerically unchanged, since the driver set itself changed
// (spec §4.4 step 3's "no driver set has changed" exception).
func (e *Engine) DriverBecameAvailable(d driver.Driver) {
	e.inbox <- func() {
		for i, existing := range e.drivers {
			if existing.Kind() == d.Kind() {
				e.drivers[i] = d

				break
			}
		}

		_ = e.transition(true)
	}
}

// releaseAllHolds drops every hold and emits ProfileReleased for each, in
// insertion order, before a manual user_set (spec §4.4).
func (e *Engine) releaseAllHolds() {
	for _, h := range e.holds.List() {
		if _, ok := e.holds.Remove(h.Cookie, ""); ok {
			e.notifier.ProfileReleased(h.Cookie)
		}
	}
}

// supports reports whether p can be realized by the current active driver
// set. Power-saver and balanced are always reported supported, without
// consulting the drivers. Performance requires at least one active
// non-placeholder driver, and every active non-placeholder driver must list
// it in Supports() (placeholders alone never make Performance available,
// per invariant 2).
func (e *Engine) supports(p profile.Profile) bool {
	if p == profile.PowerSaver || p == profile.Balanced {
		return true
	}

	hasRealDriver := false

	for _, d := range e.drivers {
		if d.ID() == "placeholder" {
			continue
		}

		hasRealDriver = true

		if !driver.Supported(d, p) {
			return false
		}
	}

	return hasRealDriver
}

// transition runs the algorithm of spec §4.4 steps 1-6. Persistence is
// handled by the caller (only userSet persists). force bypasses the
// no-op-if-unchanged check of step 3, used when the active driver set
// itself just changed.
func (e *Engine) transition(force bool) error {
	newEffective := e.holds.Derive(e.userSelected)

	if !force && newEffective == e.effective {
		e.publishSnapshot()
		e.notifier.PropertyChanged("ActiveProfileHolds")

		return nil
	}

	e.state = Applying

	start := time.Now()

	applied := make([]driver.Driver, 0, len(e.drivers))

	for _, d := range e.drivers {
		if err := d.Apply(newEffective); err != nil {
			e.state = RollingBack

			for _, rd := range applied {
				if rerr := rd.Apply(e.effective); rerr != nil {
					e.logger.Error("rollback apply failed, driver left inconsistent", "driver", rd.ID(), "err", rerr)
				}
			}

			e.state = Idle
			e.lastDuration = time.Since(start)
			e.publishSnapshot()

			return apierror.New(apierror.KindIO, "transition", err)
		}

		applied = append(applied, d)
	}

	e.effective = newEffective
	e.state = Idle
	e.lastDuration = time.Since(start)

	if e.actions != nil {
		e.actions.Apply(e.effective, e.onBattery)
	}

	e.publishSnapshot()
	e.notifier.PropertyChanged("ActiveProfile")
	e.notifier.PropertyChanged("PerformanceDegraded")
	e.notifier.PropertyChanged("ActiveProfileHolds")

	return nil
}

// publishSnapshot recomputes the cached read view from current engine
// state. Must be called from the loop goroutine.
func (e *Engine) publishSnapshot() {
	var cpu, plat driver.Driver

	for _, d := range e.drivers {
		switch d.Kind() {
		case driver.KindCPU:
			cpu = d
		case driver.KindPlatform:
			plat = d
		}
	}

	driverField := "placeholder"
	cpuID, platID := "", ""

	cpuReal := cpu != nil && cpu.ID() != "placeholder"
	platReal := plat != nil && plat.ID() != "placeholder"

	switch {
	case cpuReal && platReal:
		driverField = "multiple"
		cpuID, platID = cpu.ID(), plat.ID()
	case cpuReal:
		driverField = cpu.ID()
		cpuID, platID = cpu.ID(), safeID(plat)
	case platReal:
		driverField = plat.ID()
		cpuID, platID = safeID(cpu), plat.ID()
	}

	var entries []ProfileEntry

	for _, p := range profile.All() {
		if !e.supports(p) {
			continue
		}

		entry := ProfileEntry{Profile: p, Driver: driverField}
		if driverField != "placeholder" {
			entry.CpuDriver = cpuID
			entry.PlatformDriver = platID
		}

		entries = append(entries, entry)
	}

	degradation := aggregate(e.drivers, driver.Driver.Degradation)
	inhibited := aggregate(e.drivers, driver.Driver.InhibitedReason)

	var holdEntries []HoldEntry
	for _, h := range e.holds.List() {
		holdEntries = append(holdEntries, HoldEntry{
			Cookie: h.Cookie, Profile: h.Profile, Reason: h.Reason, ApplicationID: h.ApplicationID,
		})
	}

	e.snapshot = Snapshot{
		ActiveProfile:        e.effective,
		Profiles:             entries,
		PerformanceDegraded:  degradation,
		PerformanceInhibited: inhibited,
		Holds:                holdEntries,
		Actions:              e.actionIDs,
		TransactionDuration:  e.lastDuration,
	}
}

func safeID(d driver.Driver) string {
	if d == nil {
		return "placeholder"
	}

	return d.ID()
}

// aggregate concatenates the non-empty result of get across drivers, in
// registration order, comma-joined (spec §4.6).
func aggregate(drivers []driver.Driver, get func(driver.Driver) string) string {
	out := ""

	for _, d := range drivers {
		tok := get(d)
		if tok == "" {
			continue
		}

		if out != "" {
			out += ","
		}

		out += tok
	}

	return out
}
