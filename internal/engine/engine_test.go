package engine

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahendrapaipuri/power-profiles-daemon/internal/driver"
	"github.com/mahendrapaipuri/power-profiles-daemon/internal/hold"
	"github.com/mahendrapaipuri/power-profiles-daemon/internal/persist"
	"github.com/mahendrapaipuri/power-profiles-daemon/internal/profile"
)

// fakeDriver is an in-memory driver whose id, kind and supported profiles
// are set per test, standing in for a real back-end (platform_profile or
// intel_pstate) without touching sysfs. failNext makes the next Apply fail.
type fakeDriver struct {
	id       string
	kind     driver.Kind
	supports []profile.Profile
	current  profile.Profile
	failNext bool
}

func (d *fakeDriver) ID() string                     { return d.id }
func (d *fakeDriver) Kind() driver.Kind               { return d.kind }
func (d *fakeDriver) Probe() (bool, error)            { return true, nil }
func (d *fakeDriver) Prerequisites() []string         { return nil }
func (d *fakeDriver) Supports() []profile.Profile     { return d.supports }
func (d *fakeDriver) Current() profile.Profile        { return d.current }
func (d *fakeDriver) Degradation() string             { return "" }
func (d *fakeDriver) InhibitedReason() string         { return "" }
func (d *fakeDriver) StartMonitoring(driver.Events) error { return nil }

func (d *fakeDriver) Apply(p profile.Profile) error {
	if d.failNext {
		d.failNext = false

		return assertErr
	}

	d.current = p

	return nil
}

var assertErr = assertError("induced failure")

type assertError string

func (e assertError) Error() string { return string(e) }

type fakeNotifier struct {
	released []uint32
	changed  []string
}

func (n *fakeNotifier) ProfileReleased(cookie uint32) { n.released = append(n.released, cookie) }
func (n *fakeNotifier) PropertyChanged(name string)   { n.changed = append(n.changed, name) }

func newTestEngine(t *testing.T, cpu, plat driver.Driver) (*Engine, *fakeNotifier) {
	t.Helper()

	notifier := &fakeNotifier{}
	store := persist.NewStore(t.TempDir()+"/state.ini", slog.Default())

	e := New(slog.Default(), []driver.Driver{cpu, plat}, nil, nil, hold.NewRegistry(), store, notifier, profile.Balanced)

	return e, notifier
}

func waitSnapshot(t *testing.T, e *Engine) Snapshot {
	t.Helper()

	done := make(chan Snapshot, 1)

	go func() { done <- e.Snapshot() }()

	select {
	case s := <-done:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")

		return Snapshot{}
	}
}

func TestUserSetSwitchesActiveProfile(t *testing.T) {
	cpu := driver.NewPlaceholder(driver.KindCPU)
	plat := &fakeDriver{id: "platform_profile", kind: driver.KindPlatform, supports: profile.All(), current: profile.Balanced}

	e, _ := newTestEngine(t, cpu, plat)

	require.NoError(t, e.UserSet(profile.Performance))

	snap := waitSnapshot(t, e)
	assert.Equal(t, profile.Performance, snap.ActiveProfile)
}

func TestHoldPriority(t *testing.T) {
	cpu := driver.NewPlaceholder(driver.KindCPU)
	plat := &fakeDriver{id: "platform_profile", kind: driver.KindPlatform, supports: profile.All(), current: profile.Balanced}

	e, _ := newTestEngine(t, cpu, plat)

	c1, err := e.HoldProfile(profile.Performance, "r", "a", "client1")
	require.NoError(t, err)
	assert.Equal(t, profile.Performance, waitSnapshot(t, e).ActiveProfile)

	c2, err := e.HoldProfile(profile.PowerSaver, "r", "a", "client2")
	require.NoError(t, err)
	assert.Equal(t, profile.PowerSaver, waitSnapshot(t, e).ActiveProfile)

	require.NoError(t, e.ReleaseProfile(c1, "client1"))
	assert.Equal(t, profile.PowerSaver, waitSnapshot(t, e).ActiveProfile)

	require.NoError(t, e.ReleaseProfile(c2, "client2"))
	assert.Equal(t, profile.Balanced, waitSnapshot(t, e).ActiveProfile)
}

func TestHoldBalancedRejected(t *testing.T) {
	cpu := driver.NewPlaceholder(driver.KindCPU)
	plat := driver.NewPlaceholder(driver.KindPlatform)

	e, _ := newTestEngine(t, cpu, plat)

	_, err := e.HoldProfile(profile.Balanced, "r", "a", "client1")
	require.Error(t, err)
}

func TestHoldPerformanceUnsupportedWithOnlyPlaceholders(t *testing.T) {
	cpu := driver.NewPlaceholder(driver.KindCPU)
	plat := driver.NewPlaceholder(driver.KindPlatform)

	e, _ := newTestEngine(t, cpu, plat)

	_, err := e.HoldProfile(profile.Performance, "r", "a", "client1")
	require.Error(t, err)

	snap := waitSnapshot(t, e)
	assert.Len(t, snap.Profiles, 2)
}

func TestUserSetReleasesAllHolds(t *testing.T) {
	cpu := driver.NewPlaceholder(driver.KindCPU)
	plat := &fakeDriver{id: "platform_profile", kind: driver.KindPlatform, supports: profile.All(), current: profile.Balanced}

	e, notifier := newTestEngine(t, cpu, plat)

	cookie, err := e.HoldProfile(profile.Performance, "r", "a", "client1")
	require.NoError(t, err)

	require.NoError(t, e.UserSet(profile.PowerSaver))

	assert.Contains(t, notifier.released, cookie)
	assert.Equal(t, profile.PowerSaver, waitSnapshot(t, e).ActiveProfile)
	assert.Empty(t, waitSnapshot(t, e).Holds)
}

func TestReleaseWrongOwnerIsInvalidArgs(t *testing.T) {
	cpu := driver.NewPlaceholder(driver.KindCPU)
	plat := &fakeDriver{id: "platform_profile", kind: driver.KindPlatform, supports: profile.All(), current: profile.Balanced}

	e, _ := newTestEngine(t, cpu, plat)

	cookie, err := e.HoldProfile(profile.Performance, "r", "a", "client1")
	require.NoError(t, err)

	err = e.ReleaseProfile(cookie, "client2")
	require.Error(t, err)
}

func TestReleaseUnknownCookieIsNoop(t *testing.T) {
	cpu := driver.NewPlaceholder(driver.KindCPU)
	plat := driver.NewPlaceholder(driver.KindPlatform)

	e, _ := newTestEngine(t, cpu, plat)

	require.NoError(t, e.ReleaseProfile(999, "client1"))
}

func TestClientVanishedBatchesReleases(t *testing.T) {
	cpu := driver.NewPlaceholder(driver.KindCPU)
	plat := &fakeDriver{id: "platform_profile", kind: driver.KindPlatform, supports: profile.All(), current: profile.Balanced}

	e, notifier := newTestEngine(t, cpu, plat)

	c1, err := e.HoldProfile(profile.Performance, "r", "a", "client1")
	require.NoError(t, err)
	c2, err := e.HoldProfile(profile.PowerSaver, "r", "a", "client1")
	require.NoError(t, err)

	e.ClientVanished("client1")

	// give the async ClientVanished call a chance to run before reading.
	waitSnapshot(t, e)

	assert.Contains(t, notifier.released, c1)
	assert.Contains(t, notifier.released, c2)
	assert.Equal(t, profile.Balanced, waitSnapshot(t, e).ActiveProfile)
}

func TestRefreshDegradationNotifiesWithoutChangingProfile(t *testing.T) {
	cpu := driver.NewPlaceholder(driver.KindCPU)
	plat := &fakeDriver{id: "platform_profile", kind: driver.KindPlatform, supports: profile.All(), current: profile.Balanced}

	e, notifier := newTestEngine(t, cpu, plat)

	before := waitSnapshot(t, e).ActiveProfile

	e.RefreshDegradation()
	waitSnapshot(t, e)

	assert.Equal(t, before, waitSnapshot(t, e).ActiveProfile)
	assert.Contains(t, notifier.changed, "PerformanceDegraded")
}

func TestDriverBecameAvailablePromotesPlaceholderAndForcesApply(t *testing.T) {
	cpu := driver.NewPlaceholder(driver.KindCPU)
	plat := driver.NewPlaceholder(driver.KindPlatform)

	e, _ := newTestEngine(t, cpu, plat)

	real := &fakeDriver{id: "intel_pstate", kind: driver.KindCPU, supports: profile.All(), current: profile.Balanced}
	e.DriverBecameAvailable(real)

	snap := waitSnapshot(t, e)

	var sawRealDriver bool

	for _, entry := range snap.Profiles {
		if entry.Driver == "intel_pstate" {
			sawRealDriver = true
		}
	}

	assert.True(t, sawRealDriver, "placeholder should have been swapped for the newly-available driver")
}

func TestTransactionRollsBackOnDriverFailure(t *testing.T) {
	cpu := &fakeDriver{id: "intel_pstate", kind: driver.KindCPU, supports: profile.All(), current: profile.Balanced}
	plat := &fakeDriver{id: "platform_profile", kind: driver.KindPlatform, supports: profile.All(), current: profile.Balanced, failNext: true}

	e, _ := newTestEngine(t, cpu, plat)

	err := e.UserSet(profile.Performance)
	require.Error(t, err)

	assert.Equal(t, profile.Balanced, waitSnapshot(t, e).ActiveProfile)
	assert.Equal(t, profile.Balanced, cpu.Current())
}
