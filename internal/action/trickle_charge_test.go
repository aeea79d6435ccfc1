package action

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahendrapaipuri/power-profiles-daemon/internal/profile"
	"github.com/mahendrapaipuri/power-profiles-daemon/internal/sysfs"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeFixture(t *testing.T, root, rel, content string) {
	t.Helper()

	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestTrickleChargeOnlyRegistersDeviceScoped(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "sys/class/power_supply/BAT0/scope", "Device")
	writeFixture(t, dir, "sys/class/power_supply/BAT0/charge_type", "Fast")
	writeFixture(t, dir, "sys/class/power_supply/AC/scope", "System")

	gw := sysfs.NewRooted(dir, testLogger())
	a := NewTrickleCharge(gw, testLogger())

	require.NoError(t, a.Probe())

	res := a.OnProfile(profile.PowerSaver, false)
	assert.True(t, res.Applied)
	assert.NoError(t, res.Err)

	got, err := gw.ReadTrimmed("sys/class/power_supply/BAT0/charge_type")
	require.NoError(t, err)
	assert.Equal(t, "Trickle", got)
}

func TestTrickleChargeRestoresStartupValueOffPowerSaver(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "sys/class/power_supply/BAT0/scope", "Device")
	writeFixture(t, dir, "sys/class/power_supply/BAT0/charge_type", "Fast")

	gw := sysfs.NewRooted(dir, testLogger())
	a := NewTrickleCharge(gw, testLogger())
	require.NoError(t, a.Probe())

	a.OnProfile(profile.PowerSaver, false)
	a.OnProfile(profile.Balanced, false)

	got, err := gw.ReadTrimmed("sys/class/power_supply/BAT0/charge_type")
	require.NoError(t, err)
	assert.Equal(t, "Fast", got)
}

func TestTrickleChargeNoDevicesNotApplied(t *testing.T) {
	dir := t.TempDir()
	gw := sysfs.NewRooted(dir, testLogger())
	a := NewTrickleCharge(gw, testLogger())
	require.NoError(t, a.Probe())

	res := a.OnProfile(profile.PowerSaver, false)
	assert.False(t, res.Applied)
}

func TestTrickleChargeOnDeviceAddedAndRemoved(t *testing.T) {
	dir := t.TempDir()

	gw := sysfs.NewRooted(dir, testLogger())
	a := NewTrickleCharge(gw, testLogger())
	require.NoError(t, a.Probe())

	assert.Empty(t, a.devices)

	writeFixture(t, dir, "sys/class/power_supply/BAT1/scope", "Device")
	writeFixture(t, dir, "sys/class/power_supply/BAT1/charge_type", "Fast")

	a.OnDeviceAdded("sys/class/power_supply/BAT1")
	assert.Len(t, a.devices, 1)

	a.OnDeviceRemoved("sys/class/power_supply/BAT1")
	assert.Empty(t, a.devices)
}
