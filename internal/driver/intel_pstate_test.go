package driver

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

func TestIntelPstateProbeInactive(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, intelPstateStatus, "passive")

	gw := sysfs.NewRooted(dir, testLogger())
	d := NewIntelPstate(gw, nil, testLogger())

	loaded, err := d.Probe()
	require.NoError(t, err)
	assert.False(t, loaded)
}

func TestIntelPstateProbeMissing(t *testing.T) {
	dir := t.TempDir()
	gw := sysfs.NewRooted(dir, testLogger())
	d := NewIntelPstate(gw, nil, testLogger())

	loaded, err := d.Probe()
	require.NoError(t, err)
	assert.False(t, loaded)
}

func TestIntelPstateApplyWritesEppAndEpb(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, intelPstateStatus, "active")
	writeFixture(t, dir, "sys/devices/system/cpu/cpufreq/policy0/energy_performance_preference", "balance_performance")
	writeFixture(t, dir, "sys/devices/system/cpu/cpu0/power/energy_perf_bias", "6")

	gw := sysfs.NewRooted(dir, testLogger())
	d := NewIntelPstate(gw, nil, testLogger())

	loaded, err := d.Probe()
	require.NoError(t, err)
	require.True(t, loaded)

	require.NoError(t, d.Apply(profile.Performance))
	assert.Equal(t, profile.Performance, d.Current())

	epp, err := gw.ReadTrimmed("sys/devices/system/cpu/cpufreq/policy0/energy_performance_preference")
	require.NoError(t, err)
	assert.Equal(t, "performance", epp)

	epb, err := gw.ReadTrimmed("sys/devices/system/cpu/cpu0/power/energy_perf_bias")
	require.NoError(t, err)
	assert.Equal(t, "0", epb)
}

func TestIntelPstateApplyRefusesWhenNotActive(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, intelPstateStatus, "passive")

	gw := sysfs.NewRooted(dir, testLogger())
	d := NewIntelPstate(gw, nil, testLogger())

	err := d.Apply(profile.Performance)
	require.Error(t, err)
}

func TestIntelPstateNoTurboDegradation(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, intelPstateStatus, "active")
	writeFixture(t, dir, intelPstateNoTurbo, "1")
	writeFixture(t, dir, intelPstateTurboPct, "0")

	gw := sysfs.NewRooted(dir, testLogger())
	d := NewIntelPstate(gw, nil, testLogger())

	_, err := d.Probe()
	require.NoError(t, err)

	d.onNoTurboChanged()
	assert.Empty(t, d.Degradation(), "turbo_pct at 0 means no turbo budget left to lose, not degradation")

	writeFixture(t, dir, intelPstateTurboPct, "50")
	d.onNoTurboChanged()
	assert.Equal(t, "high-operating-temperature", d.Degradation())
}
