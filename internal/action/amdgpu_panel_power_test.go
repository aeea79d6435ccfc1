package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahendrapaipuri/power-profiles-daemon/internal/profile"
	"github.com/mahendrapaipuri/power-profiles-daemon/internal/sysfs"
)

func TestAmdgpuPanelPowerSkippedOnAC(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "sys/class/drm/card0-eDP-1/status", "connected")
	writeFixture(t, dir, "sys/class/drm/card0-eDP-1/amdgpu/panel_power_savings", "0")

	gw := sysfs.NewRooted(dir, testLogger())
	a := NewAmdgpuPanelPower(gw, testLogger())
	require.NoError(t, a.Probe())

	res := a.OnProfile(profile.PowerSaver, false)
	assert.False(t, res.Applied)
}

func TestAmdgpuPanelPowerWritesLevelOnBattery(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "sys/class/drm/card0-eDP-1/status", "connected")
	writeFixture(t, dir, "sys/class/drm/card0-eDP-1/amdgpu/panel_power_savings", "0")

	gw := sysfs.NewRooted(dir, testLogger())
	a := NewAmdgpuPanelPower(gw, testLogger())
	require.NoError(t, a.Probe())

	res := a.OnProfile(profile.PowerSaver, true)
	assert.True(t, res.Applied)
	assert.NoError(t, res.Err)

	level, err := gw.ReadTrimmed("sys/class/drm/card0-eDP-1/amdgpu/panel_power_savings")
	require.NoError(t, err)
	assert.Equal(t, "3", level)
}

func TestAmdgpuPanelPowerSkipsDisconnectedConnector(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "sys/class/drm/card0-eDP-1/status", "disconnected")
	writeFixture(t, dir, "sys/class/drm/card0-eDP-1/amdgpu/panel_power_savings", "0")

	gw := sysfs.NewRooted(dir, testLogger())
	a := NewAmdgpuPanelPower(gw, testLogger())
	require.NoError(t, a.Probe())

	res := a.OnProfile(profile.Performance, true)
	assert.False(t, res.Applied)
}

func TestAmdgpuPanelPowerIgnoresNonEdpDeviceAdd(t *testing.T) {
	dir := t.TempDir()
	gw := sysfs.NewRooted(dir, testLogger())
	a := NewAmdgpuPanelPower(gw, testLogger())
	require.NoError(t, a.Probe())

	a.OnDeviceAdded("sys/class/drm/card0-HDMI-1")
	assert.Empty(t, a.connectors)
}
