package action

import (
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mahendrapaipuri/power-profiles-daemon/internal/profile"
	"github.com/mahendrapaipuri/power-profiles-daemon/internal/sysfs"
)

const (
	drmConnectorGlob   = "sys/class/drm/card*-eDP-*"
	drmStatusFile      = "status"
	panelPowerSavings  = "amdgpu/panel_power_savings"
	statusConnected    = "connected"
)

// panelPowerByProfile mirrors amdgpu's 0-4 panel_power_savings scale: 0
// leaves the panel untouched, higher values trade color/brightness accuracy
// for lower power draw.
var panelPowerByProfile = map[profile.Profile]string{
	profile.Performance: "0",
	profile.Balanced:    "1",
	profile.PowerSaver:  "3",
}

// AmdgpuPanelPower writes panel_power_savings on every connected eDP
// connector to the level for the active profile, but only while running on
// battery; on AC it leaves the panel at its default (spec §4.3).
type AmdgpuPanelPower struct {
	gw     *sysfs.Gateway
	logger *slog.Logger

	mu         sync.Mutex
	connectors map[string]bool
}

func NewAmdgpuPanelPower(gw *sysfs.Gateway, logger *slog.Logger) *AmdgpuPanelPower {
	return &AmdgpuPanelPower{gw: gw, logger: logger, connectors: make(map[string]bool)}
}

func (a *AmdgpuPanelPower) ID() string { return "amdgpu_panel_power" }

func (a *AmdgpuPanelPower) Probe() error {
	matches, err := a.gw.Glob(drmConnectorGlob)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.connectors = make(map[string]bool)

	for _, m := range matches {
		if !a.gw.Exists(filepath.Join(m, panelPowerSavings)) {
			continue
		}

		a.connectors[m] = true
	}

	return nil
}

func (a *AmdgpuPanelPower) OnProfile(p profile.Profile, onBattery bool) Result {
	a.mu.Lock()
	connectors := make([]string, 0, len(a.connectors))
	for c := range a.connectors {
		connectors = append(connectors, c)
	}
	a.mu.Unlock()

	if len(connectors) == 0 || !onBattery {
		return Result{Applied: false}
	}

	level := panelPowerByProfile[p]

	var firstErr error
	applied := false

	for _, c := range connectors {
		status, err := a.gw.ReadTrimmed(filepath.Join(c, drmStatusFile))
		if err != nil || status != statusConnected {
			continue
		}

		applied = true

		if err := a.gw.WriteString(filepath.Join(c, panelPowerSavings), level); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return Result{Applied: applied, Err: firstErr}
}

func (a *AmdgpuPanelPower) OnDeviceAdded(path string) {
	if !strings.HasPrefix(path, "sys/class/drm/") || !strings.Contains(path, "-eDP-") {
		return
	}

	if !a.gw.Exists(filepath.Join(path, panelPowerSavings)) {
		return
	}

	a.mu.Lock()
	a.connectors[path] = true
	a.mu.Unlock()
}

func (a *AmdgpuPanelPower) OnDeviceRemoved(path string) {
	a.mu.Lock()
	delete(a.connectors, path)
	a.mu.Unlock()
}
