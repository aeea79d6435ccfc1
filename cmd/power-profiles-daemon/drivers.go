package main

import (
	"log/slog"
	"os"

	"github.com/mahendrapaipuri/power-profiles-daemon/internal/driver"
	"github.com/mahendrapaipuri/power-profiles-daemon/internal/engine"
	"github.com/mahendrapaipuri/power-profiles-daemon/internal/profile"
	"github.com/mahendrapaipuri/power-profiles-daemon/internal/sysfs"
)

// probeCPUDriver probes the candidate CPU-kind back-ends in priority order
// (the fake driver first, so POWER_PROFILE_DAEMON_FAKE_DRIVER=1 always
// wins for CI) and returns the first one that loads, plus every other
// candidate that probed cleanly but found nothing to drive, for later
// hotplug promotion (spec §9's back-end polymorphism, SPEC_FULL.md's
// FAKE_DRIVER/DRIVER_BLOCK wiring).
func probeCPUDriver(gw *sysfs.Gateway, watcher *sysfs.Watcher, logger *slog.Logger, blocklist []string) (driver.Driver, []driver.Driver) {
	candidates := make([]driver.Driver, 0, 3)

	if os.Getenv("POWER_PROFILE_DAEMON_FAKE_DRIVER") == "1" {
		candidates = append(candidates, driver.NewFake())
	}

	candidates = append(candidates,
		driver.NewIntelPstate(gw, watcher, logger),
		driver.NewAmdPstate(gw, watcher, logger),
	)

	return probeKind(driver.KindCPU, candidates, blocklist, logger)
}

// probePlatformDriver probes the single known platform-kind back-end.
func probePlatformDriver(gw *sysfs.Gateway, watcher *sysfs.Watcher, logger *slog.Logger, blocklist []string) (driver.Driver, []driver.Driver) {
	candidates := []driver.Driver{driver.NewPlatformProfile(gw, watcher, logger)}

	return probeKind(driver.KindPlatform, candidates, blocklist, logger)
}

func probeKind(kind driver.Kind, candidates []driver.Driver, blocklist []string, logger *slog.Logger) (driver.Driver, []driver.Driver) {
	var active driver.Driver

	var dormant []driver.Driver

	for _, d := range candidates {
		if contains(blocklist, d.ID()) {
			logger.Info("driver disabled by env block list", "driver", d.ID())

			continue
		}

		loaded, err := d.Probe()
		if err != nil {
			logger.Warn("driver probe failed", "driver", d.ID(), "err", err)

			continue
		}

		if loaded && active == nil {
			active = d

			continue
		}

		if !loaded {
			dormant = append(dormant, d)
		}
	}

	if active == nil {
		active = driver.NewPlaceholder(kind)
	} else {
		logger.Info("driver loaded", "driver", active.ID(), "kind", kind.String())
	}

	return active, dormant
}

// startMonitoring wires a driver's external-change and degradation events
// to the engine: an externally observed profile change (a hotkey writing
// platform_profile) is treated as a manual selection (spec §4.5's table),
// and a bare degradation flip re-publishes the snapshot without touching
// the effective profile.
func startMonitoring(d driver.Driver, eng *engine.Engine, logger *slog.Logger) {
	err := d.StartMonitoring(driver.Events{
		ExternalProfileChange: func(p profile.Profile) {
			if err := eng.UserSet(p); err != nil {
				logger.Warn("failed to apply externally observed profile change", "driver", d.ID(), "err", err)
			}
		},
		DegradationChanged: func() {
			eng.RefreshDegradation()
		},
	})
	if err != nil {
		logger.Warn("failed to start monitoring driver", "driver", d.ID(), "err", err)
	}
}

// watchDormantPrerequisites watches every dormant candidate's prerequisite
// sysfs paths, re-probing and promoting it into the engine's active driver
// set the moment the path appears (spec §9's "file-watch re-entrancy"
// design note): a driver module loading after startup should not require a
// daemon restart.
func watchDormantPrerequisites(watcher *sysfs.Watcher, logger *slog.Logger, eng *engine.Engine, dormant []driver.Driver) {
	for _, d := range dormant {
		for _, path := range d.Prerequisites() {
			if err := watcher.Watch(path, func(sysfs.Event) {
				loaded, err := d.Probe()
				if err != nil {
					logger.Warn("dormant driver re-probe failed", "driver", d.ID(), "err", err)

					return
				}

				if !loaded {
					return
				}

				startMonitoring(d, eng, logger)

				logger.Info("dormant driver became available", "driver", d.ID())
				eng.DriverBecameAvailable(d)
			}); err != nil {
				logger.Warn("failed to watch driver prerequisite", "driver", d.ID(), "path", path, "err", err)
			}
		}
	}
}
