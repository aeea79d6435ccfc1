// Command power-profiles-daemon arbitrates among power-saver, balanced,
// and performance profiles on behalf of every client holding an opinion,
// and exposes the result on the system bus (spec §1-§6).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/prometheus/common/promslog"
	"github.com/prometheus/common/promslog/flag"
	"github.com/prometheus/common/version"
	"kernel.org/pub/linux/libs/security/libcap/cap"

	"github.com/mahendrapaipuri/power-profiles-daemon/internal/action"
	"github.com/mahendrapaipuri/power-profiles-daemon/internal/authz"
	"github.com/mahendrapaipuri/power-profiles-daemon/internal/bus"
	"github.com/mahendrapaipuri/power-profiles-daemon/internal/driver"
	"github.com/mahendrapaipuri/power-profiles-daemon/internal/engine"
	"github.com/mahendrapaipuri/power-profiles-daemon/internal/hold"
	"github.com/mahendrapaipuri/power-profiles-daemon/internal/metrics"
	"github.com/mahendrapaipuri/power-profiles-daemon/internal/persist"
	"github.com/mahendrapaipuri/power-profiles-daemon/internal/profile"
	internal_runtime "github.com/mahendrapaipuri/power-profiles-daemon/internal/runtime"
	"github.com/mahendrapaipuri/power-profiles-daemon/internal/security"
	"github.com/mahendrapaipuri/power-profiles-daemon/internal/sysfs"
)

const appName = "power-profiles-daemon"

// notifierProxy breaks the construction cycle between the engine, which
// needs a Notifier at New time, and the bus facade, which needs the
// already-constructed engine: the engine is built against the proxy, the
// facade is then built and attached to it. The engine never calls its
// notifier before the facade is attached (New only publishes a snapshot).
type notifierProxy struct {
	facade *bus.Facade
}

func (p *notifierProxy) ProfileReleased(cookie uint32) {
	if p.facade != nil {
		p.facade.ProfileReleased(cookie)
	}
}

func (p *notifierProxy) PropertyChanged(name string) {
	if p.facade != nil {
		p.facade.PropertyChanged(name)
	}
}

func main() {
	var (
		persistFile             string
		aclUser                 string
		webListenAddresses      []string
		webConfigFile           string
		maxProcs                int
	)

	app := kingpin.New(appName, "Arbitrates power-saver, balanced, and performance profiles and exposes the result on D-Bus.")

	app.Flag(
		"persist.file",
		"Path to the file the last user-selected profile is persisted to.",
	).Envar("POWER_PROFILE_DAEMON_PERSIST_FILE").Default("/var/lib/power-profiles-daemon/state.ini").StringVar(&persistFile)

	app.Flag(
		"security.acl-user",
		"Grant this user read/write ACL access to the persistence file, in addition to root. Empty disables the grant.",
	).Envar("POWER_PROFILE_DAEMON_ACL_USER").Default("").StringVar(&aclUser)

	app.Flag(
		"web.listen-address",
		"Addresses on which to expose a debug/metrics endpoint. Empty disables it.",
	).Envar("POWER_PROFILE_DAEMON_WEB_LISTEN_ADDRESS").StringsVar(&webListenAddresses)

	app.Flag(
		"web.config.file",
		"Path to a web config file enabling TLS or authentication on the metrics endpoint.",
	).Envar("POWER_PROFILE_DAEMON_WEB_CONFIG_FILE").Default("").StringVar(&webConfigFile)

	app.Flag(
		"runtime.gomaxprocs", "The target number of CPUs Go will run on (GOMAXPROCS).",
	).Envar("GOMAXPROCS").Default("1").IntVar(&maxProcs)

	promslogConfig := &promslog.Config{}
	flag.AddFlags(app, promslogConfig)
	app.Version(version.Print(appName))
	app.UsageWriter(os.Stdout)
	app.HelpFlag.Short('h')

	if _, err := app.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, fmt.Errorf("failed to parse CLI flags: %w", err))
		os.Exit(1)
	}

	logger := promslog.New(promslogConfig)

	logger.Info("Starting "+appName, "version", version.Info())
	logger.Info(
		"Operational information", "build_context", version.BuildContext(),
		"host_details", internal_runtime.Uname(), "fd_limits", internal_runtime.FdLimits(),
	)

	runtime.GOMAXPROCS(maxProcs)
	logger.Debug("Go MAXPROCS", "procs", runtime.GOMAXPROCS(0))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw := sysfs.New(logger)

	watcher, err := sysfs.NewWatcher(logger)
	if err != nil {
		logger.Error("failed to start sysfs watcher", "err", err)
		os.Exit(1)
	}
	defer watcher.Close()

	driverBlock := splitEnvList("POWER_PROFILE_DAEMON_DRIVER_BLOCK")
	actionBlock := splitEnvList("POWER_PROFILE_DAEMON_ACTION_BLOCK")

	cpuDriver, dormantCPU := probeCPUDriver(gw, watcher, logger, driverBlock)
	platformDriver, dormantPlatform := probePlatformDriver(gw, watcher, logger, driverBlock)

	drivers := []driver.Driver{cpuDriver, platformDriver}

	actionCandidates := []action.Action{
		action.NewTrickleCharge(gw, logger),
		action.NewAmdgpuPanelPower(gw, logger),
	}

	var actions []action.Action

	var actionIDs []string

	for _, a := range actionCandidates {
		if contains(actionBlock, a.ID()) {
			logger.Info("action disabled by env block list", "action", a.ID())

			continue
		}

		actions = append(actions, a)
		actionIDs = append(actionIDs, a.ID())
	}

	actionRegistry := action.NewRegistry(logger, actions...)
	actionRegistry.ProbeAll()

	store := persist.NewStore(persistFile, logger)
	userSelected := store.Load(profile.Balanced)

	holds := hold.NewRegistry()

	proxy := &notifierProxy{}

	eng := engine.New(logger, drivers, actionRegistry, actionIDs, holds, store, proxy, userSelected)

	securityManager, err := security.NewManager(&security.Config{
		Caps:           requiredCaps(logger),
		ACLUser:        aclUser,
		ReadWritePaths: []string{filepath.Dir(persistFile), persistFile},
	}, logger)
	if err != nil {
		logger.Error("failed to create security manager", "err", err)
		os.Exit(1)
	}

	securityManager.CheckCapabilities()

	if err := securityManager.GrantACLAccess(); err != nil {
		logger.Error("failed to grant acl access to persistence file", "err", err)
	}

	authzClient, err := authz.New()
	if err != nil {
		logger.Error("failed to connect to authorization authority", "err", err)
		os.Exit(1)
	}
	defer authzClient.Close()

	facade, err := bus.New(logger, eng, authzClient, version.Version)
	if err != nil {
		logger.Error("failed to export bus object", "err", err)
		os.Exit(1)
	}
	defer facade.Close()

	proxy.facade = facade

	for _, d := range drivers {
		startMonitoring(d, eng, logger)
	}

	dormant := append(dormantCPU, dormantPlatform...)
	watchDormantPrerequisites(watcher, logger, eng, dormant)

	var metricsServer *metrics.Server

	if len(webListenAddresses) > 0 {
		metricsServer = metrics.NewServer(logger, eng, webListenAddresses, webConfigFile)

		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error("failed to start debug/metrics server", "err", err)
			}
		}()
	}

	<-ctx.Done()

	stop()
	logger.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown debug/metrics server", "err", err)
		}
	}

	if err := securityManager.RevokeACLAccess(); err != nil {
		logger.Error("failed to revoke acl access to persistence file", "err", err)
	}

	logger.Info("exiting")
}

// requiredCaps resolves the capabilities a process writing to sysfs cpufreq
// and ACPI platform-profile nodes, and to the persistence path, would need
// when run unprivileged instead of as root. They are never enforced here:
// security.Manager.CheckCapabilities only logs a warning when one is
// missing (SPEC_FULL.md §A).
func requiredCaps(logger *slog.Logger) []cap.Value {
	names := []string{"cap_dac_override", "cap_sys_admin"}

	caps := make([]cap.Value, 0, len(names))

	for _, name := range names {
		v, err := cap.FromName(name)
		if err != nil {
			logger.Warn("unknown capability name, skipping", "cap", name, "err", err)

			continue
		}

		caps = append(caps, v)
	}

	return caps
}

func splitEnvList(name string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))

	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}

	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}

	return false
}
