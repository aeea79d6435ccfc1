// Package metrics implements the optional debug/metrics HTTP endpoint
// (SPEC_FULL.md §B): a small prometheus.Collector over the engine's
// snapshot, exposed the way the teacher's own collector package wires a
// registry into an exporter-toolkit web.FlagConfig server, minus the
// scrape-time device walk this daemon has no need for.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	promcollectors "github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/collectors/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/exporter-toolkit/web"

	"github.com/mahendrapaipuri/power-profiles-daemon/internal/engine"
)

const namespace = "power_profiles_daemon"

// Engine is the subset of *engine.Engine the collector depends on.
type Engine interface {
	Snapshot() engine.Snapshot
}

var (
	activeProfileDesc = prometheus.NewDesc(
		namespace+"_active_profile",
		"1 for the profile currently in effect, 0 for the others.",
		[]string{"profile"}, nil,
	)
	transactionDurationDesc = prometheus.NewDesc(
		namespace+"_transaction_duration_seconds",
		"Duration of the most recently completed profile transition.",
		nil, nil,
	)
	driverProbeSuccessDesc = prometheus.NewDesc(
		namespace+"_driver_probe_success",
		"1 if the active driver for a back-end kind is a real back-end, 0 if it fell back to the placeholder.",
		[]string{"kind"}, nil,
	)
	degradedDesc = prometheus.NewDesc(
		namespace+"_degraded",
		"1 if PerformanceDegraded is non-empty.",
		nil, nil,
	)
)

// Collector implements prometheus.Collector over an Engine's snapshot,
// gathered fresh on every scrape (spec §4.4: Snapshot is cheap, it never
// touches the engine loop's channel for anything but a read).
type Collector struct {
	eng Engine
}

func NewCollector(eng Engine) *Collector {
	return &Collector{eng: eng}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- activeProfileDesc
	ch <- transactionDurationDesc
	ch <- driverProbeSuccessDesc
	ch <- degradedDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.eng.Snapshot()

	for _, entry := range snap.Profiles {
		value := 0.0
		if entry.Profile == snap.ActiveProfile {
			value = 1.0
		}

		ch <- prometheus.MustNewConstMetric(activeProfileDesc, prometheus.GaugeValue, value, string(entry.Profile))
	}

	ch <- prometheus.MustNewConstMetric(
		transactionDurationDesc, prometheus.GaugeValue, snap.TransactionDuration.Seconds(),
	)

	cpuDriver, platformDriver := "placeholder", "placeholder"

	for _, entry := range snap.Profiles {
		if entry.Driver == "placeholder" {
			continue
		}

		if entry.CpuDriver != "" {
			cpuDriver = entry.CpuDriver
		}

		if entry.PlatformDriver != "" {
			platformDriver = entry.PlatformDriver
		}
	}

	ch <- prometheus.MustNewConstMetric(driverProbeSuccessDesc, prometheus.GaugeValue, boolToFloat(cpuDriver != "placeholder"), "cpu")
	ch <- prometheus.MustNewConstMetric(driverProbeSuccessDesc, prometheus.GaugeValue, boolToFloat(platformDriver != "placeholder"), "platform")

	ch <- prometheus.MustNewConstMetric(degradedDesc, prometheus.GaugeValue, boolToFloat(snap.PerformanceDegraded != ""))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}

	return 0
}

// Server exposes Collector on an optional debug HTTP listener, following
// the teacher's web.FlagConfig/gorilla-mux wiring (pkg/collector/server.go)
// minus the Alloy-targets and pprof surface this daemon has no use for.
type Server struct {
	logger *slog.Logger
	http   *http.Server
	web    *web.FlagConfig
}

func NewServer(logger *slog.Logger, eng Engine, addresses []string, webConfigFile string) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		promcollectors.NewProcessCollector(promcollectors.ProcessCollectorOpts{}),
		promcollectors.NewGoCollector(),
		version.NewCollector(namespace),
		NewCollector(eng),
	)

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		ErrorLog:      slog.NewLogLogger(logger.Handler(), slog.LevelError),
		ErrorHandling: promhttp.ContinueOnError,
	}))
	router.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "power-profiles-daemon is healthy")
	})

	return &Server{
		logger: logger,
		http: &http.Server{
			Addr:              addresses[0],
			Handler:           router,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			ReadHeaderTimeout: 2 * time.Second,
		},
		web: &web.FlagConfig{
			WebListenAddresses: &addresses,
			WebSystemdSocket:   new(bool),
			WebConfigFile:      &webConfigFile,
		},
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting debug/metrics server")

	if err := web.ListenAndServe(s.http, s.web, s.logger); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
