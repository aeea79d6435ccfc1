// Package sysfs implements the gateway component (spec §4.1): typed reads,
// atomic writes, and change notifications on kernel nodes under /sys and
// /proc, with a root prefix that tests can override so fixtures can
// interpose a shadow filesystem.
package sysfs

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mahendrapaipuri/power-profiles-daemon/internal/apierror"
)

// RootEnvVar overrides the root prefix every gateway path is joined
// against. Grounded on the teacher's --path.sysfs flag (pkg/collector
// paths.go), generalized into a single env var since the daemon has no
// other kingpin flags wired through this deep into the component tree.
const RootEnvVar = "POWER_PROFILE_DAEMON_FAKE_SYSFS"

// Gateway resolves abstract kernel-node paths against a root prefix and
// performs typed, atomic I/O against them.
type Gateway struct {
	root   string
	logger *slog.Logger
}

// New returns a Gateway rooted at the directory named by RootEnvVar, or at
// "/" (the real kernel tree) when unset.
func New(logger *slog.Logger) *Gateway {
	root := os.Getenv(RootEnvVar)
	if root == "" {
		root = "/"
	}

	return &Gateway{root: root, logger: logger}
}

// NewRooted returns a Gateway rooted explicitly at root, bypassing the
// environment variable. Used by tests that want more than one gateway
// instance pointed at distinct fixture trees in the same process.
func NewRooted(root string, logger *slog.Logger) *Gateway {
	return &Gateway{root: root, logger: logger}
}

// Path joins name onto the gateway's root, the same way the teacher's
// sysFilePath/cgroupFilePath helpers do for a single fixed mountpoint.
func (g *Gateway) Path(name string) string {
	return filepath.Join(g.root, name)
}

// ReadTrimmed reads the file at name and strips a single trailing newline.
func (g *Gateway) ReadTrimmed(name string) (string, error) {
	path := g.Path(name)

	data, err := os.ReadFile(path)
	if err != nil {
		return "", classify(path, err)
	}

	return string(bytes.TrimSuffix(data, []byte("\n"))), nil
}

// Exists reports whether name is present under the gateway's root, without
// distinguishing permission errors from absence: callers that only need a
// prerequisite check (driver probing) want a plain boolean.
func (g *Gateway) Exists(name string) bool {
	_, err := os.Stat(g.Path(name))

	return err == nil
}

// WriteAtomic truncates the file at name and writes data to it, rejecting
// short writes. It does not append a trailing newline unless the caller
// includes one in data.
func (g *Gateway) WriteAtomic(name string, data []byte) error {
	path := g.Path(name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return classify(path, err)
	}
	defer f.Close()

	n, err := f.Write(data)
	if err != nil {
		return classify(path, err)
	}

	if n != len(data) {
		return apierror.New(apierror.KindIO, "write_atomic",
			fmt.Errorf("short write to %s: wrote %d of %d bytes", path, n, len(data)))
	}

	return nil
}

// WriteString is a convenience wrapper around WriteAtomic for the common
// case of writing a bare token.
func (g *Gateway) WriteString(name, value string) error {
	return g.WriteAtomic(name, []byte(value))
}

// Glob expands pattern (relative to the gateway's root, e.g.
// "sys/devices/system/cpu/cpufreq/policy*") and returns matches as names
// relative to root again, suitable for passing straight back into
// ReadTrimmed/WriteAtomic. Used by the per-cpu cpufreq drivers to fan out
// over however many policyN directories the kernel exposes.
func (g *Gateway) Glob(pattern string) ([]string, error) {
	matches, err := filepath.Glob(g.Path(pattern))
	if err != nil {
		return nil, err
	}

	rel := make([]string, 0, len(matches))

	for _, m := range matches {
		r, err := filepath.Rel(g.root, m)
		if err != nil {
			return nil, err
		}

		rel = append(rel, r)
	}

	return rel, nil
}

// classify maps a raw os error onto the gateway's three-way failure
// taxonomy (spec §4.1): not-present, permission-denied, io. Only
// not-present is meant to be interpreted by upper layers as a driver probe
// failure.
func classify(path string, err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return apierror.New(apierror.KindIO, "sysfs", fmt.Errorf("%s: %w", path, apierror.ErrNotPresent))
	case errors.Is(err, os.ErrPermission):
		return apierror.New(apierror.KindIO, "sysfs", fmt.Errorf("%s: %w", path, apierror.ErrPermissionDenied))
	default:
		return apierror.New(apierror.KindIO, "sysfs", fmt.Errorf("%s: %w", path, err))
	}
}

// NotPresent reports whether err represents a missing kernel node, the
// only gateway failure upper layers may treat as a probe failure rather
// than a live I/O error.
func NotPresent(err error) bool {
	return errors.Is(err, apierror.ErrNotPresent)
}
