// Package persist implements the persistence component (spec §4.7): the
// last user-chosen profile, round-tripped through a single-section INI
// file via gopkg.in/ini.v1, the format the teacher's own config layer
// prefers for compact deployment-local configuration.
package persist

import (
	"log/slog"

	"gopkg.in/ini.v1"

	"github.com/mahendrapaipuri/power-profiles-daemon/internal/profile"
)

const (
	sectionState = "State"
	keyActive    = "active-profile"
)

// Store reads and writes the active-profile record at path. Writes are
// best-effort: Save logs a failure itself and never fails the bus request
// that triggered it (spec §4.7).
type Store struct {
	path   string
	logger *slog.Logger
}

func NewStore(path string, logger *slog.Logger) *Store {
	return &Store{path: path, logger: logger}
}

// Load returns the persisted profile, or fallback (balanced, per spec
// §3's lifecycle note) if the file is absent, unreadable, or names a
// profile string that no longer parses.
func (s *Store) Load(fallback profile.Profile) profile.Profile {
	cfg, err := ini.Load(s.path)
	if err != nil {
		return fallback
	}

	raw := cfg.Section(sectionState).Key(keyActive).String()
	if raw == "" {
		return fallback
	}

	p, err := profile.Parse(raw)
	if err != nil {
		return fallback
	}

	return p
}

// Save writes p as the sole active-profile record, overwriting the file.
// Failures are logged, never returned, per spec §4.7's best-effort
// semantics.
func (s *Store) Save(p profile.Profile) {
	cfg := ini.Empty()
	cfg.Section(sectionState).Key(keyActive).SetValue(p.String())

	if err := cfg.SaveTo(s.path); err != nil {
		s.logger.Warn("failed to persist active profile", "path", s.path, "err", err)
	}
}
