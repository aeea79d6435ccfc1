// Package security implements startup capability introspection and ACL
// bookkeeping around the persistence file. Unlike the daemon's teacher,
// this process never drops privileges: the sysfs nodes its drivers write
// stay root-owned for the whole process lifetime, so there is no
// changeUser/DropPrivileges path here, only a warning-only capability
// check and an optional ACL grant for a configured non-root client.
package security

import (
	"fmt"
	"log/slog"
	"os/user"
	"strconv"

	"github.com/steiler/acls"
	"github.com/wneessen/go-fileperm"
	"kernel.org/pub/linux/libs/security/libcap/cap"
)

const deleteACLCtx = "delete_acl_entries"

// Config configures the capabilities the active driver/action set expects
// the process to hold, and the ACL grant made to an optional non-root
// client of the persistence file.
type Config struct {
	Caps           []cap.Value // capabilities the loaded drivers/actions need
	ACLUser        string      // non-root user granted access, "" to skip
	ReadWritePaths []string    // persistence file and its containing directory
}

type acl struct {
	path  string
	entry *acls.ACLEntry
}

// Manager introspects process capabilities and grants/revokes the ACL
// entries needed for ACLUser to reach the persistence path.
type Manager struct {
	logger       *slog.Logger
	caps         []cap.Value
	acls         []acl
	deleteACLCtx *SecurityContext
}

// NewManager computes the ACL entries ACLUser is missing on
// ReadWritePaths. It does not apply them; call GrantACLAccess for that.
func NewManager(c *Config, logger *slog.Logger) (*Manager, error) {
	manager := &Manager{logger: logger, caps: c.Caps}

	if c.ACLUser == "" {
		return manager, nil
	}

	aclUser, err := user.Lookup(c.ACLUser)
	if err != nil {
		return nil, fmt.Errorf("could not lookup acl user %s: %w", c.ACLUser, err)
	}

	uid, err := strconv.ParseUint(aclUser.Uid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to convert acl user uid to uint32: %w", err)
	}

	aclUserUID := uint32(uid)

	for _, path := range c.ReadWritePaths {
		if path == "" {
			continue
		}

		fperms, err := fileperm.New(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat path permissions for %s: %w", path, err)
		}

		var perms uint16

		var hasPerms bool

		switch mode := fperms.Stat.Mode(); {
		case mode.IsDir():
			perms = 7
			hasPerms = hasReadWriteExecutable(fperms)
		case mode.IsRegular():
			perms = 6
			hasPerms = hasReadWrite(fperms)
		}

		// Already reachable by others, nothing to grant.
		if hasPerms {
			continue
		}

		entry := acls.NewEntry(acls.TAG_ACL_USER, aclUserUID, perms)
		manager.acls = append(manager.acls, acl{path: path, entry: entry})
	}

	if len(manager.acls) == 0 {
		return manager, nil
	}

	securityCtx, err := NewSecurityContext(&SCConfig{
		Name:   deleteACLCtx,
		Caps:   []cap.Value{cap.FOWNER},
		Func:   deleteACLEntries,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to setup acl security context: %w", err)
	}

	manager.deleteACLCtx = securityCtx

	return manager, nil
}

// CheckCapabilities logs a warning for every capability in Config.Caps the
// running process lacks in its permitted set. It never refuses to start:
// the daemon normally runs fully privileged as root, this only matters to
// distros that run it with a capability set instead.
func (m *Manager) CheckCapabilities() {
	proc := cap.GetProc()

	for _, c := range m.caps {
		has, err := proc.GetFlag(cap.Permitted, c)
		if err != nil {
			m.logger.Warn("could not query process capability", "cap", c, "err", err)

			continue
		}

		if !has {
			m.logger.Warn("process is missing a capability a loaded driver may need", "cap", c)
		}
	}
}

// GrantACLAccess applies the ACL entries computed in NewManager, granting
// ACLUser read/write access to the persistence path.
func (m *Manager) GrantACLAccess() error {
	for _, a := range m.acls {
		entries := &acls.ACL{}

		if err := entries.Load(a.path, acls.PosixACLAccess); err != nil {
			return fmt.Errorf("failed to load acl entries for %s: %w", a.path, err)
		}

		if err := entries.AddEntry(a.entry); err != nil {
			return fmt.Errorf("failed to add acl entry %s on %s: %w", a.entry, a.path, err)
		}

		if err := entries.Apply(a.path, acls.PosixACLAccess); err != nil {
			return fmt.Errorf("failed to apply acl entries to %s: %w", a.path, err)
		}

		m.logger.Debug("acl entry granted", "path", a.path, "acl", a.entry)
	}

	return nil
}

// RevokeACLAccess removes the entries GrantACLAccess added, via a
// CAP_FOWNER-scoped security context since the process may not own the
// persistence path after an ownership change elsewhere.
func (m *Manager) RevokeACLAccess() error {
	if len(m.acls) == 0 {
		return nil
	}

	if m.deleteACLCtx == nil {
		return fmt.Errorf("%w: no acl security context to revoke entries", ErrNoSecurityCtx)
	}

	if err := m.deleteACLCtx.Exec(&deleteACLEntriesCtxData{acls: m.acls}); err != nil {
		return fmt.Errorf("failed to revoke acl entries: %w", err)
	}

	return nil
}

type deleteACLEntriesCtxData struct {
	acls []acl
}

// deleteACLEntries removes every granted entry inside a security context
// that has raised CAP_FOWNER.
func deleteACLEntries(data any) error {
	d, ok := data.(*deleteACLEntriesCtxData)
	if !ok {
		return ErrSecurityCtxDataAssertion
	}

	for _, a := range d.acls {
		entries := &acls.ACL{}

		if err := entries.Load(a.path, acls.PosixACLAccess); err != nil {
			return err
		}

		entries.DeleteEntry(a.entry)

		if err := entries.Apply(a.path, acls.PosixACLAccess); err != nil {
			return err
		}
	}

	return nil
}

// hasReadWrite reports whether others already have rw permission on path.
func hasReadWrite(p fileperm.PermUser) bool {
	return p.Stat.Mode().Perm()&fileperm.OsOthR != 0 && p.Stat.Mode().Perm()&fileperm.OsOthW != 0
}

// hasReadWriteExecutable reports whether others already have rwx
// permission on path (used for the persistence directory).
func hasReadWriteExecutable(p fileperm.PermUser) bool {
	perm := p.Stat.Mode().Perm()

	return perm&fileperm.OsOthR != 0 && perm&fileperm.OsOthW != 0 && perm&fileperm.OsOthX != 0
}
