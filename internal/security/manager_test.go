package security

import (
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"testing"

	"github.com/steiler/acls"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"kernel.org/pub/linux/libs/security/libcap/cap"
)

func skipUnprivileged(t *testing.T) {
	t.Helper()

	currentUser, err := user.Current()
	require.NoError(t, err)

	if currentUser.Uid != "0" {
		t.Skip("Skipping testing due to lack of privileges")
	}
}

func testConfig(tmpDir string) (*Config, error) {
	stateFile := filepath.Join(tmpDir, "state.ini")
	if err := os.WriteFile(stateFile, []byte("[State]\n"), 0o600); err != nil {
		return nil, err
	}

	return &Config{
		ACLUser:        "nobody",
		ReadWritePaths: []string{tmpDir, stateFile},
	}, nil
}

func TestNewManagerComputesMissingEntries(t *testing.T) {
	tmpDir := t.TempDir()

	c, err := testConfig(tmpDir)
	require.NoError(t, err)

	m, err := NewManager(c, slog.Default())
	require.NoError(t, err)

	expectedEntries := []acl{
		{path: tmpDir, entry: acls.NewEntry(acls.TAG_ACL_USER, 65534, 7)},
		{path: filepath.Join(tmpDir, "state.ini"), entry: acls.NewEntry(acls.TAG_ACL_USER, 65534, 6)},
	}

	assert.ElementsMatch(t, expectedEntries, m.acls)
}

func TestNewManagerSkippedWithoutACLUser(t *testing.T) {
	tmpDir := t.TempDir()

	c, err := testConfig(tmpDir)
	require.NoError(t, err)

	c.ACLUser = ""

	m, err := NewManager(c, slog.Default())
	require.NoError(t, err)
	assert.Empty(t, m.acls)
}

func TestNewManagerRejectsUnknownACLUser(t *testing.T) {
	tmpDir := t.TempDir()

	c, err := testConfig(tmpDir)
	require.NoError(t, err)

	c.ACLUser = "no-such-user-surely"

	_, err = NewManager(c, slog.Default())
	require.Error(t, err)
}

func TestACLGrantAndRevoke(t *testing.T) {
	skipUnprivileged(t)

	tmpDir := t.TempDir()

	c, err := testConfig(tmpDir)
	require.NoError(t, err)

	m, err := NewManager(c, slog.Default())
	require.NoError(t, err)

	require.NoError(t, m.GrantACLAccess())
	require.NoError(t, m.RevokeACLAccess())
}

func TestCheckCapabilitiesDoesNotFail(t *testing.T) {
	value, err := cap.FromName("cap_sys_admin")
	require.NoError(t, err)

	m := &Manager{logger: slog.Default(), caps: []cap.Value{value}}
	m.CheckCapabilities()
}
