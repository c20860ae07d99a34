package testutil

import (
	"path/filepath"
	"testing"

	"pwm-go/internal/auth"
	"pwm-go/internal/pm"
)

// TestMasterPassword is the password used by NewUnlockedManager.
const TestMasterPassword = "Sup3r!Secret"

// NewTestManager creates a locked auth.Manager whose credential file lives in
// a per-test temp directory. The session is logged out on cleanup so no
// expiry timer outlives the test.
func NewTestManager(t *testing.T, opts auth.Options) *auth.Manager {
	t.Helper()

	store := auth.NewCredentialStore(filepath.Join(t.TempDir(), "pm_config.json"))
	m := auth.NewManager(store, opts, pm.NewNopLogger(), FixedClock(), NewStubIDGenerator())
	t.Cleanup(m.Logout)
	return m
}

// NewUnlockedManager creates a Manager with TestMasterPassword configured and
// the session unlocked.
func NewUnlockedManager(t *testing.T) *auth.Manager {
	t.Helper()

	m := NewTestManager(t, auth.Options{})
	if err := m.CreateMasterPassword(TestMasterPassword); err != nil {
		t.Fatalf("CreateMasterPassword() error = %v", err)
	}
	return m
}
