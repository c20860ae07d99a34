package testutil

import (
	"pwm-go/internal/pm"
	"pwm-go/internal/vault"
)

// NewTestVault creates a new in-memory vault for testing.
func NewTestVault() pm.Vault {
	return vault.NewMemoryVault("test-vault")
}
