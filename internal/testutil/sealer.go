package testutil

import (
	"pwm-go/internal/encryption"
	"pwm-go/internal/pm"
)

// NewTestSealer creates a deterministic sealer that needs no key derivation.
func NewTestSealer() pm.Sealer {
	return encryption.NewTestSealer()
}
