package encryption

import (
	"fmt"

	"pwm-go/internal/config"
	"pwm-go/internal/pm"
)

// NewSealerFromConfig creates a Sealer based on the configuration type.
func NewSealerFromConfig(cfg config.EncryptionConfig) (pm.Sealer, error) {
	switch cfg.Type {
	case "age", "":
		return NewAgeSealer(), nil
	case "test":
		return NewTestSealer(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
