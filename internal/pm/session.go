package pm

import (
	"pwm-go/internal/envelope"
	"pwm-go/internal/model"
)

// Session gates access to the encryption key. The key itself never leaves
// the implementation; callers only get envelopes and plaintext fields.
type Session interface {
	// IsAuthenticated reports whether the session is unlocked.
	IsAuthenticated() bool

	// EncryptData seals fields with a fresh IV.
	// Returns model.ErrNotAuthenticated when locked.
	EncryptData(fields model.SecretFields) (*envelope.Envelope, error)

	// DecryptData opens an envelope. Returns model.ErrNotAuthenticated when
	// locked and model.ErrDecryptionFailed when the envelope does not verify.
	DecryptData(env *envelope.Envelope) (model.SecretFields, error)
}
