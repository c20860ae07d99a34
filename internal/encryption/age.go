package encryption

import (
	"errors"
	"fmt"
	"io"

	"filippo.io/age"

	"pwm-go/internal/model"
	"pwm-go/internal/pm"
)

// AgeSealer implements pm.Sealer using filippo.io/age passphrase encryption.
// The passphrase is stretched with scrypt, so no key files are kept on disk
// and a backup can be opened anywhere the passphrase is known.
type AgeSealer struct {
	workFactor int
}

var _ pm.Sealer = (*AgeSealer)(nil)

// NewAgeSealer creates an AgeSealer with age's default scrypt work factor.
func NewAgeSealer() *AgeSealer {
	return &AgeSealer{}
}

// NewAgeSealerWithWorkFactor sets the scrypt work factor (log2 of N) used for
// sealing. Opening accepts anything up to age's default maximum.
func NewAgeSealerWithWorkFactor(logN int) *AgeSealer {
	return &AgeSealer{workFactor: logN}
}

// Seal reads plaintext from r and writes age ciphertext to w.
func (s *AgeSealer) Seal(passphrase string, r io.Reader, w io.Writer) error {
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}
	if s.workFactor > 0 {
		recipient.SetWorkFactor(s.workFactor)
	}

	encWriter, err := age.Encrypt(w, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.Copy(encWriter, r); err != nil {
		return fmt.Errorf("encrypting data: %w", err)
	}
	if err := encWriter.Close(); err != nil {
		return fmt.Errorf("finalizing encryption: %w", err)
	}
	return nil
}

// Open reads age ciphertext from r and writes plaintext to w.
func (s *AgeSealer) Open(passphrase string, r io.Reader, w io.Writer) error {
	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt identity: %w", err)
	}

	decReader, err := age.Decrypt(r, identity)
	if err != nil {
		var noMatch *age.NoIdentityMatchError
		if errors.As(err, &noMatch) {
			return fmt.Errorf("wrong backup passphrase: %w", model.ErrInvalidCredential)
		}
		return fmt.Errorf("creating decrypted reader: %w", err)
	}
	if _, err := io.Copy(w, decReader); err != nil {
		return fmt.Errorf("decrypting data: %w", err)
	}
	return nil
}
