package encryption

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"

	"pwm-go/internal/model"
	"pwm-go/internal/pm"
)

// testHeader is prepended to data by TestSealer to make sealed output
// clearly different from plaintext while remaining deterministic and reversible.
var testHeader = []byte("PWMENC\x00\x00")

// TestSealer is a simple, deterministic sealer for testing.
// It writes a fixed 8-byte header and a digest of the passphrase, then the
// data unchanged. Open checks both so wrong-passphrase paths can be tested
// without paying for scrypt.
type TestSealer struct{}

var _ pm.Sealer = (*TestSealer)(nil)

// NewTestSealer creates a new TestSealer.
func NewTestSealer() *TestSealer {
	return &TestSealer{}
}

func (s *TestSealer) Seal(passphrase string, r io.Reader, w io.Writer) error {
	digest := sha256.Sum256([]byte(passphrase))
	if _, err := w.Write(testHeader); err != nil {
		return fmt.Errorf("writing test header: %w", err)
	}
	if _, err := w.Write(digest[:]); err != nil {
		return fmt.Errorf("writing passphrase digest: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (s *TestSealer) Open(passphrase string, r io.Reader, w io.Writer) error {
	header := make([]byte, len(testHeader)+sha256.Size)
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading test header: %w", err)
	}
	if !bytes.Equal(header[:len(testHeader)], testHeader) {
		return fmt.Errorf("invalid test encryption header")
	}
	digest := sha256.Sum256([]byte(passphrase))
	if !bytes.Equal(header[len(testHeader):], digest[:]) {
		return fmt.Errorf("wrong backup passphrase: %w", model.ErrInvalidCredential)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
