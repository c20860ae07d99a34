package pm

import "io"

// Sealer encrypts backup artifacts with a passphrase chosen at backup time.
// It is independent of the master password so a backup can be restored on a
// machine that has never seen the credential.
type Sealer interface {
	// Seal reads plaintext from r and writes ciphertext to w.
	Seal(passphrase string, r io.Reader, w io.Writer) error

	// Open reads ciphertext from r and writes plaintext to w.
	// A wrong passphrase is reported as model.ErrInvalidCredential.
	Open(passphrase string, r io.Reader, w io.Writer) error
}
