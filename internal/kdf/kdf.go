// Package kdf turns a master password into a login verifier and an
// independent 32-byte encryption key.
package kdf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/scrypt"

	"pwm-go/internal/model"
)

const (
	// MinPasswordLength is the minimum master password length in characters.
	MinPasswordLength = 8

	// DefaultIterations is the PBKDF2 iteration count for new verifiers.
	DefaultIterations = 100_000

	VerifierSize = 64
	KeySize      = 32
	SaltSize     = 32

	AlgorithmPBKDF2 = "pbkdf2-sha512"
	AlgorithmScrypt = "scrypt"

	keyContext = "encryption-key"
)

// Legacy scrypt parameters used by credential files written with algorithm "scrypt".
const (
	scryptN = 1 << 14
	scryptR = 8
	scryptP = 1
)

// ValidatePassword rejects master passwords shorter than MinPasswordLength.
func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return &model.ValidationError{
			Field:   "password",
			Message: fmt.Sprintf("master password must be at least %d characters", MinPasswordLength),
		}
	}
	return nil
}

// NewSalt returns SaltSize random bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}

// Deriver computes verifiers and keys. The zero value uses DefaultIterations.
type Deriver struct {
	Iterations int
}

// IterationCount returns the PBKDF2 iteration count in effect, never below
// DefaultIterations.
func (d Deriver) IterationCount() int {
	if d.Iterations < DefaultIterations {
		return DefaultIterations
	}
	return d.Iterations
}

// DeriveVerifier stretches password and salt with PBKDF2-HMAC-SHA512 into a
// 64-byte verifier.
func (d Deriver) DeriveVerifier(password string, salt []byte) ([]byte, error) {
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}
	return pbkdf2.Key([]byte(password), salt, d.IterationCount(), VerifierSize, sha512.New), nil
}

// DeriveVerifierWith computes the verifier using the named algorithm. Credentials
// without an algorithm are treated as PBKDF2.
func (d Deriver) DeriveVerifierWith(algorithm, password string, salt []byte) ([]byte, error) {
	switch algorithm {
	case AlgorithmPBKDF2, "":
		return d.DeriveVerifier(password, salt)
	case AlgorithmScrypt:
		if err := ValidatePassword(password); err != nil {
			return nil, err
		}
		v, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, VerifierSize)
		if err != nil {
			return nil, fmt.Errorf("scrypt: %w", err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("%w: unknown verifier algorithm", model.ErrInvalidCredential)
	}
}

// DeriveEncryptionKey derives the record encryption key in two HMAC-SHA256
// passes: prk = HMAC(password, salt), key = HMAC(prk, "encryption-key").
// It shares no computation with the verifier.
func (d Deriver) DeriveEncryptionKey(password string, salt []byte) ([]byte, error) {
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	mac := hmac.New(sha256.New, []byte(password))
	mac.Write(salt)
	prk := mac.Sum(nil)

	mac = hmac.New(sha256.New, prk)
	mac.Write([]byte(keyContext))
	key := mac.Sum(nil)

	clear(prk)
	return key, nil
}

// Equal compares two derived values in constant time.
func Equal(a, b []byte) bool {
	return hmac.Equal(a, b)
}
