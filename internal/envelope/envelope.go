// Package envelope implements the storage format for encrypted record payloads
// and the AES-256-GCM sealing behind it.
//
// An envelope is stored as a JSON object with lowercase hex fields:
//
//	{"iv":"<32 hex>","data":"<ciphertext hex>","authTag":"<32 hex>"}
//
// Rows written before encryption was introduced hold the plaintext fields
// directly ({"username":...,"password":...}); Parse reports those as
// LegacyPlaintext.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"pwm-go/internal/model"
)

const (
	IVSize  = 16
	TagSize = 16
	KeySize = 32
)

// Envelope is one encrypted payload.
type Envelope struct {
	IV         []byte
	Ciphertext []byte
	AuthTag    []byte
}

type wireEnvelope struct {
	IV      string `json:"iv"`
	Data    string `json:"data"`
	AuthTag string `json:"authTag"`
}

// Seal encrypts plaintext under key with a fresh random IV.
func Seal(key, plaintext []byte) (*Envelope, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generating iv: %w", err)
	}

	sealed := aead.Seal(nil, iv, plaintext, nil)
	split := len(sealed) - TagSize
	return &Envelope{
		IV:         iv,
		Ciphertext: sealed[:split],
		AuthTag:    sealed[split:],
	}, nil
}

// Open verifies the tag and returns the plaintext. Any failure is reported as
// model.ErrDecryptionFailed and no plaintext is returned.
func (e *Envelope) Open(key []byte) ([]byte, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrDecryptionFailed, err)
	}

	sealed := make([]byte, 0, len(e.Ciphertext)+len(e.AuthTag))
	sealed = append(sealed, e.Ciphertext...)
	sealed = append(sealed, e.AuthTag...)

	plaintext, err := aead.Open(nil, e.IV, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", model.ErrDecryptionFailed)
	}
	return plaintext, nil
}

// Encode serializes the envelope to its stored JSON form.
func (e *Envelope) Encode() (string, error) {
	if err := e.validate(); err != nil {
		return "", err
	}
	b, err := json.Marshal(wireEnvelope{
		IV:      hex.EncodeToString(e.IV),
		Data:    hex.EncodeToString(e.Ciphertext),
		AuthTag: hex.EncodeToString(e.AuthTag),
	})
	if err != nil {
		return "", fmt.Errorf("encoding envelope: %w", err)
	}
	return string(b), nil
}

func (e *Envelope) validate() error {
	switch {
	case len(e.IV) != IVSize:
		return fmt.Errorf("%w: iv must be %d bytes", model.ErrDecryptionFailed, IVSize)
	case len(e.AuthTag) != TagSize:
		return fmt.Errorf("%w: auth tag must be %d bytes", model.ErrDecryptionFailed, TagSize)
	case len(e.Ciphertext) == 0:
		return fmt.Errorf("%w: empty ciphertext", model.ErrDecryptionFailed)
	}
	return nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes", KeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}
