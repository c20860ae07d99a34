package envelope

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"pwm-go/internal/model"
)

// Format is the decoded shape of a stored payload: *Encrypted or *LegacyPlaintext.
type Format interface {
	isFormat()
}

// Encrypted is a payload that needs the session key to read.
type Encrypted struct {
	Envelope *Envelope
}

// LegacyPlaintext is a payload stored before encryption existed. It is read
// as-is and never written.
type LegacyPlaintext struct {
	Fields model.SecretFields
}

func (*Encrypted) isFormat()       {}
func (*LegacyPlaintext) isFormat() {}

// Parse decodes a stored payload. The variant is chosen by the presence of an
// "iv" key. Malformed input yields model.ErrDecryptionFailed.
func Parse(blob string) (Format, error) {
	if blob == "" {
		return nil, fmt.Errorf("%w: empty payload", model.ErrDecryptionFailed)
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(blob), &probe); err != nil {
		return nil, fmt.Errorf("%w: payload is not a JSON object", model.ErrDecryptionFailed)
	}

	if _, ok := probe["iv"]; !ok {
		var legacy model.SecretFields
		if err := json.Unmarshal([]byte(blob), &legacy); err != nil {
			return nil, fmt.Errorf("%w: unreadable legacy payload", model.ErrDecryptionFailed)
		}
		return &LegacyPlaintext{Fields: legacy}, nil
	}

	var w wireEnvelope
	if err := json.Unmarshal([]byte(blob), &w); err != nil {
		return nil, fmt.Errorf("%w: unreadable envelope", model.ErrDecryptionFailed)
	}
	if w.IV == "" || w.Data == "" || w.AuthTag == "" {
		return nil, fmt.Errorf("%w: envelope is missing fields", model.ErrDecryptionFailed)
	}

	env := &Envelope{}
	var err error
	if env.IV, err = hex.DecodeString(w.IV); err != nil {
		return nil, fmt.Errorf("%w: iv is not hex", model.ErrDecryptionFailed)
	}
	if env.Ciphertext, err = hex.DecodeString(w.Data); err != nil {
		return nil, fmt.Errorf("%w: data is not hex", model.ErrDecryptionFailed)
	}
	if env.AuthTag, err = hex.DecodeString(w.AuthTag); err != nil {
		return nil, fmt.Errorf("%w: auth tag is not hex", model.ErrDecryptionFailed)
	}
	if err := env.validate(); err != nil {
		return nil, err
	}
	return &Encrypted{Envelope: env}, nil
}

// Decode parses a payload that must be encrypted.
func Decode(blob string) (*Envelope, error) {
	f, err := Parse(blob)
	if err != nil {
		return nil, err
	}
	enc, ok := f.(*Encrypted)
	if !ok {
		return nil, fmt.Errorf("%w: payload is not encrypted", model.ErrDecryptionFailed)
	}
	return enc.Envelope, nil
}
