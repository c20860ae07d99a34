package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured is returned when no master credential exists yet.
	ErrNotConfigured = errors.New("master password not configured")

	// ErrAlreadyConfigured is returned when creating a master password while one
	// exists. Use change or reset instead.
	ErrAlreadyConfigured = errors.New("master password already configured")

	// ErrInvalidCredential is returned for a wrong master password. It does not
	// distinguish a wrong password from an unreadable credential.
	ErrInvalidCredential = errors.New("invalid master password")

	// ErrNotAuthenticated is returned for crypto or write operations while locked.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrDecryptionFailed covers tag mismatch, malformed envelopes and wrong keys.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrStoreUnavailable is returned when the backing store fails or times out.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrNotFound is returned when a record or category does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateCategory is returned when a category name is already taken.
	ErrDuplicateCategory = errors.New("category already exists")

	// ErrTooManyAttempts is returned while unlock attempts are throttled.
	ErrTooManyAttempts = errors.New("too many failed unlock attempts")
)

// ValidationError reports bad caller input. Message never contains the input value.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// IsValidation reports whether err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
