package app

import (
	"errors"

	"pwm-go/internal/model"
)

// Response is the result envelope handed to callers outside the process
// (the CLI's --json output). Error carries a user-readable message only.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// NewResponse builds a Response from an operation's result.
func NewResponse(data any, err error) Response {
	if err != nil {
		return Response{Success: false, Error: UserMessage(err)}
	}
	return Response{Success: true, Data: data}
}

// UserMessage maps an error to a message for the user. Known errors get a
// fixed message that hides paths and driver detail; anything else is passed
// through.
func UserMessage(err error) string {
	var ve *model.ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return ve.Message
	case errors.Is(err, model.ErrNotConfigured):
		return "No master password is set. Create one first."
	case errors.Is(err, model.ErrAlreadyConfigured):
		return "A master password is already set."
	case errors.Is(err, model.ErrInvalidCredential):
		return "Invalid password."
	case errors.Is(err, model.ErrTooManyAttempts):
		return "Too many failed attempts. Try again later."
	case errors.Is(err, model.ErrNotAuthenticated):
		return "Not authenticated. Unlock with the master password first."
	case errors.Is(err, model.ErrDecryptionFailed):
		return "Data could not be decrypted."
	case errors.Is(err, model.ErrDuplicateCategory):
		return "A category with that name already exists."
	case errors.Is(err, model.ErrNotFound):
		return "Not found."
	case errors.Is(err, model.ErrStoreUnavailable):
		return "The password database is unavailable."
	case errors.Is(err, ErrSessionActive):
		return "Log out before restoring a backup."
	case errors.Is(err, ErrNoVault):
		return "No backup vault is configured."
	default:
		return err.Error()
	}
}
