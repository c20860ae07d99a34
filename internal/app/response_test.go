package app

import (
	"errors"
	"fmt"
	"testing"

	"pwm-go/internal/model"
)

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{
			name: "validation",
			err:  &model.ValidationError{Field: "title", Message: "title is required"},
			want: "title is required",
		},
		{
			name: "wrapped invalid credential hides detail",
			err:  fmt.Errorf("verifying /home/u/pm_config.json: %w", model.ErrInvalidCredential),
			want: "Invalid password.",
		},
		{name: "not authenticated", err: model.ErrNotAuthenticated, want: "Not authenticated. Unlock with the master password first."},
		{name: "throttled", err: model.ErrTooManyAttempts, want: "Too many failed attempts. Try again later."},
		{name: "duplicate category", err: model.ErrDuplicateCategory, want: "A category with that name already exists."},
		{name: "store unavailable", err: fmt.Errorf("query: %w", model.ErrStoreUnavailable), want: "The password database is unavailable."},
		{name: "session active", err: ErrSessionActive, want: "Log out before restoring a backup."},
		{name: "no vault", err: ErrNoVault, want: "No backup vault is configured."},
		{name: "unknown passes through", err: errors.New("disk full"), want: "disk full"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserMessage(tt.err); got != tt.want {
				t.Errorf("UserMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewResponse(t *testing.T) {
	ok := NewResponse(map[string]int64{"id": 3}, nil)
	if !ok.Success || ok.Error != "" || ok.Data == nil {
		t.Errorf("NewResponse(data, nil) = %+v, want success with data", ok)
	}

	failed := NewResponse("ignored", model.ErrNotFound)
	if failed.Success || failed.Error != "Not found." || failed.Data != nil {
		t.Errorf("NewResponse(_, err) = %+v, want failure without data", failed)
	}
}
