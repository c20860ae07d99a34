package vault

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"pwm-go/internal/model"
)

func TestMemoryVault_PutAndGet(t *testing.T) {
	ctx := context.Background()
	vault := NewMemoryVault("test-vault")

	tests := []struct {
		name    string
		object  string
		content string
	}{
		{name: "small artifact", object: "password_manager.db.age", content: "sealed database"},
		{name: "empty artifact", object: "empty.age", content: ""},
		{name: "large artifact", object: "large.age", content: strings.Repeat("x", 10000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := vault.Put(ctx, tt.object, strings.NewReader(tt.content), int64(len(tt.content)), 7); err != nil {
				t.Fatalf("Put() error = %v", err)
			}

			var buf bytes.Buffer
			if err := vault.Get(ctx, tt.object, &buf); err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got := buf.String(); got != tt.content {
				t.Errorf("Get() returned %d bytes, want %d", len(got), len(tt.content))
			}

			version, err := vault.Version(ctx, tt.object)
			if err != nil {
				t.Fatalf("Version() error = %v", err)
			}
			if version != 7 {
				t.Errorf("Version() = %d, want 7", version)
			}
		})
	}
}

func TestMemoryVault_PutOverwrites(t *testing.T) {
	ctx := context.Background()
	vault := NewMemoryVault("test-vault")

	if err := vault.Put(ctx, "a", strings.NewReader("first"), 5, 1); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := vault.Put(ctx, "a", strings.NewReader("second"), 6, 2); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	var buf bytes.Buffer
	if err := vault.Get(ctx, "a", &buf); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if buf.String() != "second" {
		t.Errorf("Get() = %q, want %q", buf.String(), "second")
	}
	if v, _ := vault.Version(ctx, "a"); v != 2 {
		t.Errorf("Version() = %d, want 2", v)
	}
}

func TestMemoryVault_GetNotFound(t *testing.T) {
	vault := NewMemoryVault("test-vault")

	var buf bytes.Buffer
	err := vault.Get(context.Background(), "missing", &buf)
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryVault_VersionUnknown(t *testing.T) {
	vault := NewMemoryVault("test-vault")

	v, err := vault.Version(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Version() error = %v", err)
	}
	if v != 0 {
		t.Errorf("Version() = %d, want 0", v)
	}
}

func TestMemoryVault_PutSizeMismatch(t *testing.T) {
	vault := NewMemoryVault("test-vault")

	err := vault.Put(context.Background(), "a", strings.NewReader("hello"), 100, 1)
	if err == nil {
		t.Error("Put() expected error for size mismatch, got nil")
	}
}

func TestMemoryVault_ValidateSetup(t *testing.T) {
	vault := NewMemoryVault("test-vault")

	if err := vault.ValidateSetup(context.Background()); err != nil {
		t.Errorf("ValidateSetup() error = %v", err)
	}
}
