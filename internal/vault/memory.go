package vault

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"pwm-go/internal/model"
	"pwm-go/internal/pm"
)

// MemoryVault keeps backup artifacts in memory. Useful for tests.
// This implementation is safe for concurrent use.
type MemoryVault struct {
	name     string
	objects  map[string][]byte
	versions map[string]int64
	mu       sync.RWMutex
}

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:     name,
		objects:  make(map[string][]byte),
		versions: make(map[string]int64),
	}
}

// Put stores an artifact, replacing any earlier one with the same name.
func (m *MemoryVault) Put(_ context.Context, name string, r io.Reader, size int64, version int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[name] = data
	m.versions[name] = version
	return nil
}

// Get writes the named artifact to w.
func (m *MemoryVault) Get(_ context.Context, name string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.objects[name]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%s in vault %s: %w", name, m.name, model.ErrNotFound)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// Version returns the stored version, or 0 when name has never been written.
func (m *MemoryVault) Version(_ context.Context, name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.versions[name], nil
}

// ValidateSetup always succeeds for in-memory vault.
func (m *MemoryVault) ValidateSetup(context.Context) error {
	return nil
}

var _ pm.Vault = (*MemoryVault)(nil)
