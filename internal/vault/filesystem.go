package vault

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"pwm-go/internal/model"
	"pwm-go/internal/pm"
)

// FileSystemVault stores backup artifacts as files in one directory:
//
//	<root>/
//	  password_manager.db.age
//	  password_manager.db.age.version
//	  pm_config.json.age
//	  pm_config.json.age.version
type FileSystemVault struct {
	name string
	root string
}

// NewFileSystemVault creates a new filesystem vault rooted at the given path.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %w", err)
	}
	return &FileSystemVault{name: name, root: root}, nil
}

// Put writes the artifact atomically and then its version file.
func (v *FileSystemVault) Put(_ context.Context, name string, r io.Reader, size int64, version int64) error {
	path, err := v.objectPath(name)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(path, r, size); err != nil {
		return err
	}
	data := strconv.FormatInt(version, 10)
	return writeFileAtomic(path+".version", strings.NewReader(data), int64(len(data)))
}

// Get writes the named artifact to w.
func (v *FileSystemVault) Get(_ context.Context, name string, w io.Writer) error {
	path, err := v.objectPath(name)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s in vault %s: %w", name, v.name, model.ErrNotFound)
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	return nil
}

// Version returns the stored version. Returns 0 if no version file exists.
func (v *FileSystemVault) Version(_ context.Context, name string) (int64, error) {
	path, err := v.objectPath(name)
	if err != nil {
		return 0, err
	}

	data, err := os.ReadFile(path + ".version")
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading version file: %w", err)
	}

	version, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// ValidateSetup verifies that the vault root exists and is writable.
func (v *FileSystemVault) ValidateSetup(context.Context) error {
	info, err := os.Stat(v.root)
	if err != nil {
		return fmt.Errorf("vault root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("vault root is not a directory: %s", v.root)
	}

	probe, err := os.CreateTemp(v.root, ".probe-*")
	if err != nil {
		return fmt.Errorf("vault root is not writable: %w", err)
	}
	probe.Close()
	return os.Remove(probe.Name())
}

// objectPath maps an artifact name to a file directly under root.
func (v *FileSystemVault) objectPath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid artifact name: %q", name)
	}
	return filepath.Join(v.root, name), nil
}

// writeFileAtomic writes data from r to destPath using a temp file and rename.
func writeFileAtomic(destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

var _ pm.Vault = (*FileSystemVault)(nil)
