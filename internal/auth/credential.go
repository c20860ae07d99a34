package auth

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"pwm-go/internal/model"
)

// CredentialStore persists the master credential as a small JSON file:
//
//	{"hash":"<hex>","salt":"<hex>","createdAt":"<RFC 3339>","algorithm":"pbkdf2-sha512","iterations":100000}
//
// The file holds only the verifier and salt. It is written with 0600
// permissions through a temp file and rename so a crash never leaves it
// half-written.
type CredentialStore struct {
	path string
}

type credentialFile struct {
	Hash       string    `json:"hash"`
	Salt       string    `json:"salt"`
	CreatedAt  time.Time `json:"createdAt"`
	Algorithm  string    `json:"algorithm,omitempty"`
	Iterations int       `json:"iterations,omitempty"`
}

// NewCredentialStore creates a store for the file at path. The file need not exist.
func NewCredentialStore(path string) *CredentialStore {
	return &CredentialStore{path: path}
}

// Path returns the credential file location.
func (s *CredentialStore) Path() string {
	return s.path
}

// Exists reports whether a credential file is present.
func (s *CredentialStore) Exists() (bool, error) {
	_, err := os.Stat(s.path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("checking credential file: %w", err)
}

// Load reads the credential. Returns model.ErrNotConfigured when the file does
// not exist and model.ErrInvalidCredential when it cannot be parsed.
func (s *CredentialStore) Load() (*model.MasterCredential, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, model.ErrNotConfigured
		}
		return nil, fmt.Errorf("reading credential file: %w", err)
	}

	var f credentialFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: credential file is corrupt", model.ErrInvalidCredential)
	}
	hash, err := hex.DecodeString(f.Hash)
	if err != nil || len(hash) == 0 {
		return nil, fmt.Errorf("%w: credential hash is corrupt", model.ErrInvalidCredential)
	}
	salt, err := hex.DecodeString(f.Salt)
	if err != nil || len(salt) == 0 {
		return nil, fmt.Errorf("%w: credential salt is corrupt", model.ErrInvalidCredential)
	}

	if f.Iterations < 0 {
		return nil, fmt.Errorf("%w: credential iteration count is corrupt", model.ErrInvalidCredential)
	}

	return &model.MasterCredential{
		Hash:       hash,
		Salt:       salt,
		Algorithm:  f.Algorithm,
		Iterations: f.Iterations,
		CreatedAt:  f.CreatedAt,
	}, nil
}

// Save writes cred, replacing any existing credential.
func (s *CredentialStore) Save(cred *model.MasterCredential) error {
	staged, err := s.Stage(cred)
	if err != nil {
		return err
	}
	return staged.Commit()
}

// Stage writes cred next to the credential file without replacing it.
// Call Commit to move it into place or Discard to drop it.
func (s *CredentialStore) Stage(cred *model.MasterCredential) (*StagedCredential, error) {
	data, err := json.MarshalIndent(credentialFile{
		Hash:       hex.EncodeToString(cred.Hash),
		Salt:       hex.EncodeToString(cred.Salt),
		CreatedAt:  cred.CreatedAt.UTC(),
		Algorithm:  cred.Algorithm,
		Iterations: cred.Iterations,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding credential: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating credential directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".credential-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("writing credential: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("syncing credential: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("closing credential: %w", err)
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("setting credential permissions: %w", err)
	}

	return &StagedCredential{tmpPath: tmpPath, destPath: s.path}, nil
}

// Remove deletes the credential file. Missing files are not an error.
func (s *CredentialStore) Remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing credential file: %w", err)
	}
	return nil
}

// StagedCredential is a credential written to disk but not yet in effect.
type StagedCredential struct {
	tmpPath  string
	destPath string
	done     bool
}

// Commit atomically replaces the live credential file.
func (c *StagedCredential) Commit() error {
	if c.done {
		return fmt.Errorf("staged credential already finalized")
	}
	if err := os.Rename(c.tmpPath, c.destPath); err != nil {
		os.Remove(c.tmpPath)
		c.done = true
		return fmt.Errorf("installing credential: %w", err)
	}
	c.done = true
	return nil
}

// Discard removes the staged file. Safe to call after Commit.
func (c *StagedCredential) Discard() {
	if c.done {
		return
	}
	os.Remove(c.tmpPath)
	c.done = true
}
