package pm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"pwm-go/internal/model"
)

// Names of the sealed artifacts in a vault.
const (
	BackupDatabaseName   = "password_manager.db.age"
	BackupCredentialName = "pm_config.json.age"
)

// BackupService seals the record database and the master credential with a
// backup passphrase and stores them in a vault. Nothing is decrypted on the
// way out: record envelopes stay encrypted inside the sealed database.
type BackupService struct {
	database Database
	vault    Vault
	sealer   Sealer
	logger   Logger
	clock    Clock
}

func NewBackupService(database Database, vault Vault, sealer Sealer, logger Logger, clock Clock) *BackupService {
	return &BackupService{
		database: database,
		vault:    vault,
		sealer:   sealer,
		logger:   logger,
		clock:    clock,
	}
}

// BackupStatus describes what a vault currently holds.
type BackupStatus struct {
	DatabaseVersion   int64
	CredentialVersion int64
}

// Exists reports whether a complete backup is stored.
func (s BackupStatus) Exists() bool {
	return s.DatabaseVersion != 0 && s.DatabaseVersion == s.CredentialVersion
}

// Backup snapshots the database, seals it and the credential file at
// credentialPath, and uploads both under one version. Returns the version.
func (b *BackupService) Backup(ctx context.Context, passphrase, credentialPath string) (int64, error) {
	if passphrase == "" {
		return 0, &model.ValidationError{Field: "passphrase", Message: "backup passphrase is required"}
	}

	tmpDir, err := os.MkdirTemp("", "pwm-backup-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	snapshot := filepath.Join(tmpDir, "snapshot.db")
	if err := b.database.BackupTo(ctx, snapshot); err != nil {
		return 0, fmt.Errorf("snapshotting database: %w", err)
	}

	version := b.clock.Now().Unix()
	artifacts := []struct {
		name string
		path string
	}{
		{BackupDatabaseName, snapshot},
		{BackupCredentialName, credentialPath},
	}
	for _, a := range artifacts {
		if err := b.sealAndPut(ctx, passphrase, a.name, a.path, tmpDir, version); err != nil {
			return 0, err
		}
	}

	b.logger.Info("backup stored", "version", version)
	return version, nil
}

func (b *BackupService) sealAndPut(ctx context.Context, passphrase, name, srcPath, tmpDir string, version int64) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", name, err)
	}
	defer src.Close()

	sealed, err := os.CreateTemp(tmpDir, "sealed-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer sealed.Close()

	if err := b.sealer.Seal(passphrase, src, sealed); err != nil {
		return fmt.Errorf("sealing %s: %w", name, err)
	}
	size, err := sealed.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("sizing %s: %w", name, err)
	}
	if _, err := sealed.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding %s: %w", name, err)
	}

	if err := b.vault.Put(ctx, name, sealed, size, version); err != nil {
		return fmt.Errorf("storing %s: %w", name, err)
	}
	b.logger.Debug("artifact stored", "name", name, "size", size)
	return nil
}

// Status returns the versions of the stored artifacts.
func (b *BackupService) Status(ctx context.Context) (BackupStatus, error) {
	var st BackupStatus
	var err error
	if st.DatabaseVersion, err = b.vault.Version(ctx, BackupDatabaseName); err != nil {
		return BackupStatus{}, fmt.Errorf("reading database backup version: %w", err)
	}
	if st.CredentialVersion, err = b.vault.Version(ctx, BackupCredentialName); err != nil {
		return BackupStatus{}, fmt.Errorf("reading credential backup version: %w", err)
	}
	return st, nil
}

// RestoredFiles are the opened artifacts written by Fetch.
type RestoredFiles struct {
	Version        int64
	DatabasePath   string
	CredentialPath string
}

// Fetch downloads and opens a complete backup into dir. The caller decides
// when to move the files into place.
func (b *BackupService) Fetch(ctx context.Context, passphrase, dir string) (*RestoredFiles, error) {
	if passphrase == "" {
		return nil, &model.ValidationError{Field: "passphrase", Message: "backup passphrase is required"}
	}

	st, err := b.Status(ctx)
	if err != nil {
		return nil, err
	}
	if st.DatabaseVersion == 0 && st.CredentialVersion == 0 {
		return nil, fmt.Errorf("no backup stored: %w", model.ErrNotFound)
	}
	if !st.Exists() {
		return nil, fmt.Errorf("backup is incomplete: database version %d, credential version %d",
			st.DatabaseVersion, st.CredentialVersion)
	}

	out := &RestoredFiles{
		Version:        st.DatabaseVersion,
		DatabasePath:   filepath.Join(dir, "password_manager.db"),
		CredentialPath: filepath.Join(dir, "pm_config.json"),
	}
	if err := b.getAndOpen(ctx, passphrase, BackupDatabaseName, out.DatabasePath); err != nil {
		return nil, err
	}
	if err := b.getAndOpen(ctx, passphrase, BackupCredentialName, out.CredentialPath); err != nil {
		os.Remove(out.DatabasePath)
		return nil, err
	}

	b.logger.Info("backup fetched", "version", out.Version)
	return out, nil
}

// getAndOpen pipes the vault download straight into the sealer.
func (b *BackupService) getAndOpen(ctx context.Context, passphrase, name, outPath string) error {
	f, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	vaultErrCh := make(chan error, 1)
	go func() {
		err := b.vault.Get(ctx, name, pw)
		pw.CloseWithError(err)
		vaultErrCh <- err
	}()

	openErr := b.sealer.Open(passphrase, pr, f)
	pr.CloseWithError(openErr)
	vaultErr := <-vaultErrCh

	if vaultErr != nil && !errors.Is(openErr, model.ErrInvalidCredential) {
		os.Remove(outPath)
		return fmt.Errorf("retrieving %s: %w", name, vaultErr)
	}
	if openErr != nil {
		os.Remove(outPath)
		return fmt.Errorf("opening %s: %w", name, openErr)
	}
	return nil
}
