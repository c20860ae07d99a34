package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"pwm-go/internal/auth"
	"pwm-go/internal/config"
	"pwm-go/internal/database"
	"pwm-go/internal/encryption"
	"pwm-go/internal/model"
	"pwm-go/internal/pm"
	"pwm-go/internal/vault"
)

var (
	// ErrSessionActive is returned by Restore while the session is unlocked.
	ErrSessionActive = errors.New("session is unlocked")

	// ErrNoVault is returned by backup operations when no vault is configured.
	ErrNoVault = errors.New("no vault configured")
)

// Options control how a PMApp is opened.
type Options struct {
	// Operation names the CLI command being run (e.g. "AddPassword").
	Operation string
	// Verbose copies debug and info log lines to stderr.
	Verbose bool
}

// PMApp is the application layer between the CLI and the pm services.
// It constructs all dependencies from config, exposes the password manager
// operations, and manages the database lifecycle, including swapping the
// database out on reset and restore.
type PMApp struct {
	cfg     *config.Config
	logger  pm.Logger
	logFile *os.File
	clock   pm.Clock
	op      *Operation

	auth   *auth.Manager
	vault  pm.Vault
	sealer pm.Sealer

	// mu guards the database and the services built on it. Password changes
	// hold it exclusively.
	mu      sync.RWMutex
	db      *database.SQLiteDatabase
	service *pm.Service
	backups *pm.BackupService
}

// NewPMApp creates a fully wired PMApp from the given config. The session
// starts locked. The caller must call Close when done.
func NewPMApp(ctx context.Context, cfg *config.Config, opts Options) (*PMApp, error) {
	clock := pm.RealClock{}
	opID := uuid.NewString()

	logger, logFile, err := newLogger(cfg.LogDir, opID, opts.Verbose)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	a := &PMApp{
		cfg:     cfg,
		logger:  &slogAdapter{l: logger},
		logFile: logFile,
		clock:   clock,
		op:      NewOperation(opID, opts.Operation, clock),
	}

	store := auth.NewCredentialStore(cfg.Auth.CredentialPath)
	a.auth = auth.NewManager(store, auth.Options{
		SessionTimeout:    cfg.Auth.SessionTimeout.Duration,
		Iterations:        cfg.Auth.PBKDF2Iterations,
		MaxFailedAttempts: cfg.Auth.MaxFailedAttempts,
		AttemptCooldown:   cfg.Auth.AttemptCooldown.Duration,
	}, a.logger, clock, pm.UUIDGenerator{})

	if len(cfg.Vaults) > 0 {
		a.vault, err = vault.NewVaultFromConfig(ctx, cfg.Vaults[0])
		if err != nil {
			logFile.Close()
			return nil, fmt.Errorf("creating vault: %w", err)
		}
		a.sealer, err = encryption.NewSealerFromConfig(cfg.Encryption)
		if err != nil {
			logFile.Close()
			return nil, fmt.Errorf("creating sealer: %w", err)
		}
	}

	if err := a.openDatabaseLocked(); err != nil {
		logFile.Close()
		return nil, err
	}

	a.logger.Debug("operation started", "operation", a.op.Name)
	return a, nil
}

// openDatabaseLocked opens the configured database and rebuilds the services
// that depend on it. Caller holds mu (or is the constructor).
func (a *PMApp) openDatabaseLocked() error {
	db, err := database.NewDatabaseFromConfig(a.cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	a.db = db
	a.service = pm.NewService(db, a.auth, a.logger, a.clock)
	if a.vault != nil {
		a.backups = pm.NewBackupService(db, a.vault, a.sealer, a.logger, a.clock)
	}
	return nil
}

func (a *PMApp) closeDatabaseLocked() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	a.service = nil
	a.backups = nil
	if err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Config returns the configuration the app was opened with.
func (a *PMApp) Config() *config.Config {
	return a.cfg
}

// done records the outcome of a call on the operation and passes err through.
func (a *PMApp) done(err error) error {
	a.op.Fail(err)
	return err
}

// Auth operations

// State reports NoCredential, Locked or Unlocked.
func (a *PMApp) State() (auth.State, error) {
	return a.auth.State()
}

// HasMasterPassword reports whether a master credential exists.
func (a *PMApp) HasMasterPassword() (bool, error) {
	return a.auth.HasMasterPassword()
}

// IsAuthenticated reports whether the session is unlocked.
func (a *PMApp) IsAuthenticated() bool {
	return a.auth.IsAuthenticated()
}

// CreateMasterPassword sets up the first credential and unlocks the session.
func (a *PMApp) CreateMasterPassword(password string) error {
	return a.done(a.auth.CreateMasterPassword(password))
}

// Authenticate unlocks the session.
func (a *PMApp) Authenticate(password string) error {
	return a.done(a.auth.Authenticate(password))
}

// Logout locks the session.
func (a *PMApp) Logout() {
	a.auth.Logout()
}

// ChangeMasterPassword replaces the master password. When reencrypt_on_change
// is enabled every record is moved to the new key in the same step. Writes
// wait until the change is done so none is sealed under the old key.
func (a *PMApp) ChangeMasterPassword(ctx context.Context, current, newPassword string) (pm.ReencryptStats, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var stats pm.ReencryptStats
	var reencrypt auth.Reencryptor
	if a.cfg.Auth.Reencrypt() {
		svc := a.service
		reencrypt = func(ctx context.Context, r pm.Resealer) error {
			var err error
			stats, err = svc.ReencryptAll(ctx, r)
			return err
		}
	}

	if err := a.auth.ChangeMasterPassword(ctx, current, newPassword, reencrypt); err != nil {
		return pm.ReencryptStats{}, a.done(err)
	}
	return stats, nil
}

// ValidatePasswordStrength scores a candidate password.
func (a *PMApp) ValidatePasswordStrength(password string) model.PasswordStrength {
	return auth.ValidatePasswordStrength(password)
}

// Reset locks the session, deletes the credential and the database, and
// reopens an empty store.
func (a *PMApp) Reset() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.auth.Reset(); err != nil {
		return a.done(fmt.Errorf("removing credential: %w", err))
	}
	if err := a.closeDatabaseLocked(); err != nil {
		return a.done(err)
	}
	if a.cfg.Database.Type == "sqlite" {
		if err := removeDatabaseFiles(a.cfg.DatabasePath()); err != nil {
			return a.done(err)
		}
	}
	if err := a.openDatabaseLocked(); err != nil {
		return a.done(err)
	}

	a.logger.Warn("password manager reset")
	return nil
}

func removeDatabaseFiles(path string) error {
	for _, p := range []string{path, path + "-journal", path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", filepath.Base(p), err)
		}
	}
	return nil
}

// Category operations

// GetCategories returns all categories ordered by name.
func (a *PMApp) GetCategories(ctx context.Context) ([]*model.Category, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	cats, err := a.service.GetCategories(ctx)
	return cats, a.done(err)
}

// AddCategory creates a category and returns its id.
func (a *PMApp) AddCategory(ctx context.Context, name string) (int64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	id, err := a.service.AddCategory(ctx, name)
	return id, a.done(err)
}

// UpdateCategory renames a category.
func (a *PMApp) UpdateCategory(ctx context.Context, id int64, name string) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.done(a.service.UpdateCategory(ctx, id, name))
}

// DeleteCategory removes a category, keeping its records.
func (a *PMApp) DeleteCategory(ctx context.Context, id int64) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.done(a.service.DeleteCategory(ctx, id))
}

// Record operations

// GetPasswords lists records in a category, or all of them for model.AllCategories.
func (a *PMApp) GetPasswords(ctx context.Context, categoryID int64) ([]*model.RecordView, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	views, err := a.service.GetPasswords(ctx, categoryID)
	return views, a.done(err)
}

// GetPassword returns one record.
func (a *PMApp) GetPassword(ctx context.Context, id int64) (*model.RecordView, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	view, err := a.service.GetPassword(ctx, id)
	return view, a.done(err)
}

// SearchPasswords matches record titles case-insensitively.
func (a *PMApp) SearchPasswords(ctx context.Context, query string) ([]*model.RecordView, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	views, err := a.service.SearchPasswords(ctx, query)
	return views, a.done(err)
}

// AddPassword stores a new record and returns its id.
func (a *PMApp) AddPassword(ctx context.Context, in model.RecordInput) (int64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	id, err := a.service.AddPassword(ctx, in)
	return id, a.done(err)
}

// UpdatePassword overwrites a record.
func (a *PMApp) UpdatePassword(ctx context.Context, id int64, in model.RecordInput) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.done(a.service.UpdatePassword(ctx, id, in))
}

// DeletePassword removes a record.
func (a *PMApp) DeletePassword(ctx context.Context, id int64) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.done(a.service.DeletePassword(ctx, id))
}

// Backup operations

// Backup seals the database and credential with passphrase and stores them in
// the first configured vault. The session must be unlocked. Returns the
// backup version.
func (a *PMApp) Backup(ctx context.Context, passphrase string) (int64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.backups == nil {
		return 0, a.done(ErrNoVault)
	}
	if !a.auth.IsAuthenticated() {
		return 0, a.done(model.ErrNotAuthenticated)
	}
	version, err := a.backups.Backup(ctx, passphrase, a.auth.CredentialPath())
	return version, a.done(err)
}

// BackupStatus reports what the vault holds.
func (a *PMApp) BackupStatus(ctx context.Context) (pm.BackupStatus, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.backups == nil {
		return pm.BackupStatus{}, a.done(ErrNoVault)
	}
	st, err := a.backups.Status(ctx)
	return st, a.done(err)
}

// Restore replaces the local database and credential with the vault's backup.
// The session must be locked; afterwards the backup's master password applies.
// Returns the restored version.
func (a *PMApp) Restore(ctx context.Context, passphrase string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.backups == nil {
		return 0, a.done(ErrNoVault)
	}
	if a.auth.IsAuthenticated() {
		return 0, a.done(ErrSessionActive)
	}
	if a.cfg.Database.Type != "sqlite" {
		return 0, a.done(fmt.Errorf("restore needs a sqlite database file, have %q", a.cfg.Database.Type))
	}

	dbPath := a.cfg.DatabasePath()
	tmpDir, err := os.MkdirTemp(filepath.Dir(dbPath), ".restore-*")
	if err != nil {
		return 0, a.done(fmt.Errorf("creating restore directory: %w", err))
	}
	defer os.RemoveAll(tmpDir)

	files, err := a.backups.Fetch(ctx, passphrase, tmpDir)
	if err != nil {
		return 0, a.done(err)
	}

	if err := a.closeDatabaseLocked(); err != nil {
		return 0, a.done(err)
	}
	installErr := installRestored(files, dbPath, a.auth.CredentialPath())
	if err := a.openDatabaseLocked(); err != nil {
		return 0, a.done(errors.Join(installErr, err))
	}
	if installErr != nil {
		return 0, a.done(installErr)
	}

	a.logger.Info("backup restored", "version", files.Version)
	return files.Version, nil
}

// installRestored moves restored files over the live ones. The database goes
// first; a credential without its database would lock the user out.
func installRestored(files *pm.RestoredFiles, dbPath, credentialPath string) error {
	if err := removeDatabaseFiles(dbPath); err != nil {
		return err
	}
	if err := os.Rename(files.DatabasePath, dbPath); err != nil {
		return fmt.Errorf("installing database: %w", err)
	}
	if err := moveFile(files.CredentialPath, credentialPath); err != nil {
		return fmt.Errorf("installing credential: %w", err)
	}
	return nil
}

// moveFile renames src to dst, copying through a temp file in dst's directory
// when the two are on different filesystems.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".restore-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, dst)
}

// Close logs the operation outcome, locks the session and closes all resources.
func (a *PMApp) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.auth.Logout()
	err := a.closeDatabaseLocked()

	a.logger.Debug("operation finished",
		"operation", a.op.Name, "status", a.op.Status, "duration", a.op.Duration(a.clock.Now()))
	if a.logFile != nil {
		a.logFile.Close()
		a.logFile = nil
	}
	return err
}
