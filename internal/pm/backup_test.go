package pm_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pwm-go/internal/database"
	"pwm-go/internal/model"
	"pwm-go/internal/pm"
	"pwm-go/internal/testutil"
)

const backupPassphrase = "correct horse battery staple"

func TestBackupService_BackupAndFetch(t *testing.T) {
	ctx := context.Background()
	svc, db, session := newTestService(t)
	mustAdd(t, svc, "Email", model.SecretFields{Username: "alice", Password: "hunter2"})

	clock := testutil.FixedClock()
	vault := testutil.NewTestVault()
	backups := pm.NewBackupService(db, vault, testutil.NewTestSealer(), pm.NewNopLogger(), clock)

	version, err := backups.Backup(ctx, backupPassphrase, session.CredentialPath())
	if err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	if version != clock.Now().Unix() {
		t.Errorf("Backup() version = %d, want %d", version, clock.Now().Unix())
	}

	st, err := backups.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !st.Exists() || st.DatabaseVersion != version {
		t.Errorf("Status() = %+v, want complete backup at %d", st, version)
	}

	dir := t.TempDir()
	restored, err := backups.Fetch(ctx, backupPassphrase, dir)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if restored.Version != version {
		t.Errorf("Fetch() version = %d, want %d", restored.Version, version)
	}

	wantCred, _ := os.ReadFile(session.CredentialPath())
	gotCred, err := os.ReadFile(restored.CredentialPath)
	if err != nil {
		t.Fatalf("reading restored credential: %v", err)
	}
	if !bytes.Equal(gotCred, wantCred) {
		t.Error("restored credential differs from the original")
	}

	info, err := os.Stat(restored.DatabasePath)
	if err != nil {
		t.Fatalf("restored database missing: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("restored database permissions = %o, want 600", perm)
	}

	// The restored database opens under the same master password.
	restoredDB, err := database.NewSQLiteDatabase(restored.DatabasePath, 0)
	if err != nil {
		t.Fatalf("opening restored database: %v", err)
	}
	defer restoredDB.Close()
	if err := restoredDB.CheckMigrations(); err != nil {
		t.Errorf("restored database schema: %v", err)
	}
	restoredSvc := pm.NewService(restoredDB, session, pm.NewNopLogger(), clock)
	views, err := restoredSvc.GetPasswords(ctx, model.AllCategories)
	if err != nil {
		t.Fatalf("GetPasswords() error = %v", err)
	}
	if len(views) != 1 || views[0].Password != "hunter2" {
		t.Errorf("restored records = %+v, want Email/hunter2", views)
	}
}

func TestBackupService_ArtifactsAreSealed(t *testing.T) {
	ctx := context.Background()
	svc, db, session := newTestService(t)
	mustAdd(t, svc, "Email", model.SecretFields{Password: "hunter2"})

	vault := testutil.NewTestVault()
	backups := pm.NewBackupService(db, vault, testutil.NewTestSealer(), pm.NewNopLogger(), testutil.FixedClock())
	if _, err := backups.Backup(ctx, backupPassphrase, session.CredentialPath()); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}

	var raw bytes.Buffer
	if err := vault.Get(ctx, pm.BackupDatabaseName, &raw); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !bytes.HasPrefix(raw.Bytes(), []byte("PWMENC")) {
		t.Error("stored database artifact is not sealed")
	}
	if bytes.Contains(raw.Bytes(), []byte("hunter2")) {
		t.Error("stored artifact contains a plaintext password")
	}
}

func TestBackupService_VersionAdvances(t *testing.T) {
	ctx := context.Background()
	_, db, session := newTestService(t)

	clock := testutil.FixedClock()
	backups := pm.NewBackupService(db, testutil.NewTestVault(), testutil.NewTestSealer(), pm.NewNopLogger(), clock)

	first, err := backups.Backup(ctx, backupPassphrase, session.CredentialPath())
	if err != nil {
		t.Fatalf("first Backup() error = %v", err)
	}
	clock.Advance(time.Hour)
	second, err := backups.Backup(ctx, backupPassphrase, session.CredentialPath())
	if err != nil {
		t.Fatalf("second Backup() error = %v", err)
	}
	if second <= first {
		t.Errorf("second version %d not after first %d", second, first)
	}

	st, _ := backups.Status(ctx)
	if st.DatabaseVersion != second || st.CredentialVersion != second {
		t.Errorf("Status() = %+v, want both at %d", st, second)
	}
}

func TestBackupService_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("empty passphrase", func(t *testing.T) {
		_, db, session := newTestService(t)
		backups := pm.NewBackupService(db, testutil.NewTestVault(), testutil.NewTestSealer(), pm.NewNopLogger(), testutil.FixedClock())

		if _, err := backups.Backup(ctx, "", session.CredentialPath()); !model.IsValidation(err) {
			t.Errorf("Backup() error = %v, want validation error", err)
		}
		if _, err := backups.Fetch(ctx, "", t.TempDir()); !model.IsValidation(err) {
			t.Errorf("Fetch() error = %v, want validation error", err)
		}
	})

	t.Run("nothing stored", func(t *testing.T) {
		_, db, _ := newTestService(t)
		backups := pm.NewBackupService(db, testutil.NewTestVault(), testutil.NewTestSealer(), pm.NewNopLogger(), testutil.FixedClock())

		st, err := backups.Status(ctx)
		if err != nil {
			t.Fatalf("Status() error = %v", err)
		}
		if st.Exists() {
			t.Error("Status().Exists() = true for an empty vault")
		}
		if _, err := backups.Fetch(ctx, backupPassphrase, t.TempDir()); !errors.Is(err, model.ErrNotFound) {
			t.Errorf("Fetch() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("incomplete backup", func(t *testing.T) {
		_, db, _ := newTestService(t)
		vault := testutil.NewTestVault()
		if err := vault.Put(ctx, pm.BackupDatabaseName, strings.NewReader("x"), 1, 42); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		backups := pm.NewBackupService(db, vault, testutil.NewTestSealer(), pm.NewNopLogger(), testutil.FixedClock())

		_, err := backups.Fetch(ctx, backupPassphrase, t.TempDir())
		if err == nil || !strings.Contains(err.Error(), "incomplete") {
			t.Errorf("Fetch() error = %v, want incomplete backup", err)
		}
	})

	t.Run("wrong passphrase leaves no files", func(t *testing.T) {
		_, db, session := newTestService(t)
		backups := pm.NewBackupService(db, testutil.NewTestVault(), testutil.NewTestSealer(), pm.NewNopLogger(), testutil.FixedClock())
		if _, err := backups.Backup(ctx, backupPassphrase, session.CredentialPath()); err != nil {
			t.Fatalf("Backup() error = %v", err)
		}

		dir := t.TempDir()
		if _, err := backups.Fetch(ctx, "not the passphrase", dir); !errors.Is(err, model.ErrInvalidCredential) {
			t.Errorf("Fetch() error = %v, want ErrInvalidCredential", err)
		}
		entries, _ := os.ReadDir(dir)
		if len(entries) != 0 {
			t.Errorf("Fetch() left %d files behind", len(entries))
		}
	})

	t.Run("missing credential file", func(t *testing.T) {
		_, db, _ := newTestService(t)
		backups := pm.NewBackupService(db, testutil.NewTestVault(), testutil.NewTestSealer(), pm.NewNopLogger(), testutil.FixedClock())

		if _, err := backups.Backup(ctx, backupPassphrase, filepath.Join(t.TempDir(), "absent.json")); err == nil {
			t.Error("Backup() expected error for missing credential file")
		}
	})

	t.Run("refuses to overwrite output", func(t *testing.T) {
		_, db, session := newTestService(t)
		backups := pm.NewBackupService(db, testutil.NewTestVault(), testutil.NewTestSealer(), pm.NewNopLogger(), testutil.FixedClock())
		if _, err := backups.Backup(ctx, backupPassphrase, session.CredentialPath()); err != nil {
			t.Fatalf("Backup() error = %v", err)
		}

		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, "password_manager.db"), []byte("keep"), 0600); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		if _, err := backups.Fetch(ctx, backupPassphrase, dir); err == nil {
			t.Error("Fetch() expected error when output exists")
		}
		data, _ := os.ReadFile(filepath.Join(dir, "password_manager.db"))
		if string(data) != "keep" {
			t.Error("Fetch() overwrote an existing file")
		}
	})
}
