package testutil

import (
	"testing"

	"pwm-go/internal/database"
)

// NewTestDatabase creates a new in-memory SQLite database with all migrations
// applied, including the seeded categories.
// The database is automatically closed when the test completes.
func NewTestDatabase(t *testing.T) *database.SQLiteDatabase {
	t.Helper()

	db, err := database.NewSQLiteDatabase(":memory:", database.DefaultQueryTimeout)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})

	if err := db.MigrateUp(); err != nil {
		t.Fatalf("failed to apply migrations: %v", err)
	}

	return db
}
