package database

import (
	"fmt"
	"os"

	"pwm-go/internal/config"
)

// NewDatabaseFromConfig opens the record database described by cfg and
// brings its schema up to date.
func NewDatabaseFromConfig(cfg *config.Config) (*SQLiteDatabase, error) {
	switch cfg.Database.Type {
	case "sqlite":
		if cfg.Database.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.Database.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	case "memory":
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Database.Type)
	}

	db, err := NewSQLiteDatabase(cfg.DatabasePath(), cfg.Database.QueryTimeout.Duration)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("checking database schema: %w", err)
	}
	return db, nil
}
