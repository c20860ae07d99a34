package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"pwm-go/internal/database/migrations"
	"pwm-go/internal/model"
	"pwm-go/internal/pm"
)

// DefaultQueryTimeout bounds each query when no timeout is configured.
const DefaultQueryTimeout = 10 * time.Second

// SQLiteDatabase implements pm.Database on SQLite. It holds a single
// connection, so statements from concurrent callers run one at a time.
type SQLiteDatabase struct {
	db           *sql.DB
	path         string
	queryTimeout time.Duration
}

var _ pm.Database = (*SQLiteDatabase)(nil)

// NewSQLiteDatabase opens the database at path, which may be ":memory:".
// Migrations are not applied; call MigrateUp.
func NewSQLiteDatabase(path string, queryTimeout time.Duration) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return NewSQLiteDatabaseFromDB(db, path, queryTimeout), nil
}

// NewSQLiteDatabaseFromDB wraps a connection opened with OpenConnection.
func NewSQLiteDatabaseFromDB(db *sql.DB, path string, queryTimeout time.Duration) *SQLiteDatabase {
	if queryTimeout <= 0 {
		queryTimeout = DefaultQueryTimeout
	}
	return &SQLiteDatabase{
		db:           db,
		path:         path,
		queryTimeout: queryTimeout,
	}
}

// OpenConnection opens and configures a SQLite connection. The pool is capped
// at one connection, which also keeps ":memory:" databases alive between
// statements.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to configure database (%s): %w", p, err)
		}
	}
	return db, nil
}

// Path returns the database file path (or ":memory:").
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// MigrateUp applies pending schema migrations.
func (s *SQLiteDatabase) MigrateUp() error {
	return migrations.MigrateUp(s.db)
}

// CheckMigrations verifies the schema is at the latest version.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.Check(s.db)
}

func (s *SQLiteDatabase) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.queryTimeout)
}

// Category operations

func (s *SQLiteDatabase) ListCategories(ctx context.Context) ([]*model.Category, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, created_at FROM categories ORDER BY name COLLATE NOCASE, id")
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, mapError(err)
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (s *SQLiteDatabase) FindCategory(ctx context.Context, id int64) (*model.Category, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var c model.Category
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, created_at FROM categories WHERE id = ?", id).
		Scan(&c.ID, &c.Name, &c.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &c, nil
}

func (s *SQLiteDatabase) CreateCategory(ctx context.Context, name string, createdAt time.Time) (*model.Category, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO categories (name, created_at) VALUES (?, ?)", name, createdAt.UTC())
	if err != nil {
		return nil, mapError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, mapError(err)
	}
	return &model.Category{ID: id, Name: name, CreatedAt: createdAt.UTC()}, nil
}

func (s *SQLiteDatabase) RenameCategory(ctx context.Context, id int64, name string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, "UPDATE categories SET name = ? WHERE id = ?", name, id)
	if err != nil {
		return mapError(err)
	}
	return requireRow(res)
}

// DeleteCategory detaches records explicitly rather than relying on the
// foreign key action, so databases opened without foreign_keys behave the same.
func (s *SQLiteDatabase) DeleteCategory(ctx context.Context, id int64) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"UPDATE passwords SET category_id = NULL WHERE category_id = ?", id); err != nil {
		return mapError(err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM categories WHERE id = ?", id)
	if err != nil {
		return mapError(err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	return mapError(tx.Commit())
}

// Record operations

const selectRecords = `
SELECT p.id, p.category_id, COALESCE(c.name, p.category_name, ?), p.title,
       p.image, p.encrypted_data, p.created_at, p.updated_at
FROM passwords p
LEFT JOIN categories c ON c.id = p.category_id`

func (s *SQLiteDatabase) ListRecords(ctx context.Context, categoryID int64) ([]*model.SecretRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := selectRecords
	args := []any{model.NoCategory}
	if categoryID != model.AllCategories {
		query += " WHERE p.category_id = ?"
		args = append(args, categoryID)
	}
	query += " ORDER BY p.title COLLATE NOCASE, p.id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*model.SecretRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (s *SQLiteDatabase) FindRecord(ctx context.Context, id int64) (*model.SecretRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, selectRecords+" WHERE p.id = ?", model.NoCategory, id)
	return scanRecord(row)
}

func (s *SQLiteDatabase) CreateRecord(ctx context.Context, rec *model.SecretRecord) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO passwords (category_id, category_name, title, image, encrypted_data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		nullableID(rec.CategoryID), rec.CategoryName, rec.Title, nullableString(rec.Image),
		rec.Envelope, rec.CreatedAt.UTC(), rec.UpdatedAt.UTC())
	if err != nil {
		return 0, mapError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, mapError(err)
	}
	return id, nil
}

func (s *SQLiteDatabase) UpdateRecord(ctx context.Context, rec *model.SecretRecord) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE passwords
		SET category_id = ?, category_name = ?, title = ?, image = ?, encrypted_data = ?, updated_at = ?
		WHERE id = ?`,
		nullableID(rec.CategoryID), rec.CategoryName, rec.Title, nullableString(rec.Image),
		rec.Envelope, rec.UpdatedAt.UTC(), rec.ID)
	if err != nil {
		return mapError(err)
	}
	return requireRow(res)
}

func (s *SQLiteDatabase) DeleteRecord(ctx context.Context, id int64) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, "DELETE FROM passwords WHERE id = ?", id)
	if err != nil {
		return mapError(err)
	}
	return requireRow(res)
}

// RewriteEnvelopes runs under the caller's context only; a full re-encryption
// may legitimately outlast the per-query timeout.
func (s *SQLiteDatabase) RewriteEnvelopes(ctx context.Context, fn func(id int64, envelope string) (string, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer tx.Rollback()

	type row struct {
		id       int64
		envelope string
	}
	rows, err := tx.QueryContext(ctx, "SELECT id, encrypted_data FROM passwords ORDER BY id")
	if err != nil {
		return mapError(err)
	}
	var all []row
	for rows.Next() {
		var r row
		var data sql.NullString
		if err := rows.Scan(&r.id, &data); err != nil {
			rows.Close()
			return mapError(err)
		}
		r.envelope = data.String
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return mapError(err)
	}
	rows.Close()

	for _, r := range all {
		updated, err := fn(r.id, r.envelope)
		if err != nil {
			return err
		}
		if updated == r.envelope {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE passwords SET encrypted_data = ? WHERE id = ?", updated, r.id); err != nil {
			return mapError(err)
		}
	}
	return mapError(tx.Commit())
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
// destPath must not exist.
func (s *SQLiteDatabase) BackupTo(ctx context.Context, destPath string) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", mapError(err))
	}
	return nil
}

// Schema returns the CREATE statements for the application's tables and
// indexes, tables first. Migration bookkeeping is left out.
func (s *SQLiteDatabase) Schema(ctx context.Context) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT sql || ';'
		FROM sqlite_master
		WHERE type IN ('table', 'index')
		  AND sql IS NOT NULL
		  AND name NOT LIKE 'sqlite_%'
		  AND tbl_name != 'schema_migrations'
		ORDER BY
		  CASE type
		    WHEN 'table' THEN 1
		    WHEN 'index' THEN 2
		  END,
		  name`)
	if err != nil {
		return "", mapError(err)
	}
	defer rows.Close()

	var b strings.Builder
	for rows.Next() {
		var stmt string
		if err := rows.Scan(&stmt); err != nil {
			return "", mapError(err)
		}
		b.WriteString(stmt)
		b.WriteString("\n\n")
	}
	if err := rows.Err(); err != nil {
		return "", mapError(err)
	}
	return b.String(), nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*model.SecretRecord, error) {
	var (
		rec        model.SecretRecord
		categoryID sql.NullInt64
		image      sql.NullString
		data       sql.NullString
	)
	err := row.Scan(&rec.ID, &categoryID, &rec.CategoryName, &rec.Title,
		&image, &data, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	if categoryID.Valid {
		id := categoryID.Int64
		rec.CategoryID = &id
	}
	rec.Image = image.String
	rec.Envelope = data.String
	return &rec, nil
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func nullableString(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(err)
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// mapError translates driver errors into the store's error set.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrNotFound
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return model.ErrDuplicateCategory
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: query timed out", model.ErrStoreUnavailable)
	}
	return fmt.Errorf("%w: %v", model.ErrStoreUnavailable, err)
}
