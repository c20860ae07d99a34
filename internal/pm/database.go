package pm

import (
	"context"
	"time"

	"pwm-go/internal/model"
)

// Database stores categories and records. It only ever sees encrypted
// envelopes. Implementations must be safe for concurrent use, bound every
// query by a timeout, and report backend failures as model.ErrStoreUnavailable.
type Database interface {
	// Category operations

	// ListCategories returns all categories ordered by name.
	ListCategories(ctx context.Context) ([]*model.Category, error)

	// FindCategory returns model.ErrNotFound when id does not exist.
	FindCategory(ctx context.Context, id int64) (*model.Category, error)

	// CreateCategory returns model.ErrDuplicateCategory when the name is taken
	// (case-insensitive).
	CreateCategory(ctx context.Context, name string, createdAt time.Time) (*model.Category, error)

	// RenameCategory returns model.ErrNotFound or model.ErrDuplicateCategory.
	RenameCategory(ctx context.Context, id int64, name string) error

	// DeleteCategory detaches referencing records (keeping their name snapshot)
	// and then removes the category, in one transaction.
	DeleteCategory(ctx context.Context, id int64) error

	// Record operations

	// ListRecords returns records ordered by title. categoryID may be
	// model.AllCategories. CategoryName holds the live category name, or the
	// snapshot when the category is gone.
	ListRecords(ctx context.Context, categoryID int64) ([]*model.SecretRecord, error)

	// FindRecord returns model.ErrNotFound when id does not exist.
	FindRecord(ctx context.Context, id int64) (*model.SecretRecord, error)

	// CreateRecord inserts rec and returns its id.
	CreateRecord(ctx context.Context, rec *model.SecretRecord) (int64, error)

	// UpdateRecord overwrites everything but ID and CreatedAt.
	UpdateRecord(ctx context.Context, rec *model.SecretRecord) error

	// DeleteRecord hard-deletes a record.
	DeleteRecord(ctx context.Context, id int64) error

	// RewriteEnvelopes calls fn for every record's envelope and stores what it
	// returns, all in one transaction. Any error rolls everything back.
	RewriteEnvelopes(ctx context.Context, fn func(id int64, envelope string) (string, error)) error

	// BackupTo writes a consistent copy of the database to destPath.
	BackupTo(ctx context.Context, destPath string) error

	// Close releases the connection.
	Close() error
}
