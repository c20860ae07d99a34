package pm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pwm-go/internal/envelope"
	"pwm-go/internal/model"
)

// Service is the secret record store. It validates input, encrypts sensitive
// fields through the session before anything reaches the database, and
// decrypts on the way out when the session allows it.
type Service struct {
	database Database
	session  Session
	logger   Logger
	clock    Clock
}

// NewService creates a Service. All dependencies are required.
func NewService(database Database, session Session, logger Logger, clock Clock) *Service {
	return &Service{
		database: database,
		session:  session,
		logger:   logger,
		clock:    clock,
	}
}

// Category operations

// GetCategories returns all categories ordered by name.
func (s *Service) GetCategories(ctx context.Context) ([]*model.Category, error) {
	return s.database.ListCategories(ctx)
}

// AddCategory creates a category and returns its id.
func (s *Service) AddCategory(ctx context.Context, name string) (int64, error) {
	name, err := cleanCategoryName(name)
	if err != nil {
		return 0, err
	}
	cat, err := s.database.CreateCategory(ctx, name, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("adding category: %w", err)
	}
	s.logger.Info("category added", "id", cat.ID, "name", cat.Name)
	return cat.ID, nil
}

// UpdateCategory renames a category. Records keep their old snapshot until
// they are next written.
func (s *Service) UpdateCategory(ctx context.Context, id int64, name string) error {
	name, err := cleanCategoryName(name)
	if err != nil {
		return err
	}
	if err := s.database.RenameCategory(ctx, id, name); err != nil {
		return fmt.Errorf("renaming category %d: %w", id, err)
	}
	s.logger.Info("category renamed", "id", id, "name", name)
	return nil
}

// DeleteCategory removes a category. Its records stay, uncategorized.
func (s *Service) DeleteCategory(ctx context.Context, id int64) error {
	if err := s.database.DeleteCategory(ctx, id); err != nil {
		return fmt.Errorf("deleting category %d: %w", id, err)
	}
	s.logger.Info("category deleted", "id", id)
	return nil
}

func cleanCategoryName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", &model.ValidationError{Field: "name", Message: "category name is required"}
	}
	return name, nil
}

// Record operations

// GetPasswords lists records in a category, or all records for
// model.AllCategories. Records that cannot be decrypted are returned with
// blank sensitive fields.
func (s *Service) GetPasswords(ctx context.Context, categoryID int64) ([]*model.RecordView, error) {
	records, err := s.database.ListRecords(ctx, categoryID)
	if err != nil {
		return nil, fmt.Errorf("listing passwords: %w", err)
	}
	return s.views(records), nil
}

// GetPassword returns one record.
func (s *Service) GetPassword(ctx context.Context, id int64) (*model.RecordView, error) {
	rec, err := s.database.FindRecord(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting password %d: %w", id, err)
	}
	return s.view(rec), nil
}

// SearchPasswords returns records whose title contains query, ignoring case.
// Encrypted fields are not searched.
func (s *Service) SearchPasswords(ctx context.Context, query string) ([]*model.RecordView, error) {
	records, err := s.database.ListRecords(ctx, model.AllCategories)
	if err != nil {
		return nil, fmt.Errorf("searching passwords: %w", err)
	}

	needle := strings.ToLower(strings.TrimSpace(query))
	matched := records[:0]
	for _, rec := range records {
		if strings.Contains(strings.ToLower(rec.Title), needle) {
			matched = append(matched, rec)
		}
	}
	return s.views(matched), nil
}

// AddPassword encrypts and stores a new record, returning its id.
func (s *Service) AddPassword(ctx context.Context, in model.RecordInput) (int64, error) {
	rec, err := s.seal(ctx, in)
	if err != nil {
		return 0, err
	}
	now := s.clock.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	id, err := s.database.CreateRecord(ctx, rec)
	if err != nil {
		return 0, fmt.Errorf("adding password: %w", err)
	}
	s.logger.Info("password added", "id", id, "title", rec.Title)
	return id, nil
}

// UpdatePassword re-encrypts and overwrites an existing record.
func (s *Service) UpdatePassword(ctx context.Context, id int64, in model.RecordInput) error {
	rec, err := s.seal(ctx, in)
	if err != nil {
		return err
	}
	rec.ID = id
	rec.UpdatedAt = s.clock.Now()

	if err := s.database.UpdateRecord(ctx, rec); err != nil {
		return fmt.Errorf("updating password %d: %w", id, err)
	}
	s.logger.Info("password updated", "id", id, "title", rec.Title)
	return nil
}

// DeletePassword removes a record permanently.
func (s *Service) DeletePassword(ctx context.Context, id int64) error {
	if err := s.database.DeleteRecord(ctx, id); err != nil {
		return fmt.Errorf("deleting password %d: %w", id, err)
	}
	s.logger.Info("password deleted", "id", id)
	return nil
}

// seal validates input, resolves the category snapshot and encrypts the
// sensitive fields. It refuses outright when the session is locked.
func (s *Service) seal(ctx context.Context, in model.RecordInput) (*model.SecretRecord, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if !s.session.IsAuthenticated() {
		return nil, model.ErrNotAuthenticated
	}

	rec := &model.SecretRecord{
		CategoryID:   in.CategoryID,
		CategoryName: model.NoCategory,
		Title:        strings.TrimSpace(in.Title),
		Image:        in.Image,
	}
	if in.CategoryID != nil {
		cat, err := s.database.FindCategory(ctx, *in.CategoryID)
		if errors.Is(err, model.ErrNotFound) {
			return nil, &model.ValidationError{Field: "category", Message: "category does not exist"}
		}
		if err != nil {
			return nil, fmt.Errorf("resolving category: %w", err)
		}
		rec.CategoryName = cat.Name
	}

	env, err := s.session.EncryptData(in.Secret)
	if err != nil {
		return nil, fmt.Errorf("encrypting password: %w", err)
	}
	if rec.Envelope, err = env.Encode(); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Service) views(records []*model.SecretRecord) []*model.RecordView {
	out := make([]*model.RecordView, len(records))
	for i, rec := range records {
		out[i] = s.view(rec)
	}
	return out
}

// view opens a record for display. Failures only blank that record's fields.
func (s *Service) view(rec *model.SecretRecord) *model.RecordView {
	v := &model.RecordView{
		ID:           rec.ID,
		CategoryID:   rec.CategoryID,
		CategoryName: rec.CategoryName,
		Title:        rec.Title,
		Image:        rec.Image,
		Sealed:       true,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
	if rec.Envelope == "" {
		return v
	}

	format, err := envelope.Parse(rec.Envelope)
	if err != nil {
		s.logger.Warn("unreadable envelope", "id", rec.ID, "error", err)
		return v
	}

	switch f := format.(type) {
	case *envelope.LegacyPlaintext:
		v.SecretFields = f.Fields
		v.Sealed = false
	case *envelope.Encrypted:
		if !s.session.IsAuthenticated() {
			return v
		}
		fields, err := s.session.DecryptData(f.Envelope)
		if err != nil {
			s.logger.Warn("failed to decrypt password", "id", rec.ID, "error", err)
			return v
		}
		v.SecretFields = fields
		v.Sealed = false
	}
	return v
}

// ReencryptStats summarizes a ReencryptAll pass.
type ReencryptStats struct {
	Reencrypted int // encrypted envelopes moved to the new key
	Upgraded    int // legacy plaintext rows now encrypted
	Skipped     int // rows that could not be read with the old key; left as they were
}

// Resealer moves one record's fields from the old key to the new one.
type Resealer interface {
	// Open decrypts with the old key.
	Open(env *envelope.Envelope) (model.SecretFields, error)
	// Seal encrypts with the new key.
	Seal(fields model.SecretFields) (*envelope.Envelope, error)
}

// ReencryptAll rewrites every record under the new key in one transaction.
func (s *Service) ReencryptAll(ctx context.Context, r Resealer) (ReencryptStats, error) {
	var stats ReencryptStats

	err := s.database.RewriteEnvelopes(ctx, func(id int64, blob string) (string, error) {
		if blob == "" {
			return blob, nil
		}

		var fields model.SecretFields
		format, err := envelope.Parse(blob)
		if err != nil {
			s.logger.Warn("skipping unreadable envelope during re-encryption", "id", id)
			stats.Skipped++
			return blob, nil
		}
		switch f := format.(type) {
		case *envelope.LegacyPlaintext:
			fields = f.Fields
			stats.Upgraded++
		case *envelope.Encrypted:
			fields, err = r.Open(f.Envelope)
			if errors.Is(err, model.ErrDecryptionFailed) {
				s.logger.Warn("skipping envelope not readable with current key", "id", id)
				stats.Skipped++
				return blob, nil
			}
			if err != nil {
				return "", err
			}
			stats.Reencrypted++
		}
		defer fields.Wipe()

		env, err := r.Seal(fields)
		if err != nil {
			return "", fmt.Errorf("re-encrypting password %d: %w", id, err)
		}
		return env.Encode()
	})
	if err != nil {
		return ReencryptStats{}, fmt.Errorf("re-encrypting passwords: %w", err)
	}

	s.logger.Info("passwords re-encrypted",
		"reencrypted", stats.Reencrypted, "upgraded", stats.Upgraded, "skipped", stats.Skipped)
	return stats, nil
}
