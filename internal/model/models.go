package model

import (
	"strings"
	"time"
)

// NoCategory is the category snapshot stored for records created without a category.
const NoCategory = "no_category"

// AllCategories selects records from every category (and none) in listing queries.
const AllCategories int64 = 0

// MasterCredential is the persisted proof of the master password.
// Hash is the verifier, never the encryption key.
type MasterCredential struct {
	Hash       []byte    // 64-byte verifier
	Salt       []byte    // 32 random bytes
	Algorithm  string    // "pbkdf2-sha512" or legacy "scrypt"
	Iterations int       // PBKDF2 rounds the verifier was made with; 0 means the default
	CreatedAt  time.Time
}

// Category groups secret records.
type Category struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// SecretFields are the sensitive parts of a record. They only exist in plaintext
// in memory while being encrypted or decrypted.
type SecretFields struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	URL      string `json:"url"`
	Notes    string `json:"notes"`
}

// Wipe blanks all fields.
func (f *SecretFields) Wipe() {
	*f = SecretFields{}
}

// SecretRecord is a stored row. Envelope is the serialized encrypted payload.
type SecretRecord struct {
	ID           int64
	CategoryID   *int64 // nil when uncategorized or the category was deleted
	CategoryName string // snapshot taken at write time
	Title        string
	Image        string
	Envelope     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RecordInput is what callers submit to create or update a record.
type RecordInput struct {
	CategoryID *int64
	Title      string
	Image      string
	Secret     SecretFields
}

// NewRecordInput builds a RecordInput, enforcing the required fields.
func NewRecordInput(title string, secret SecretFields, opts ...RecordOption) (RecordInput, error) {
	in := RecordInput{Title: title, Secret: secret}
	for _, opt := range opts {
		opt(&in)
	}
	if err := in.Validate(); err != nil {
		return RecordInput{}, err
	}
	return in, nil
}

// RecordOption sets optional RecordInput fields.
type RecordOption func(*RecordInput)

// WithCategory assigns the record to a category.
func WithCategory(id int64) RecordOption {
	return func(in *RecordInput) { in.CategoryID = &id }
}

// WithImage attaches an opaque image reference.
func WithImage(ref string) RecordOption {
	return func(in *RecordInput) { in.Image = ref }
}

// Validate checks that title and password are present.
func (in RecordInput) Validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return &ValidationError{Field: "title", Message: "title is required"}
	}
	if strings.TrimSpace(in.Secret.Password) == "" {
		return &ValidationError{Field: "password", Message: "password is required"}
	}
	return nil
}

// RecordView is a record as presented to callers, with sensitive fields filled in
// when they could be decrypted and blank otherwise.
type RecordView struct {
	ID           int64
	CategoryID   *int64
	CategoryName string
	Title        string
	Image        string
	SecretFields
	// Sealed is true when the sensitive fields could not be read
	// (session locked or envelope unreadable).
	Sealed    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PasswordRequirements lists the independent strength checks.
type PasswordRequirements struct {
	MinLength    bool `json:"minLength"`
	HasUpperCase bool `json:"hasUpperCase"`
	HasLowerCase bool `json:"hasLowerCase"`
	HasNumbers   bool `json:"hasNumbers"`
	HasSpecial   bool `json:"hasSpecial"`
}

// PasswordStrength is advisory feedback for a candidate password.
type PasswordStrength struct {
	Requirements PasswordRequirements `json:"requirements"`
	Strength     int                  `json:"strength"` // 0-5
	IsValid      bool                 `json:"isValid"`  // strength >= 3
}
