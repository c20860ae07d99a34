package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults applied by NewConfig and by Validate for unset values.
const (
	DefaultSessionTimeout    = 30 * time.Minute
	DefaultPBKDF2Iterations  = 100_000
	DefaultMaxFailedAttempts = 5
	DefaultAttemptCooldown   = 30 * time.Second
	DefaultQueryTimeout      = 10 * time.Second

	CredentialFileName = "pm_config.json"
	DatabaseFileName   = "password_manager.db"
)

// Config represents the main configuration for pwm.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Auth       AuthConfig       `toml:"auth"`
	Database   DatabaseConfig   `toml:"database"`
	Encryption EncryptionConfig `toml:"encryption"`
	Vaults     []VaultConfig    `toml:"vaults"`
}

// AuthConfig controls the master credential and session.
type AuthConfig struct {
	CredentialPath    string   `toml:"credential_path"`
	SessionTimeout    Duration `toml:"session_timeout"`
	PBKDF2Iterations  int      `toml:"pbkdf2_iterations"`
	ReencryptOnChange *bool    `toml:"reencrypt_on_change,omitempty"` // true when unset
	MaxFailedAttempts int      `toml:"max_failed_attempts"`           // -1 disables throttling
	AttemptCooldown   Duration `toml:"attempt_cooldown"`
}

// Reencrypt reports whether records are moved to the new key on password change.
func (a AuthConfig) Reencrypt() bool {
	return a.ReencryptOnChange == nil || *a.ReencryptOnChange
}

// DatabaseConfig represents configuration for the record database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type         string   `toml:"type"`               // "sqlite" or "memory"
	DataDir      string   `toml:"data_dir,omitempty"` // only used for type=sqlite
	QueryTimeout Duration `toml:"query_timeout"`
}

// EncryptionConfig selects how backups are sealed.
type EncryptionConfig struct {
	Type string `toml:"type"` // "age" (default) or "test"
}

// VaultConfig represents configuration for a backup destination.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"` // S3-compatible services
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// Duration is a time.Duration written as a string ("30m") in TOML.
type Duration struct {
	time.Duration
}

// NewDuration wraps d.
func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

// NewConfig creates a Config rooted at baseDir with every default filled in
// and a single filesystem vault under baseDir.
func NewConfig(baseDir string) *Config {
	reencrypt := true
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Auth: AuthConfig{
			CredentialPath:    filepath.Join(baseDir, CredentialFileName),
			SessionTimeout:    NewDuration(DefaultSessionTimeout),
			PBKDF2Iterations:  DefaultPBKDF2Iterations,
			ReencryptOnChange: &reencrypt,
			MaxFailedAttempts: DefaultMaxFailedAttempts,
			AttemptCooldown:   NewDuration(DefaultAttemptCooldown),
		},
		Database: DatabaseConfig{
			Type:         "sqlite",
			DataDir:      baseDir,
			QueryTimeout: NewDuration(DefaultQueryTimeout),
		},
		Encryption: EncryptionConfig{Type: "age"},
		Vaults: []VaultConfig{
			{Type: "filesystem", Name: "local", FSVaultRoot: filepath.Join(baseDir, "backups")},
		},
	}
}

// Validate fills unset values with defaults and rejects invalid ones.
func (c *Config) Validate() error {
	var errs []error

	if c.Auth.CredentialPath == "" {
		if c.BaseDir == "" {
			errs = append(errs, errors.New("auth.credential_path or base_dir is required"))
		} else {
			c.Auth.CredentialPath = filepath.Join(c.BaseDir, CredentialFileName)
		}
	}
	if c.LogDir == "" && c.BaseDir != "" {
		c.LogDir = filepath.Join(c.BaseDir, "log")
	}

	switch {
	case c.Auth.SessionTimeout.Duration == 0:
		c.Auth.SessionTimeout = NewDuration(DefaultSessionTimeout)
	case c.Auth.SessionTimeout.Duration < 0:
		errs = append(errs, errors.New("auth.session_timeout must be positive"))
	}
	switch {
	case c.Auth.PBKDF2Iterations == 0:
		c.Auth.PBKDF2Iterations = DefaultPBKDF2Iterations
	case c.Auth.PBKDF2Iterations < DefaultPBKDF2Iterations:
		errs = append(errs, fmt.Errorf("auth.pbkdf2_iterations must be at least %d", DefaultPBKDF2Iterations))
	}
	if c.Auth.MaxFailedAttempts == 0 {
		c.Auth.MaxFailedAttempts = DefaultMaxFailedAttempts
	}
	switch {
	case c.Auth.AttemptCooldown.Duration == 0:
		c.Auth.AttemptCooldown = NewDuration(DefaultAttemptCooldown)
	case c.Auth.AttemptCooldown.Duration < 0:
		errs = append(errs, errors.New("auth.attempt_cooldown must be positive"))
	}

	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	switch c.Database.Type {
	case "sqlite":
		if c.Database.DataDir == "" {
			if c.BaseDir == "" {
				errs = append(errs, errors.New("database.data_dir is required for sqlite"))
			} else {
				c.Database.DataDir = c.BaseDir
			}
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown database type: %s", c.Database.Type))
	}
	switch {
	case c.Database.QueryTimeout.Duration == 0:
		c.Database.QueryTimeout = NewDuration(DefaultQueryTimeout)
	case c.Database.QueryTimeout.Duration < 0:
		errs = append(errs, errors.New("database.query_timeout must be positive"))
	}

	if c.Encryption.Type == "" {
		c.Encryption.Type = "age"
	}
	if c.Encryption.Type != "age" && c.Encryption.Type != "test" {
		errs = append(errs, fmt.Errorf("unknown encryption type: %s", c.Encryption.Type))
	}

	for i, v := range c.Vaults {
		switch v.Type {
		case "memory":
		case "filesystem":
			if v.FSVaultRoot == "" {
				errs = append(errs, fmt.Errorf("vaults[%d]: fs_vault_root is required", i))
			}
		case "s3":
			if v.S3Bucket == "" {
				errs = append(errs, fmt.Errorf("vaults[%d]: s3_bucket is required", i))
			}
			if (v.S3AccessKeyID == "") != (v.S3SecretAccessKey == "") {
				errs = append(errs, fmt.Errorf("vaults[%d]: s3_access_key_id and s3_secret_access_key must be set together", i))
			}
		default:
			errs = append(errs, fmt.Errorf("vaults[%d]: unknown vault type: %s", i, v.Type))
		}
	}

	return errors.Join(errs...)
}

// DatabasePath returns the SQLite file location, or ":memory:".
func (c *Config) DatabasePath() string {
	if c.Database.Type == "memory" {
		return ":memory:"
	}
	return filepath.Join(c.Database.DataDir, DatabaseFileName)
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads and validates a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to path. The file may hold S3 secrets, so it
// is readable by the owner only.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes a new config file at path. It refuses to overwrite.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
