// Package auth owns the master credential and the unlocked session. The
// encryption key lives only inside Manager and is zeroed on logout, on
// session expiry and when the password changes.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"pwm-go/internal/envelope"
	"pwm-go/internal/kdf"
	"pwm-go/internal/model"
	"pwm-go/internal/pm"
)

// State is the lifecycle position of a Manager.
type State int

const (
	StateNoCredential State = iota + 1
	StateLocked
	StateUnlocked
)

func (s State) String() string {
	switch s {
	case StateNoCredential:
		return "no-credential"
	case StateLocked:
		return "locked"
	case StateUnlocked:
		return "unlocked"
	default:
		return "unknown"
	}
}

const (
	DefaultSessionTimeout    = 30 * time.Minute
	DefaultMaxFailedAttempts = 5
	DefaultAttemptCooldown   = 30 * time.Second
)

// Options tune a Manager. Zero values select the defaults; a negative
// MaxFailedAttempts disables throttling. Iterations applies to credentials
// created from now on; existing ones verify with the count stored in them.
type Options struct {
	SessionTimeout    time.Duration
	Iterations        int
	MaxFailedAttempts int
	AttemptCooldown   time.Duration
}

// Manager implements pm.Session and the master password lifecycle.
type Manager struct {
	mu sync.RWMutex

	store   *CredentialStore
	deriver kdf.Deriver
	timeout time.Duration
	limiter *rate.Limiter
	burst   int

	// Failed unlocks survive restarts through attempts; they are replayed
	// into limiter on first use.
	attempts       attemptLog
	failures       []time.Time
	attemptsLoaded bool

	key       []byte
	sessionID string
	timer     *time.Timer

	logger pm.Logger
	clock  pm.Clock
	idgen  pm.IDGenerator
}

var _ pm.Session = (*Manager)(nil)

// NewManager creates a locked Manager backed by store.
func NewManager(store *CredentialStore, opts Options, logger pm.Logger, clock pm.Clock, idgen pm.IDGenerator) *Manager {
	timeout := opts.SessionTimeout
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}

	var limiter *rate.Limiter
	burst := 0
	if opts.MaxFailedAttempts >= 0 {
		burst = opts.MaxFailedAttempts
		if burst == 0 {
			burst = DefaultMaxFailedAttempts
		}
		cooldown := opts.AttemptCooldown
		if cooldown <= 0 {
			cooldown = DefaultAttemptCooldown
		}
		limiter = rate.NewLimiter(rate.Every(cooldown), burst)
	}

	return &Manager{
		store:    store,
		deriver:  kdf.Deriver{Iterations: opts.Iterations},
		timeout:  timeout,
		limiter:  limiter,
		burst:    burst,
		attempts: newAttemptLog(store.Path()),
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
	}
}

// CredentialPath returns where the credential file lives.
func (m *Manager) CredentialPath() string {
	return m.store.Path()
}

// State reports whether a credential exists and whether the session is unlocked.
func (m *Manager) State() (State, error) {
	m.mu.RLock()
	unlocked := m.key != nil
	m.mu.RUnlock()
	if unlocked {
		return StateUnlocked, nil
	}

	ok, err := m.store.Exists()
	if err != nil {
		return 0, err
	}
	if !ok {
		return StateNoCredential, nil
	}
	return StateLocked, nil
}

// HasMasterPassword reports whether a credential file exists.
func (m *Manager) HasMasterPassword() (bool, error) {
	return m.store.Exists()
}

// IsAuthenticated reports whether the session is unlocked.
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.key != nil
}

// CreateMasterPassword sets up the first credential and unlocks the session.
// A short password is rejected before anything is written.
func (m *Manager) CreateMasterPassword(password string) error {
	if err := kdf.ValidatePassword(password); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	exists, err := m.store.Exists()
	if err != nil {
		return err
	}
	if exists {
		return model.ErrAlreadyConfigured
	}

	cred, key, err := m.newCredential(password)
	if err != nil {
		return err
	}
	if err := m.store.Save(cred); err != nil {
		clear(key)
		return fmt.Errorf("saving credential: %w", err)
	}

	m.startSessionLocked(key)
	m.logger.Info("master password created", "session", m.sessionID)
	return nil
}

// Authenticate verifies password against the stored credential and unlocks
// the session, restarting the expiry timer.
func (m *Manager) Authenticate(password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cred, err := m.store.Load()
	if err != nil {
		return err
	}
	key, err := m.verifyLocked(cred, password)
	if err != nil {
		return err
	}

	m.startSessionLocked(key)
	m.logger.Info("session unlocked", "session", m.sessionID)
	return nil
}

// verifyLocked checks password against cred and returns the derived
// encryption key. The verifier is recomputed with the iteration count stored
// in cred. Failed attempts are throttled. A password too short to have been
// set is reported as a wrong password, not as a policy violation.
func (m *Manager) verifyLocked(cred *model.MasterCredential, password string) ([]byte, error) {
	now := m.clock.Now()
	if m.limiter != nil {
		m.loadAttemptsLocked()
		if m.limiter.TokensAt(now) < 1 {
			m.logger.Warn("unlock throttled")
			return nil, model.ErrTooManyAttempts
		}
	}

	if kdf.ValidatePassword(password) != nil {
		m.recordFailureLocked(now)
		return nil, model.ErrInvalidCredential
	}

	verifier, err := kdf.Deriver{Iterations: cred.Iterations}.DeriveVerifierWith(cred.Algorithm, password, cred.Salt)
	if err != nil {
		return nil, err
	}
	if !kdf.Equal(verifier, cred.Hash) {
		m.recordFailureLocked(now)
		return nil, model.ErrInvalidCredential
	}

	return m.deriver.DeriveEncryptionKey(password, cred.Salt)
}

// loadAttemptsLocked replays failures recorded by earlier processes into the limiter.
func (m *Manager) loadAttemptsLocked() {
	if m.attemptsLoaded {
		return
	}
	m.attemptsLoaded = true

	failures, err := m.attempts.load()
	if err != nil {
		m.logger.Warn("ignoring unreadable attempt log", "error", err)
		return
	}
	for _, t := range failures {
		m.limiter.AllowN(t, 1)
	}
	m.failures = failures
}

// recordFailureLocked spends a token for a failed unlock and persists it.
func (m *Manager) recordFailureLocked(now time.Time) {
	m.logger.Warn("unlock failed: wrong master password")
	if m.limiter == nil {
		return
	}

	m.limiter.AllowN(now, 1)
	m.failures = append(m.failures, now)
	if len(m.failures) > m.burst {
		m.failures = m.failures[len(m.failures)-m.burst:]
	}
	if err := m.attempts.save(m.failures); err != nil {
		m.logger.Warn("failed to persist unlock attempts", "error", err)
	}
}

// Logout zeroes the key and stops the timer. Calling it while locked is a no-op.
func (m *Manager) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.key == nil {
		return
	}
	id := m.sessionID
	m.endSessionLocked()
	m.logger.Info("session locked", "session", id)
}

// Reset locks the session and deletes the credential file. Failed-attempt
// throttling and its log are kept; they guard the next credential too.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.endSessionLocked()
	if err := m.store.Remove(); err != nil {
		return err
	}
	m.logger.Warn("master credential removed")
	return nil
}

// Reencryptor moves every stored record from the old key to the new one. It
// must be all-or-nothing: on error no record may have changed.
type Reencryptor func(ctx context.Context, r pm.Resealer) error

// ChangeMasterPassword verifies current, installs a credential for newPassword
// and leaves the session unlocked under the new key. When reencrypt is non-nil
// it runs before the new credential takes effect; if it fails, the old
// credential and key stay in place.
func (m *Manager) ChangeMasterPassword(ctx context.Context, current, newPassword string, reencrypt Reencryptor) error {
	if err := kdf.ValidatePassword(newPassword); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cred, err := m.store.Load()
	if err != nil {
		return err
	}
	oldKey, err := m.verifyLocked(cred, current)
	if err != nil {
		return err
	}
	defer clear(oldKey)

	newCred, newKey, err := m.newCredential(newPassword)
	if err != nil {
		return err
	}

	staged, err := m.store.Stage(newCred)
	if err != nil {
		clear(newKey)
		return fmt.Errorf("staging credential: %w", err)
	}
	defer staged.Discard()

	if reencrypt != nil {
		if err := reencrypt(ctx, &resealer{oldKey: oldKey, newKey: newKey}); err != nil {
			clear(newKey)
			return fmt.Errorf("re-encrypting records: %w", err)
		}
	}

	if err := staged.Commit(); err != nil {
		clear(newKey)
		return fmt.Errorf("installing credential: %w", err)
	}

	m.startSessionLocked(newKey)
	m.logger.Info("master password changed", "session", m.sessionID)
	return nil
}

// newCredential derives a fresh salt, verifier and key for password.
func (m *Manager) newCredential(password string) (*model.MasterCredential, []byte, error) {
	salt, err := kdf.NewSalt()
	if err != nil {
		return nil, nil, err
	}
	verifier, err := m.deriver.DeriveVerifier(password, salt)
	if err != nil {
		return nil, nil, err
	}
	key, err := m.deriver.DeriveEncryptionKey(password, salt)
	if err != nil {
		return nil, nil, err
	}
	return &model.MasterCredential{
		Hash:       verifier,
		Salt:       salt,
		Algorithm:  kdf.AlgorithmPBKDF2,
		Iterations: m.deriver.IterationCount(),
		CreatedAt:  m.clock.Now(),
	}, key, nil
}

// startSessionLocked replaces any current key and (re)starts the expiry timer.
func (m *Manager) startSessionLocked(key []byte) {
	m.endSessionLocked()

	id := m.idgen.New()
	m.key = key
	m.sessionID = id
	m.timer = time.AfterFunc(m.timeout, func() { m.expire(id) })
}

func (m *Manager) endSessionLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	clear(m.key)
	m.key = nil
	m.sessionID = ""
}

// expire locks the session id if it is still the current one.
func (m *Manager) expire(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sessionID != id || m.key == nil {
		return
	}
	m.endSessionLocked()
	m.logger.Info("session expired", "session", id)
}

// EncryptData serializes and seals fields under the session key.
func (m *Manager) EncryptData(fields model.SecretFields) (*envelope.Envelope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.key == nil {
		return nil, model.ErrNotAuthenticated
	}
	return sealFields(m.key, fields)
}

// DecryptData opens env under the session key.
func (m *Manager) DecryptData(env *envelope.Envelope) (model.SecretFields, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.key == nil {
		return model.SecretFields{}, model.ErrNotAuthenticated
	}
	return openFields(m.key, env)
}

func sealFields(key []byte, fields model.SecretFields) (*envelope.Envelope, error) {
	plaintext, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encoding fields: %w", err)
	}
	defer clear(plaintext)
	return envelope.Seal(key, plaintext)
}

func openFields(key []byte, env *envelope.Envelope) (model.SecretFields, error) {
	if env == nil {
		return model.SecretFields{}, fmt.Errorf("%w: missing envelope", model.ErrDecryptionFailed)
	}
	plaintext, err := env.Open(key)
	if err != nil {
		return model.SecretFields{}, err
	}
	defer clear(plaintext)

	var fields model.SecretFields
	if err := json.Unmarshal(plaintext, &fields); err != nil {
		return model.SecretFields{}, fmt.Errorf("%w: payload is not a record", model.ErrDecryptionFailed)
	}
	return fields, nil
}

// resealer carries both keys through a password change. It is only valid for
// the duration of the Reencryptor call.
type resealer struct {
	oldKey []byte
	newKey []byte
}

func (r *resealer) Open(env *envelope.Envelope) (model.SecretFields, error) {
	return openFields(r.oldKey, env)
}

func (r *resealer) Seal(fields model.SecretFields) (*envelope.Envelope, error) {
	return sealFields(r.newKey, fields)
}
