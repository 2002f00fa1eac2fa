// Package keystore owns the identity keypair lifecycle: generate, import,
// seal to disk, load and unlock. It is the single root of trust; other
// components only ever receive the narrow Signer capability, never the
// raw secret key.
package keystore

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"keyhaven/internal/keys"
	"keyhaven/internal/keyseal"
	"keyhaven/internal/settings"
	"keyhaven/internal/storage"
)

// State is the coarse lifecycle state. A loaded-but-undecrypted sealed
// blob is reported separately through Locked.
type State int

const (
	StateEmpty State = iota
	StatePublicOnly
	StateSecretLoaded
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StatePublicOnly:
		return "public-only"
	case StateSecretLoaded:
		return "secret-loaded"
	default:
		return "unknown"
	}
}

var (
	ErrNoKey             = errors.New("no key is set")
	ErrNoSecretKey       = errors.New("no secret key is set")
	ErrNoSealedKey       = errors.New("no sealed key is loaded")
	ErrNoChanges         = errors.New("no changes to save")
	ErrPersistNotAllowed = errors.New("security policy forbids persisting the secret key")
	ErrLoadNotAllowed    = errors.New("security policy forbids loading the secret key")
	ErrPasswordRequired  = errors.New("security policy requires a password")
	ErrPasswordMismatch  = errors.New("passwords do not match")
	ErrUnlockFailed      = errors.New("wrong password or corrupt data")
	ErrUnlockThrottled   = errors.New("unlock attempts are temporarily throttled")
)

// PolicyFunc supplies the current security policy at the moment of a
// persistence decision.
type PolicyFunc func() settings.SecurityLevel

// Signer is the narrow signing capability handed to collaborators.
type Signer interface {
	Sign(payload []byte) ([]byte, error)
	PublicID() string
}

type Option func(*Store)

// WithAutoUnlockEmptyPassword controls whether Load attempts to unlock a
// freshly loaded sealed blob with an empty password.
func WithAutoUnlockEmptyPassword(enabled bool) Option {
	return func(s *Store) { s.autoUnlockEmpty = enabled }
}

func withClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

type Store struct {
	mu     sync.RWMutex
	pub    ed25519.PublicKey
	priv   ed25519.PrivateKey
	sealed []byte // undecrypted sealed blob, nil when absent

	unsaved    bool
	hideSecret bool

	failedAttempts  int
	throttledUntil  time.Time
	now             func() time.Time
	autoUnlockEmpty bool

	files  *storage.Store
	policy PolicyFunc
}

func New(files *storage.Store, policy PolicyFunc, opts ...Option) *Store {
	s := &Store{
		files:           files,
		policy:          policy,
		hideSecret:      true,
		autoUnlockEmpty: true,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case s.priv != nil:
		return StateSecretLoaded
	case s.pub != nil:
		return StatePublicOnly
	default:
		return StateEmpty
	}
}

// Locked reports whether a sealed blob is held that has not been
// decrypted yet.
func (s *Store) Locked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sealed != nil && s.priv == nil
}

func (s *Store) HasUnsavedChange() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unsaved
}

// Generate replaces any current key material with a fresh random keypair.
func (s *Store) Generate() error {
	seed, err := keys.GenerateSeed()
	if err != nil {
		return err
	}
	pub, priv, err := keys.FromSeed(seed)
	keys.ZeroBytes(seed)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceLocked(pub, priv, nil)
	s.unsaved = true
	return nil
}

// ImportPublic accepts a khpub or hex public key. Signing stays
// impossible. Prior state is untouched on a parse failure.
func (s *Store) ImportPublic(in string) error {
	pub, err := keys.DecodePublic(in)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceLocked(pub, nil, nil)
	s.unsaved = true
	return nil
}

// ImportSecret accepts a khsec or hex secret seed and derives the keypair.
func (s *Store) ImportSecret(in string) error {
	seed, err := keys.DecodeSecret(in)
	if err != nil {
		return err
	}
	defer keys.ZeroBytes(seed)
	return s.setSecretSeed(seed)
}

// ImportMnemonic restores the keypair from a 24-word backup mnemonic.
func (s *Store) ImportMnemonic(mnemonic string) error {
	seed, err := keys.SeedFromMnemonic(mnemonic)
	if err != nil {
		return err
	}
	defer keys.ZeroBytes(seed)
	return s.setSecretSeed(seed)
}

func (s *Store) setSecretSeed(seed []byte) error {
	pub, priv, err := keys.FromSeed(seed)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceLocked(pub, priv, nil)
	s.unsaved = true
	return nil
}

// ImportSealed loads a hex-encoded sealed blob without decrypting it.
func (s *Store) ImportSealed(in string) error {
	blob, err := hex.DecodeString(strings.TrimSpace(in))
	if err != nil {
		return keyseal.ErrInvalidBlob
	}
	if err := keyseal.Validate(blob); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceLocked(nil, nil, blob)
	s.unsaved = true
	return nil
}

// Clear wipes all key material. There is nothing left worth saving, so
// the unsaved-change flag is reset as well.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceLocked(nil, nil, nil)
	s.unsaved = false
}

// replaceLocked installs new key material, wiping the previous secret.
func (s *Store) replaceLocked(pub ed25519.PublicKey, priv ed25519.PrivateKey, sealed []byte) {
	if s.priv != nil {
		keys.ZeroBytes(s.priv)
	}
	s.pub = pub
	s.priv = priv
	s.sealed = sealed
	s.resetThrottleLocked()
}

// Unlock decrypts the held sealed blob. Failures are reported as one
// generic condition and throttled with an escalating backoff.
func (s *Store) Unlock(password string) error {
	return s.unlock(password, true)
}

// unlock carries the shared decrypt path. The automatic empty-password
// attempt made by Load is a silent convenience and must not count
// against the caller's throttle budget.
func (s *Store) unlock(password string, recordFailure bool) error {
	s.mu.Lock()
	sealed := s.sealed
	if sealed == nil {
		s.mu.Unlock()
		return ErrNoSealedKey
	}
	if !s.throttledUntil.IsZero() && s.now().Before(s.throttledUntil) {
		s.mu.Unlock()
		return ErrUnlockThrottled
	}
	s.mu.Unlock()

	seed, err := keyseal.Unseal(sealed, password)
	if err != nil {
		if recordFailure {
			s.mu.Lock()
			s.failedAttempts++
			s.throttledUntil = s.now().Add(unlockBackoff(s.failedAttempts))
			s.mu.Unlock()
		}
		return ErrUnlockFailed
	}
	defer keys.ZeroBytes(seed)

	pub, priv, err := keys.FromSeed(seed)
	if err != nil {
		return ErrUnlockFailed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceLocked(pub, priv, nil)
	s.unsaved = true
	return nil
}

func (s *Store) resetThrottleLocked() {
	s.failedAttempts = 0
	s.throttledUntil = time.Time{}
}

// 1s, 2s, 4s ... capped at 32s.
func unlockBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	shift := attempt - 1
	if shift > 5 {
		shift = 5
	}
	return time.Second * time.Duration(1<<shift)
}

// Persist writes the public identifier and, when a secret is loaded,
// seals and writes the secret key. It reports whether the secret was
// persisted.
func (s *Store) Persist(password, confirm string) (bool, error) {
	level := s.policy()
	if !level.AllowsPersist() {
		return false, ErrPersistNotAllowed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.unsaved {
		return false, ErrNoChanges
	}
	if s.pub == nil {
		return false, ErrNoKey
	}

	if err := s.files.WritePublicID(keys.EncodePublic(s.pub)); err != nil {
		return false, err
	}

	if s.priv == nil {
		s.unsaved = false
		return false, nil
	}
	if level.RequiresPassword() && password == "" {
		return false, ErrPasswordRequired
	}
	if password != confirm {
		return false, ErrPasswordMismatch
	}

	seed := s.priv.Seed()
	blob, err := keyseal.Seal(seed, password, keyseal.DefaultCost)
	keys.ZeroBytes(seed)
	if err != nil {
		return false, err
	}
	if err := s.files.WriteSealedKey(blob); err != nil {
		return false, err
	}
	s.unsaved = false
	return true, nil
}

// Load reads the persisted public identifier and, if present, the sealed
// key blob. The blob is not decrypted, except for an optional attempt
// with an empty password so a password-less seal round-trips
// transparently.
func (s *Store) Load() error {
	if !s.policy().AllowsPersist() {
		return ErrLoadNotAllowed
	}

	id, err := s.files.ReadPublicID()
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	var pub ed25519.PublicKey
	if id != "" {
		pub, err = keys.DecodePublic(id)
		if err != nil {
			return err
		}
	}

	var sealed []byte
	if s.files.HasSealedKey() {
		sealed, err = s.files.ReadSealedKey()
		if err != nil {
			return err
		}
		if err := keyseal.Validate(sealed); err != nil {
			return err
		}
	}
	if pub == nil && sealed == nil {
		return storage.ErrNotFound
	}

	s.mu.Lock()
	s.replaceLocked(pub, nil, sealed)
	s.unsaved = false
	autoUnlock := s.autoUnlockEmpty && sealed != nil
	s.mu.Unlock()

	if autoUnlock {
		if err := s.unlock("", false); err == nil {
			// The in-memory state equals what is on disk.
			s.mu.Lock()
			s.unsaved = false
			s.mu.Unlock()
		}
	}
	return nil
}

// Sign produces a signature over payload with the loaded secret key. This
// is the only way collaborators obtain signatures.
func (s *Store) Sign(payload []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.priv == nil {
		return nil, ErrNoSecretKey
	}
	return ed25519.Sign(s.priv, payload), nil
}

// PublicID returns the encoded public identifier, or "" when no key is
// set.
func (s *Store) PublicID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pub == nil {
		return ""
	}
	return keys.EncodePublic(s.pub)
}

// SetHideSecret toggles whether SecretString exposes the secret.
func (s *Store) SetHideSecret(hide bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hideSecret = hide
}

// SecretString returns the encoded secret seed, or "" while hiding is
// active or no secret is loaded.
func (s *Store) SecretString() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.priv == nil || s.hideSecret {
		return ""
	}
	seed := s.priv.Seed()
	defer keys.ZeroBytes(seed)
	return keys.EncodeSecret(seed)
}

// ExportMnemonic renders the loaded secret seed as a backup mnemonic.
func (s *Store) ExportMnemonic() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.priv == nil {
		return "", ErrNoSecretKey
	}
	seed := s.priv.Seed()
	defer keys.ZeroBytes(seed)
	return keys.MnemonicFromSeed(seed)
}
