// Package settings holds user-facing configuration that survives restarts,
// most importantly the secret-key persistence policy.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SecurityLevel controls whether and how the secret key may touch disk.
type SecurityLevel int

const (
	// SecurityNeverPersist keeps secret material strictly in memory.
	SecurityNeverPersist SecurityLevel = iota
	// SecurityPersistMandatoryPassword allows persistence, always sealed
	// with a non-empty password. This is the default.
	SecurityPersistMandatoryPassword
	// SecurityPersistOptionalPassword allows persistence sealed with an
	// optional (possibly empty) password.
	SecurityPersistOptionalPassword
)

var ErrUnknownSecurityLevel = errors.New("unknown security level")

var levelNames = map[SecurityLevel]string{
	SecurityNeverPersist:             "never",
	SecurityPersistMandatoryPassword: "mandatory-password",
	SecurityPersistOptionalPassword:  "optional-password",
}

func (l SecurityLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("security-level(%d)", int(l))
}

// Description returns the user-facing explanation of a level.
func (l SecurityLevel) Description() string {
	switch l {
	case SecurityNeverPersist:
		return "Never persist the secret key; an imported secret lives only in memory for the current session."
	case SecurityPersistMandatoryPassword:
		return "The secret key may be persisted, always sealed with a password you provide."
	case SecurityPersistOptionalPassword:
		return "The secret key may be persisted, sealed with or without a password."
	default:
		return l.String()
	}
}

// AllowsPersist reports whether secret material may be written to or read
// from storage at this level.
func (l SecurityLevel) AllowsPersist() bool {
	return l == SecurityPersistMandatoryPassword || l == SecurityPersistOptionalPassword
}

// RequiresPassword reports whether persisting demands a non-empty password.
func (l SecurityLevel) RequiresPassword() bool {
	return l == SecurityPersistMandatoryPassword
}

func ParseSecurityLevel(s string) (SecurityLevel, error) {
	for level, name := range levelNames {
		if name == s {
			return level, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSecurityLevel, s)
}

func (l SecurityLevel) MarshalYAML() (any, error) {
	return l.String(), nil
}

func (l *SecurityLevel) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseSecurityLevel(raw)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Levels lists all security levels in ascending order of permissiveness.
func Levels() []SecurityLevel {
	return []SecurityLevel{
		SecurityNeverPersist,
		SecurityPersistMandatoryPassword,
		SecurityPersistOptionalPassword,
	}
}

type Settings struct {
	Security SecurityLevel `yaml:"securityLevel"`
	// AutoUnlockEmptyPassword makes Load attempt an unlock with an empty
	// password, so a key sealed without one round-trips transparently.
	AutoUnlockEmptyPassword bool `yaml:"autoUnlockEmptyPassword"`
}

func Default() Settings {
	return Settings{
		Security:                SecurityPersistMandatoryPassword,
		AutoUnlockEmptyPassword: true,
	}
}

// Save writes the settings file, creating the parent directory if needed.
func Save(path string, s Settings) error {
	raw, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

// Load reads the settings file; a missing file yields the defaults.
func Load(path string) (Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Settings{}, err
	}
	s := Default()
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return Settings{}, err
	}
	return s, nil
}
