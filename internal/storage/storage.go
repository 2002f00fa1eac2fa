// Package storage is the file collaborator for persisted identity state:
// the public-identifier file, the hex-encoded sealed-key file and the
// settings file, all inside one owner-only data directory.
package storage

import (
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

const (
	publicIDFile  = "pubid"
	sealedKeyFile = "sealed.key"
	settingsFile  = "settings.yaml"
)

var ErrNotFound = errors.New("storage: file not found")

type Store struct {
	dir string
}

// New opens (creating if needed) the data directory with owner-only
// permissions.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("storage: data directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) SettingsPath() string { return filepath.Join(s.dir, settingsFile) }

func (s *Store) WritePublicID(id string) error {
	return os.WriteFile(filepath.Join(s.dir, publicIDFile), []byte(id+"\n"), 0o644)
}

func (s *Store) ReadPublicID() (string, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, publicIDFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

// WriteSealedKey stores the sealed blob hex-encoded with 0600 permissions.
func (s *Store) WriteSealedKey(blob []byte) error {
	encoded := hex.EncodeToString(blob)
	return os.WriteFile(filepath.Join(s.dir, sealedKeyFile), []byte(encoded), 0o600)
}

func (s *Store) ReadSealedKey() ([]byte, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, sealedKeyFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	blob, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, errors.New("storage: sealed key file is not valid hex")
	}
	return blob, nil
}

func (s *Store) HasSealedKey() bool {
	info, err := os.Stat(filepath.Join(s.dir, sealedKeyFile))
	return err == nil && info.Mode().IsRegular()
}

// RemoveSealedKey deletes the sealed-key file; missing files are fine.
func (s *Store) RemoveSealedKey() error {
	err := os.Remove(filepath.Join(s.dir, sealedKeyFile))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
