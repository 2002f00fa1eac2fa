// Package keyseal implements password-based envelope encryption for
// 32-byte secret keys at rest.
//
// Sealed blob layout (version 1, 91 bytes total):
//
//	[0]      version, 0x01
//	[1]      scrypt cost exponent (N = 1<<cost)
//	[2:18]   salt
//	[18:42]  XChaCha20-Poly1305 nonce
//	[42]     key-security tag, 0x01, authenticated as associated data
//	[43:91]  ciphertext plus Poly1305 tag
package keyseal

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const (
	Version     = 0x01
	DefaultCost = 13

	SecretSize = 32
	SealedSize = 2 + saltSize + nonceSize + 1 + SecretSize + 16

	saltSize       = 16
	nonceSize      = chacha20poly1305.NonceSizeX
	keySecurityTag = 0x01

	maxCost = 30
)

var (
	ErrInvalidBlob   = errors.New("sealed blob is invalid")
	ErrDecryptFailed = errors.New("decryption failed")
	ErrInvalidSecret = errors.New("secret must be 32 bytes")
	ErrInvalidCost   = errors.New("invalid cost parameter")
)

// Seal encrypts a 32-byte secret under a password-derived key. cost is the
// scrypt work exponent; 2^cost rounds with r=8, p=1. The only side effect
// is fresh randomness for the salt and nonce.
func Seal(secret []byte, password string, cost uint8) ([]byte, error) {
	if len(secret) != SecretSize {
		return nil, ErrInvalidSecret
	}
	if cost == 0 || cost > maxCost {
		return nil, ErrInvalidCost
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	key, err := deriveKey(password, salt, cost)
	if err != nil {
		return nil, err
	}
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	ciphertext := aead.Seal(nil, nonce, secret, []byte{keySecurityTag})

	blob := make([]byte, 0, SealedSize)
	blob = append(blob, Version, cost)
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = append(blob, keySecurityTag)
	blob = append(blob, ciphertext...)
	return blob, nil
}

// Unseal authenticates and decrypts a sealed blob. A wrong password, a
// flipped bit, or a bad key-security tag all surface as the same
// ErrDecryptFailed so a caller cannot learn which check failed. The
// internal plaintext buffer is wiped before returning.
func Unseal(blob []byte, password string) ([]byte, error) {
	if err := Validate(blob); err != nil {
		return nil, err
	}

	cost := blob[1]
	salt := blob[2 : 2+saltSize]
	nonce := blob[2+saltSize : 2+saltSize+nonceSize]
	tag := blob[2+saltSize+nonceSize]
	ciphertext := blob[2+saltSize+nonceSize+1:]

	key, err := deriveKey(password, salt, cost)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte{tag})
	if err != nil {
		return nil, ErrDecryptFailed
	}
	defer zeroBytes(plaintext)

	if tag != keySecurityTag || len(plaintext) != SecretSize {
		return nil, ErrDecryptFailed
	}
	secret := make([]byte, SecretSize)
	copy(secret, plaintext)
	return secret, nil
}

// Validate checks the structural invariants of a sealed blob without
// touching the password or the ciphertext.
func Validate(blob []byte) error {
	if len(blob) < SealedSize {
		return ErrInvalidBlob
	}
	if blob[0] != Version {
		return fmt.Errorf("%w: unknown version %d", ErrInvalidBlob, blob[0])
	}
	return nil
}

func deriveKey(password string, salt []byte, cost uint8) ([]byte, error) {
	if cost == 0 || cost > maxCost {
		return nil, ErrInvalidCost
	}
	return scrypt.Key([]byte(password), salt, 1<<int(cost), 8, 1, chacha20poly1305.KeySize)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
