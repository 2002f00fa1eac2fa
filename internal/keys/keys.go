package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/mr-tron/base58/base58"
	"github.com/tyler-smith/go-bip39"
)

// Human-readable prefixes for encoded key material. Raw 64-char hex is
// accepted everywhere an encoded form is.
const (
	PublicPrefix = "khpub"
	SecretPrefix = "khsec"
)

const (
	PublicKeySize = ed25519.PublicKeySize
	SeedSize      = ed25519.SeedSize
	SignatureSize = ed25519.SignatureSize
)

var (
	ErrInvalidPublicKey = errors.New("invalid public key")
	ErrInvalidSecretKey = errors.New("invalid secret key")
	ErrInvalidMnemonic  = errors.New("invalid mnemonic")
)

// EncodePublic renders a 32-byte public key in the khpub form.
func EncodePublic(pub []byte) string {
	return PublicPrefix + base58.Encode(pub)
}

// EncodeSecret renders a 32-byte seed in the khsec form.
func EncodeSecret(seed []byte) string {
	return SecretPrefix + base58.Encode(seed)
}

// DecodePublic parses a khpub-prefixed or raw-hex public key.
func DecodePublic(s string) (ed25519.PublicKey, error) {
	raw, err := decodeKeyString(s, PublicPrefix)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	return ed25519.PublicKey(raw), nil
}

// DecodeSecret parses a khsec-prefixed or raw-hex secret seed.
func DecodeSecret(s string) ([]byte, error) {
	raw, err := decodeKeyString(s, SecretPrefix)
	if err != nil {
		return nil, ErrInvalidSecretKey
	}
	return raw, nil
}

func decodeKeyString(s, prefix string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, prefix); ok {
		raw, err := base58.Decode(rest)
		if err != nil || len(raw) != 32 {
			return nil, errors.New("bad base58 key")
		}
		return raw, nil
	}
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return nil, errors.New("bad hex key")
	}
	return raw, nil
}

// GenerateSeed returns 32 fresh random bytes suitable as an ed25519 seed.
func GenerateSeed() ([]byte, error) {
	seed := make([]byte, SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	return seed, nil
}

// FromSeed expands a 32-byte seed into an ed25519 keypair.
func FromSeed(seed []byte) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	if len(seed) != SeedSize {
		return nil, nil, ErrInvalidSecretKey
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return pub, priv, nil
}

// MnemonicFromSeed encodes a 32-byte seed as a 24-word backup mnemonic.
func MnemonicFromSeed(seed []byte) (string, error) {
	if len(seed) != SeedSize {
		return "", ErrInvalidSecretKey
	}
	return bip39.NewMnemonic(seed)
}

// SeedFromMnemonic recovers the 32-byte seed from a backup mnemonic.
func SeedFromMnemonic(mnemonic string) ([]byte, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	entropy, err := bip39.EntropyFromMnemonic(mnemonic)
	if err != nil {
		return nil, ErrInvalidMnemonic
	}
	if len(entropy) != SeedSize {
		return nil, ErrInvalidMnemonic
	}
	return entropy, nil
}

// ZeroBytes overwrites b in place.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
