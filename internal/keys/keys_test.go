package keys

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

func TestEncodeDecodePublicRoundtrip(t *testing.T) {
	seed, err := GenerateSeed()
	if err != nil {
		t.Fatalf("generate seed failed: %v", err)
	}
	pub, _, err := FromSeed(seed)
	if err != nil {
		t.Fatalf("from seed failed: %v", err)
	}

	encoded := EncodePublic(pub)
	if !strings.HasPrefix(encoded, PublicPrefix) {
		t.Fatalf("expected %s prefix, got %q", PublicPrefix, encoded)
	}
	decoded, err := DecodePublic(encoded)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !bytes.Equal(decoded, pub) {
		t.Fatalf("decoded key differs from original")
	}
}

func TestDecodePublicHex(t *testing.T) {
	seed, _ := GenerateSeed()
	pub, _, _ := FromSeed(seed)

	decoded, err := DecodePublic(hex.EncodeToString(pub))
	if err != nil {
		t.Fatalf("hex decode failed: %v", err)
	}
	if !bytes.Equal(decoded, pub) {
		t.Fatalf("hex-decoded key differs from original")
	}
}

func TestDecodePublicInvalid(t *testing.T) {
	cases := []string{
		"",
		"__NOT_A_VALID_KEY__",
		"khpub0OIl", // invalid base58 alphabet
		"khpub" + strings.Repeat("1", 4),
		hex.EncodeToString(make([]byte, 16)), // wrong length
	}
	for _, in := range cases {
		if _, err := DecodePublic(in); !errors.Is(err, ErrInvalidPublicKey) {
			t.Fatalf("DecodePublic(%q): expected ErrInvalidPublicKey, got %v", in, err)
		}
	}
}

func TestSecretRoundtrip(t *testing.T) {
	seed, _ := GenerateSeed()

	decoded, err := DecodeSecret(EncodeSecret(seed))
	if err != nil {
		t.Fatalf("decode secret failed: %v", err)
	}
	if !bytes.Equal(decoded, seed) {
		t.Fatalf("decoded seed differs from original")
	}

	pub, priv, err := FromSeed(decoded)
	if err != nil {
		t.Fatalf("from seed failed: %v", err)
	}
	sig := ed25519.Sign(priv, []byte("payload"))
	if !ed25519.Verify(pub, []byte("payload"), sig) {
		t.Fatalf("signature from round-tripped seed does not verify")
	}
}

func TestMnemonicRoundtrip(t *testing.T) {
	seed, _ := GenerateSeed()

	mnemonic, err := MnemonicFromSeed(seed)
	if err != nil {
		t.Fatalf("mnemonic encode failed: %v", err)
	}
	if got := len(strings.Fields(mnemonic)); got != 24 {
		t.Fatalf("expected 24 words, got %d", got)
	}

	recovered, err := SeedFromMnemonic(mnemonic)
	if err != nil {
		t.Fatalf("mnemonic decode failed: %v", err)
	}
	if !bytes.Equal(recovered, seed) {
		t.Fatalf("recovered seed differs from original")
	}
}

func TestMnemonicInvalid(t *testing.T) {
	if _, err := SeedFromMnemonic("not a valid mnemonic at all"); !errors.Is(err, ErrInvalidMnemonic) {
		t.Fatalf("expected ErrInvalidMnemonic, got %v", err)
	}
}
