package keyseal

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"testing"
)

func randomSecret(t *testing.T) []byte {
	t.Helper()
	secret := make([]byte, SecretSize)
	if _, err := rand.Read(secret); err != nil {
		t.Fatalf("rand failed: %v", err)
	}
	return secret
}

func TestSealUnsealRoundtrip(t *testing.T) {
	secret := randomSecret(t)

	blob, err := Seal(secret, "correct horse", DefaultCost)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	plain, err := Unseal(blob, "correct horse")
	if err != nil {
		t.Fatalf("unseal failed: %v", err)
	}
	if !bytes.Equal(plain, secret) {
		t.Fatalf("round-tripped secret differs")
	}
}

func TestSealFormatStability(t *testing.T) {
	blob, err := Seal(randomSecret(t), "pw", DefaultCost)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	if len(blob) != 91 {
		t.Fatalf("expected 91-byte blob, got %d", len(blob))
	}
	if blob[0] != 1 {
		t.Fatalf("expected version byte 1, got %d", blob[0])
	}
	if blob[1] != 13 {
		t.Fatalf("expected cost byte 13, got %d", blob[1])
	}
	if blob[42] != 1 {
		t.Fatalf("expected key-security tag 1, got %d", blob[42])
	}
}

func TestUnsealWrongPassword(t *testing.T) {
	blob, err := Seal(randomSecret(t), "right", DefaultCost)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	if _, err := Unseal(blob, "wrong"); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("expected ErrDecryptFailed, got %v", err)
	}
}

func TestUnsealTamperRejection(t *testing.T) {
	secret := randomSecret(t)
	blob, err := Seal(secret, "pw", DefaultCost)
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}

	// Every byte of the nonce, tag and ciphertext regions must be covered.
	for i := 18; i < len(blob); i++ {
		mutated := append([]byte(nil), blob...)
		mutated[i] ^= 0xFF
		plain, err := Unseal(mutated, "pw")
		if err == nil {
			t.Fatalf("tampered byte %d: expected failure, got plaintext", i)
		}
		if plain != nil {
			t.Fatalf("tampered byte %d: plaintext must be nil on failure", i)
		}
	}
}

func TestUnsealRejectsMalformedBlobs(t *testing.T) {
	blob, _ := Seal(randomSecret(t), "pw", DefaultCost)

	short := blob[:90]
	if _, err := Unseal(short, "pw"); !errors.Is(err, ErrInvalidBlob) {
		t.Fatalf("short blob: expected ErrInvalidBlob, got %v", err)
	}

	badVersion := append([]byte(nil), blob...)
	badVersion[0] = 2
	if _, err := Unseal(badVersion, "pw"); !errors.Is(err, ErrInvalidBlob) {
		t.Fatalf("bad version: expected ErrInvalidBlob, got %v", err)
	}
}

func TestSealRejectsBadInputs(t *testing.T) {
	if _, err := Seal(make([]byte, 31), "pw", DefaultCost); !errors.Is(err, ErrInvalidSecret) {
		t.Fatalf("short secret: expected ErrInvalidSecret, got %v", err)
	}
	if _, err := Seal(make([]byte, SecretSize), "pw", 0); !errors.Is(err, ErrInvalidCost) {
		t.Fatalf("zero cost: expected ErrInvalidCost, got %v", err)
	}
	if _, err := Seal(make([]byte, SecretSize), "pw", 40); !errors.Is(err, ErrInvalidCost) {
		t.Fatalf("huge cost: expected ErrInvalidCost, got %v", err)
	}
}

// Known blob produced by an interoperating implementation of the same
// format: scrypt cost 13, password "password".
func TestUnsealKnownVector(t *testing.T) {
	blob, err := hex.DecodeString(
		"010d6a32e0decd8553f02372df251c7f06dd0a54ba09bc0e8b2ea52e816c50f430fd" +
			"0f051b2f7abcae05017f3c6f8a1ff7f3d694db4e624ef7dece7e3152b1ff536bc954" +
			"eab1c85b3dbeb8e29140e84f0db5c473822e550d53a66e")
	if err != nil {
		t.Fatalf("bad vector hex: %v", err)
	}
	secret, err := Unseal(blob, "password")
	if err != nil {
		t.Fatalf("unseal failed: %v", err)
	}
	want := "b2f3673ee3a659283e6599080e0ab0e669a3c2640914375a9b0b357faae08b17"
	if hex.EncodeToString(secret) != want {
		t.Fatalf("unexpected secret: %x", secret)
	}
}
