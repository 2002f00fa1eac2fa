// Package sealedbox provides per-message authenticated encryption
// between two x25519 identities, used for signer session traffic.
// Each envelope is independent: the key is derived per peer pair with
// HKDF-SHA256 and the payload sealed with XChaCha20-Poly1305.
package sealedbox

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

var (
	ErrInvalidPeerKey  = errors.New("invalid peer key")
	ErrInvalidEnvelope = errors.New("invalid envelope")
	ErrDecryptFailed   = errors.New("decrypt failed")
)

const sessionInfo = "keyhaven/session/v1"

// Envelope is the wire form of one encrypted message. Sender carries
// the sender's x25519 public key so the recipient can derive the
// shared key without prior state.
type Envelope struct {
	Sender     []byte `json:"sender"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Box holds one x25519 identity. Engines create a fresh Box per
// session so traffic never binds to the long-lived signing key.
type Box struct {
	priv []byte
	pub  []byte
}

func NewBox() (*Box, error) {
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		return nil, err
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	return &Box{priv: priv, pub: pub}, nil
}

// PublicKey returns a copy of the box's public key.
func (b *Box) PublicKey() []byte {
	return append([]byte(nil), b.pub...)
}

// Seal encrypts plaintext for the holder of peerPub.
func (b *Box) Seal(peerPub, plaintext []byte) (Envelope, error) {
	key, err := b.sharedKey(peerPub)
	if err != nil {
		return Envelope{}, err
	}
	defer zeroBytes(key)

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return Envelope{}, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Sender:     b.PublicKey(),
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, nil),
	}, nil
}

// Open decrypts an envelope addressed to this box. All failure modes
// after envelope validation collapse into ErrDecryptFailed.
func (b *Box) Open(env Envelope) ([]byte, error) {
	if len(env.Sender) != curve25519.PointSize ||
		len(env.Nonce) != chacha20poly1305.NonceSizeX ||
		len(env.Ciphertext) == 0 {
		return nil, ErrInvalidEnvelope
	}
	key, err := b.sharedKey(env.Sender)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// sharedKey runs the ECDH and stretches the secret. Both directions of
// a peer pair derive the same key.
func (b *Box) sharedKey(peerPub []byte) ([]byte, error) {
	if len(peerPub) != curve25519.PointSize {
		return nil, ErrInvalidPeerKey
	}
	shared, err := curve25519.X25519(b.priv, peerPub)
	if err != nil {
		return nil, ErrInvalidPeerKey
	}
	defer zeroBytes(shared)

	reader := hkdf.New(sha256.New, shared, nil, []byte(sessionInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
