package delegation

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"

	"keyhaven/internal/keys"
)

var (
	ErrInvalidTag   = errors.New("invalid delegation tag")
	ErrBadSignature = errors.New("delegation signature does not verify")
)

const tagLabel = "delegation"

// Tag is the signed delegation record. It is assembled once by
// Builder.Sign and never mutated afterwards.
type Tag struct {
	DelegatorID string
	Conditions  string
	Signature   string
}

func (t *Tag) elements() [4]string {
	return [4]string{tagLabel, t.DelegatorID, t.Conditions, t.Signature}
}

// String renders the tag as a single-line 4-element JSON array.
func (t *Tag) String() string {
	out, _ := json.Marshal(t.elements())
	return string(out)
}

// Pretty renders the tag with one element per line.
func (t *Tag) Pretty() string {
	out, _ := json.MarshalIndent(t.elements(), "", "\t")
	return string(out)
}

// ParseTag accepts both the single-line and the pretty rendering.
func ParseTag(s string) (*Tag, error) {
	var elems []string
	if err := json.Unmarshal([]byte(s), &elems); err != nil {
		return nil, ErrInvalidTag
	}
	if len(elems) != 4 || elems[0] != tagLabel {
		return nil, ErrInvalidTag
	}
	return &Tag{DelegatorID: elems[1], Conditions: elems[2], Signature: elems[3]}, nil
}

// Verify checks the tag signature against the delegator identity and
// the canonical token for the given delegatee.
func (t *Tag) Verify(delegateeID string) error {
	delegatorPub, err := keys.DecodePublic(t.DelegatorID)
	if err != nil {
		return ErrInvalidTag
	}
	delegateePub, err := keys.DecodePublic(delegateeID)
	if err != nil {
		return ErrInvalidTag
	}
	sig, err := hex.DecodeString(t.Signature)
	if err != nil || len(sig) != keys.SignatureSize {
		return ErrInvalidTag
	}
	token := Token(keys.EncodePublic(delegateePub), t.Conditions)
	if !ed25519.Verify(delegatorPub, []byte(token), sig) {
		return ErrBadSignature
	}
	return nil
}
