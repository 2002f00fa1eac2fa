package delegation

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"keyhaven/internal/keys"
)

// Namespace is the leading component of the canonical token string.
const Namespace = "keyhaven"

// Signer is the narrow signing capability the builder needs. A signer
// hands out signatures over caller-supplied bytes, never the raw key.
type Signer interface {
	Sign(payload []byte) ([]byte, error)
	PublicID() string
}

// Builder accumulates delegation inputs and derives the conditions
// string and unsigned token from them. Derived values are rebuilt by
// Recompute after every setter and survive unchanged when an invalid
// delegatee makes Recompute fail.
type Builder struct {
	delegatee string
	kinds     *KindFilter
	start     int64
	end       int64

	conditions string
	token      string

	now func() time.Time
}

func NewBuilder() *Builder {
	return &Builder{kinds: AllKinds(), now: time.Now}
}

func (b *Builder) SetDelegatee(id string) error {
	b.delegatee = strings.TrimSpace(id)
	return b.Recompute()
}

func (b *Builder) SetKinds(f *KindFilter) error {
	if f == nil {
		f = AllKinds()
	}
	b.kinds = f
	return b.Recompute()
}

// SetValidityStart sets the earliest acceptable event timestamp, in
// unix seconds. Zero removes the clause.
func (b *Builder) SetValidityStart(unix int64) error {
	b.start = unix
	return b.Recompute()
}

// SetValidityEnd sets the latest acceptable event timestamp, in unix
// seconds. Zero removes the clause.
func (b *Builder) SetValidityEnd(unix int64) error {
	b.end = unix
	return b.Recompute()
}

// SetValidityDays derives a validity window starting now and running
// for n days.
func (b *Builder) SetValidityDays(n int) error {
	now := b.now().Unix()
	b.start = now
	b.end = now + int64(n)*86400
	return b.Recompute()
}

// Recompute rebuilds the conditions string and the unsigned token.
// Clauses appear in a fixed order regardless of setter order: kind
// restriction, then validity start, then validity end. An input set
// yielding zero clauses produces the unsatisfiable conditions string,
// never an unrestricted one. Recompute fails without touching the
// derived values when the delegatee does not parse.
func (b *Builder) Recompute() error {
	delegateePub, err := keys.DecodePublic(b.delegatee)
	if err != nil {
		return err
	}

	var clauses []string
	if kc := b.kinds.String(); kc != "" {
		clauses = append(clauses, kc)
	}
	if b.start != 0 {
		clauses = append(clauses, fmt.Sprintf("created_at>%d", b.start))
	}
	if b.end != 0 {
		clauses = append(clauses, fmt.Sprintf("created_at<%d", b.end))
	}
	if len(clauses) == 0 {
		clauses = append(clauses, "k=0&k=1")
	}

	b.conditions = strings.Join(clauses, "&")
	b.token = Token(keys.EncodePublic(delegateePub), b.conditions)
	return nil
}

// Delegatee returns the delegatee identifier as it was set.
func (b *Builder) Delegatee() string {
	return b.delegatee
}

// Conditions returns the last successfully derived conditions string.
func (b *Builder) Conditions() string {
	return b.conditions
}

// TokenPreview returns the unsigned canonical token string.
func (b *Builder) TokenPreview() string {
	return b.token
}

// Token assembles the canonical token a delegator signs.
func Token(delegateeID, conditions string) string {
	return Namespace + ":delegation:" + delegateeID + ":" + conditions
}

// Sign derives the current token and produces a delegation tag signed
// by the given identity.
func (b *Builder) Sign(signer Signer) (*Tag, error) {
	if err := b.Recompute(); err != nil {
		return nil, err
	}
	sig, err := signer.Sign([]byte(b.token))
	if err != nil {
		return nil, err
	}
	return &Tag{
		DelegatorID: signer.PublicID(),
		Conditions:  b.conditions,
		Signature:   hex.EncodeToString(sig),
	}, nil
}
