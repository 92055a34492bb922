package client

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"

	"github.com/fastygo/taskledger/domain"
)

// Signer holds the identity's private key outside the service. Sign may wait
// on a human; it must return when ctx is cancelled.
type Signer interface {
	PublicKey() domain.Pubkey
	Sign(ctx context.Context, message []byte) (domain.Signature, error)
}

// ErrSigningDeclined is returned when the signer refuses or is cancelled; the
// prepared envelope is cancelled with it.
var ErrSigningDeclined = &domain.Error{
	Code:    domain.ErrCodeForbidden,
	Reason:  "SigningDeclined",
	Message: "signing declined",
}

// KeySigner signs with an in-memory ed25519 key, for tools and tests.
type KeySigner struct {
	key ed25519.PrivateKey
	pub domain.Pubkey
}

func NewKeySigner(key ed25519.PrivateKey) *KeySigner {
	var pub domain.Pubkey
	copy(pub[:], key.Public().(ed25519.PublicKey))
	return &KeySigner{key: key, pub: pub}
}

// GenerateKeySigner creates a signer for a fresh random identity.
func GenerateKeySigner() (*KeySigner, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return NewKeySigner(key), nil
}

func (s *KeySigner) PublicKey() domain.Pubkey { return s.pub }

func (s *KeySigner) Sign(ctx context.Context, message []byte) (domain.Signature, error) {
	var sig domain.Signature
	if err := ctx.Err(); err != nil {
		return sig, err
	}
	copy(sig[:], ed25519.Sign(s.key, message))
	return sig, nil
}
