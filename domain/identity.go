package domain

import (
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58/base58"
)

const (
	PubkeySize    = 32
	SignatureSize = 64
	HashSize      = 32
)

// Pubkey is a 32-byte ed25519 public identity or a derived storage address.
type Pubkey [PubkeySize]byte

// Signature is a 64-byte ed25519 signature.
type Signature [SignatureSize]byte

// Hash identifies a ledger block; anchors are hashes.
type Hash [HashSize]byte

// PubkeyFromBytes copies b into a Pubkey, failing when the length is wrong.
func PubkeyFromBytes(b []byte) (Pubkey, error) {
	var p Pubkey
	if len(b) != PubkeySize {
		return p, NewError(ErrCodeInvalid, fmt.Sprintf("public key must be %d bytes, got %d", PubkeySize, len(b)))
	}
	copy(p[:], b)
	return p, nil
}

// ParsePubkey decodes a base58 identity.
func ParsePubkey(s string) (Pubkey, error) {
	raw, err := base58.Decode(s)
	if err != nil || s == "" {
		return Pubkey{}, WrapError(ErrCodeInvalid, "invalid public key", err)
	}
	return PubkeyFromBytes(raw)
}

// HashedPubkey derives a stable identifier from a label, used for default program ids.
func HashedPubkey(label string) Pubkey {
	return Pubkey(sha256.Sum256([]byte(label)))
}

func (p Pubkey) String() string { return base58.Encode(p[:]) }

func (p Pubkey) IsZero() bool { return p == Pubkey{} }

func (p Pubkey) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Pubkey) UnmarshalText(text []byte) error {
	parsed, err := ParsePubkey(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParseSignature decodes a base58 signature.
func ParseSignature(s string) (Signature, error) {
	var sig Signature
	raw, err := base58.Decode(s)
	if err != nil || s == "" {
		return sig, WrapError(ErrCodeInvalid, "invalid signature encoding", err)
	}
	if len(raw) != SignatureSize {
		return sig, NewError(ErrCodeInvalid, fmt.Sprintf("signature must be %d bytes, got %d", SignatureSize, len(raw)))
	}
	copy(sig[:], raw)
	return sig, nil
}

func (s Signature) String() string { return base58.Encode(s[:]) }

func (s Signature) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Signature) UnmarshalText(text []byte) error {
	parsed, err := ParseSignature(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseHash decodes a base58 block hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	raw, err := base58.Decode(s)
	if err != nil || len(raw) != HashSize {
		return h, WrapError(ErrCodeInvalid, "invalid anchor hash", err)
	}
	copy(h[:], raw)
	return h, nil
}

func (h Hash) String() string { return base58.Encode(h[:]) }

func (h Hash) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
