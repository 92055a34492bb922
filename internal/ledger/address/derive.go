// Package address derives the storage addresses of ledger records.
//
// An address is a program-derived key: a hash of the seeds, a bump byte and the
// program id that does not decode to a point on the ed25519 curve, so no private
// key can ever sign for it.
package address

import (
	"crypto/sha256"
	"encoding/binary"

	"filippo.io/edwards25519"

	"github.com/fastygo/taskledger/domain"
)

const (
	MaxSeedLength = 32

	ProfileTag = "user-profile"
	TaskTag    = "todo"
)

var pdaMarker = []byte("ProgramDerivedAddress")

// Derive returns the first off-curve address for (tag, owner, sequence) under
// programID, scanning bump values from 255 down, together with the bump used.
func Derive(programID domain.Pubkey, tag, owner []byte, sequence *uint64) (domain.Pubkey, uint8, error) {
	if len(tag) == 0 || len(tag) > MaxSeedLength {
		return domain.Pubkey{}, 0, domain.ErrInvalidSeedLength.WithMessage("tag must be 1..%d bytes, got %d", MaxSeedLength, len(tag))
	}
	if len(owner) != domain.PubkeySize {
		return domain.Pubkey{}, 0, domain.ErrInvalidSeedLength.WithMessage("owner must be %d bytes, got %d", domain.PubkeySize, len(owner))
	}

	seeds := [][]byte{tag, owner}
	if sequence != nil {
		seeds = append(seeds, binary.LittleEndian.AppendUint64(nil, *sequence))
	}

	for bump := 255; bump >= 0; bump-- {
		candidate := hashSeeds(programID, seeds, uint8(bump))
		if !OnCurve(candidate) {
			return candidate, uint8(bump), nil
		}
	}
	// Each attempt is off-curve with probability about one half.
	return domain.Pubkey{}, 0, domain.NewError(domain.ErrCodeInternal, "no viable bump seed")
}

// hashSeeds writes the seed count and a length byte before every seed so that
// distinct (tag, owner, sequence) tuples never share a hash input.
func hashSeeds(programID domain.Pubkey, seeds [][]byte, bump uint8) domain.Pubkey {
	h := sha256.New()
	h.Write([]byte{uint8(len(seeds))})
	for _, s := range seeds {
		h.Write([]byte{uint8(len(s))})
		h.Write(s)
	}
	h.Write([]byte{bump})
	h.Write(programID[:])
	h.Write(pdaMarker)
	var out domain.Pubkey
	copy(out[:], h.Sum(nil))
	return out
}

// OnCurve reports whether key is a valid compressed ed25519 point.
func OnCurve(key domain.Pubkey) bool {
	_, err := new(edwards25519.Point).SetBytes(key[:])
	return err == nil
}

// ProfileAddress is where an identity's UserProfile lives.
func ProfileAddress(programID, owner domain.Pubkey) (domain.Pubkey, error) {
	addr, _, err := Derive(programID, []byte(ProfileTag), owner[:], nil)
	return addr, err
}

// TaskAddress is where task id of owner lives.
func TaskAddress(programID, owner domain.Pubkey, id uint64) (domain.Pubkey, error) {
	addr, _, err := Derive(programID, []byte(TaskTag), owner[:], &id)
	return addr, err
}
