package domain

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// Authorized is implemented by every record that carries a mutation authority.
type Authorized interface {
	AuthorityKey() Pubkey
}

func (p *UserProfile) AuthorityKey() Pubkey { return p.Authority }

func (t *TaskItem) AuthorityKey() Pubkey { return t.Authority }

// ValidateDescription enforces the 1..280 character bound.
func ValidateDescription(s string) error {
	if !utf8.ValidString(s) {
		return ErrDescriptionEncoding
	}
	n := utf8.RuneCountInString(s)
	if n == 0 {
		return ErrDescriptionEmpty
	}
	if n > MaxDescriptionLength {
		return ErrDescriptionTooLong.WithMessage("description must be %d characters or less, got %d", MaxDescriptionLength, n)
	}
	return nil
}

// ValidateDueDate accepts any int64: due dates are informational and past dates are allowed.
// Overflow is caught earlier, by ParseDueDate, where the encoding is still visible.
func ValidateDueDate(ts int64) error {
	return nil
}

// ParseDueDate decodes a decimal unix timestamp, failing only when it is not an
// integer or does not fit in a signed 64-bit value.
func ParseDueDate(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrInvalidDueDate.WithMessage("due date is required")
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, ErrInvalidDueDate.WithErr(err)
	}
	return ts, ValidateDueDate(ts)
}

// CheckAuthority fails unless signer is the record's authority.
func CheckAuthority(record Authorized, signer Pubkey) error {
	if record == nil || record.AuthorityKey() != signer {
		return ErrUnauthorizedAccess
	}
	return nil
}
