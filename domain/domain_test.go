package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateDescriptionBounds(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want error
	}{
		{"empty", "", ErrDescriptionEmpty},
		{"one", "a", nil},
		{"max", strings.Repeat("a", 280), nil},
		{"too long", strings.Repeat("a", 281), ErrDescriptionTooLong},
		{"multibyte max", strings.Repeat("é", 280), nil},
		{"bad utf8", "\xff", ErrDescriptionEncoding},
	}
	for _, tc := range cases {
		err := ValidateDescription(tc.in)
		if tc.want == nil && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if tc.want != nil && !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestParseDueDate(t *testing.T) {
	if ts, err := ParseDueDate("-86400"); err != nil || ts != -86400 {
		t.Fatalf("past dates are allowed: %d %v", ts, err)
	}
	if ts, err := ParseDueDate(" 9223372036854775807 "); err != nil || ts != 1<<63-1 {
		t.Fatalf("max int64: %d %v", ts, err)
	}
	for _, raw := range []string{"", "9223372036854775808", "1.5", "tomorrow"} {
		if _, err := ParseDueDate(raw); !errors.Is(err, ErrInvalidDueDate) {
			t.Fatalf("%q: expected InvalidDueDate, got %v", raw, err)
		}
	}
}

func TestRecordLayoutRoundTrip(t *testing.T) {
	owner := HashedPubkey("owner")
	addr := HashedPubkey("addr")
	item := &TaskItem{ID: 7, Description: "Buy milk", Completed: true, DueDate: -5, Owner: owner, Authority: owner}
	got, err := DecodeTaskItem(addr, EncodeTaskItem(item))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	item.Address = addr
	if *got != *item {
		t.Fatalf("expected %+v, got %+v", item, got)
	}

	profile := EncodeUserProfile(&UserProfile{Authority: owner, TaskCount: 2, LastTaskID: 3})
	if len(profile) != UserProfileSize {
		t.Fatalf("profile size %d, want %d", len(profile), UserProfileSize)
	}
	if _, err := DecodeTaskItem(addr, profile); !IsDomainError(err, ErrCodeInvalid) {
		t.Fatalf("a profile must not decode as a task: %v", err)
	}
	if _, err := DecodeUserProfile(addr, profile[:UserProfileSize-1]); err == nil {
		t.Fatalf("truncated profile decoded")
	}
}

func TestErrorChainReasons(t *testing.T) {
	err := PreparationFailed(ErrTaskNotFound.WithMessage("task %d not found", 4))
	if !errors.Is(err, ErrTaskNotFound) || !HasReason(err, "TaskNotFound") {
		t.Fatalf("cause lost: %v", err)
	}
	if CodeOf(err) != ErrCodeNotFound {
		t.Fatalf("code %s, want NOT_FOUND", CodeOf(err))
	}
	if inner := Innermost(err); inner == nil || inner.Reason != "TaskNotFound" {
		t.Fatalf("innermost %+v", inner)
	}
	if errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("reasons must not collide")
	}
}

func TestOutcomeErr(t *testing.T) {
	if err := (&Outcome{Status: OutcomeConfirmed}).Err(); err != nil {
		t.Fatalf("confirmed outcome returned %v", err)
	}
	if err := (&Outcome{Status: OutcomeRejected, LedgerError: "x"}).Err(); !IsDomainError(err, ErrCodeRejected) {
		t.Fatalf("rejected outcome returned %v", err)
	}
	if err := (&Outcome{Status: OutcomeTimedOut}).Err(); !IsDomainError(err, ErrCodeTimedOut) {
		t.Fatalf("timed out outcome returned %v", err)
	}
}

func TestPubkeyText(t *testing.T) {
	p := HashedPubkey("alice")
	var back Pubkey
	if err := back.UnmarshalText([]byte(p.String())); err != nil || back != p {
		t.Fatalf("pubkey text round trip: %v", err)
	}
	if _, err := ParsePubkey("not-base58-0OIl"); err == nil {
		t.Fatalf("invalid base58 accepted")
	}
}
