package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fastygo/taskledger/domain"
	"github.com/fastygo/taskledger/repository"
)

func TestJournalTransitionIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	j := NewJournal()
	rec := &domain.TxRecord{ID: "env-1", State: domain.TxPrepared, MessageHash: []byte{1, 2}}
	rec.Touch(time.Now())
	if err := j.Create(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := j.Create(ctx, rec); !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("expected duplicate create to conflict, got %v", err)
	}

	submitted := *rec
	submitted.State = domain.TxSubmitted
	if err := j.Transition(ctx, &submitted, domain.TxPrepared); err != nil {
		t.Fatalf("transition: %v", err)
	}

	cancelled := *rec
	cancelled.State = domain.TxCancelled
	if err := j.Transition(ctx, &cancelled, domain.TxPrepared); !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("stale transition must conflict, got %v", err)
	}

	got, err := j.Get(ctx, "env-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != domain.TxSubmitted {
		t.Fatalf("expected submitted, got %s", got.State)
	}
	got.MessageHash[0] = 9
	again, _ := j.Get(ctx, "env-1")
	if again.MessageHash[0] != 1 {
		t.Fatalf("journal leaked internal storage")
	}

	if _, err := j.Get(ctx, "missing"); !errors.Is(err, domain.ErrEnvelopeNotFound) {
		t.Fatalf("expected EnvelopeNotFound, got %v", err)
	}
}

func TestJournalListFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	j := NewJournal()
	alice, bob := domain.HashedPubkey("alice"), domain.HashedPubkey("bob")
	base := time.Unix(1_700_000_000, 0)
	seed := []domain.TxRecord{
		{ID: "c", Identity: alice, State: domain.TxSubmitted, CreatedAt: base.Add(2 * time.Second), UpdatedAt: base.Add(2 * time.Second)},
		{ID: "a", Identity: alice, State: domain.TxSubmitted, CreatedAt: base, UpdatedAt: base},
		{ID: "b", Identity: bob, State: domain.TxSubmitted, CreatedAt: base.Add(time.Second), UpdatedAt: base.Add(time.Second)},
		{ID: "d", Identity: alice, State: domain.TxConfirmed, CreatedAt: base.Add(3 * time.Second), UpdatedAt: base.Add(3 * time.Second)},
	}
	for i := range seed {
		if err := j.Create(ctx, &seed[i]); err != nil {
			t.Fatalf("create %s: %v", seed[i].ID, err)
		}
	}

	out, err := j.List(ctx, repository.JournalFilter{Identity: alice, States: []domain.TxState{domain.TxSubmitted}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 2 || out[0].ID != "a" || out[1].ID != "c" {
		t.Fatalf("unexpected records %+v", out)
	}

	out, _ = j.List(ctx, repository.JournalFilter{UpdatedBefore: base.Add(time.Second), Limit: 10})
	if len(out) != 1 || out[0].ID != "a" {
		t.Fatalf("expected only the oldest record, got %+v", out)
	}
}

func TestSessionExpiry(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(time.Minute).(*sessionRepository)
	now := time.Unix(1_700_000_000, 0)
	repo.now = func() time.Time { return now }

	if err := repo.Save(ctx, &domain.Session{ID: "s1", Identity: domain.HashedPubkey("alice")}); err != nil {
		t.Fatalf("save: %v", err)
	}
	s, err := repo.Get(ctx, "s1")
	if err != nil || !s.ExpiresAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("expected default ttl applied, got %+v %v", s, err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := repo.Get(ctx, "s1"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected expired session to be gone, got %v", err)
	}
}

func TestClaimChallengeOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository(time.Minute).(*sessionRepository)
	now := time.Unix(1_700_000_000, 0)
	repo.now = func() time.Time { return now }

	ok, err := repo.ClaimChallenge(ctx, "alice:1700000000", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first claim: %v %v", ok, err)
	}
	if ok, _ := repo.ClaimChallenge(ctx, "alice:1700000000", time.Minute); ok {
		t.Fatalf("second claim must be refused")
	}

	now = now.Add(2 * time.Minute)
	if ok, _ := repo.ClaimChallenge(ctx, "alice:1700000000", time.Minute); !ok {
		t.Fatalf("claim should be reusable after it expires")
	}
}
