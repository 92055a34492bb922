package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/fastygo/taskledger/domain"
	"github.com/fastygo/taskledger/repository/memory"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	uc    *UseCase
	clock *clock
	pub   domain.Pubkey
	priv  ed25519.PrivateKey
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	id, _ := domain.PubkeyFromBytes(pub)
	c := &clock{now: time.Now()}
	uc := New(Config{
		Secret:          "test-secret",
		Issuer:          "task-ledger-test",
		ChallengeWindow: 5 * time.Minute,
		SessionTTL:      time.Hour,
	}, memory.NewSessionRepository(time.Hour), nil, nil, WithClock(c.Now))
	return &harness{uc: uc, clock: c, pub: id, priv: priv}
}

func (h *harness) signed(ch domain.Challenge) domain.AuthRequest {
	var sig domain.Signature
	copy(sig[:], ed25519.Sign(h.priv, []byte(ch.Message)))
	return domain.AuthRequest{PublicKey: h.pub, Signature: sig, Timestamp: ch.Timestamp}
}

func TestChallengeMessageFormat(t *testing.T) {
	h := newHarness(t)
	ch := h.uc.Challenge(h.pub)
	if ch.Message != "Sign in to Task Ledger: "+strconv.FormatInt(ch.Timestamp, 10) {
		t.Fatalf("unexpected challenge %q", ch.Message)
	}
}

func TestAuthenticateWithinWindow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	ch := h.uc.Challenge(h.pub)
	h.clock.Advance(4 * time.Minute)

	token, err := h.uc.Authenticate(ctx, h.signed(ch))
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if token.PublicKey != h.pub || token.Token == "" {
		t.Fatalf("unexpected token %+v", token)
	}

	session, err := h.uc.Verify(ctx, token.Token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if session.Identity != h.pub {
		t.Fatalf("session bound to %s, want %s", session.Identity, h.pub)
	}
}

func TestAuthenticateExpiredChallenge(t *testing.T) {
	h := newHarness(t)
	ch := h.uc.Challenge(h.pub)
	h.clock.Advance(5*time.Minute + 2*time.Second)

	_, err := h.uc.Authenticate(context.Background(), h.signed(ch))
	if !errors.Is(err, domain.ErrExpiredChallenge) {
		t.Fatalf("expected ExpiredChallenge, got %v", err)
	}
}

func TestAuthenticateFutureTimestampOutsideWindow(t *testing.T) {
	h := newHarness(t)
	ch := h.uc.Challenge(h.pub)
	h.clock.Advance(-10 * time.Minute)

	_, err := h.uc.Authenticate(context.Background(), h.signed(ch))
	if !errors.Is(err, domain.ErrExpiredChallenge) {
		t.Fatalf("expected ExpiredChallenge, got %v", err)
	}
}

func TestAuthenticateInvalidSignature(t *testing.T) {
	h := newHarness(t)
	ch := h.uc.Challenge(h.pub)
	req := h.signed(ch)
	req.Signature[0] ^= 0x01

	_, err := h.uc.Authenticate(context.Background(), req)
	if !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected InvalidSignature, got %v", err)
	}

	other := newHarness(t)
	req = other.signed(ch)
	req.PublicKey = h.pub
	if _, err := h.uc.Authenticate(context.Background(), req); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("signature by another key: expected InvalidSignature, got %v", err)
	}
}

func TestAuthenticateReplayRefused(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	req := h.signed(h.uc.Challenge(h.pub))

	if _, err := h.uc.Authenticate(ctx, req); err != nil {
		t.Fatalf("first exchange: %v", err)
	}
	if _, err := h.uc.Authenticate(ctx, req); !errors.Is(err, domain.ErrChallengeReplayed) {
		t.Fatalf("expected ChallengeReplayed, got %v", err)
	}
}

func TestTokenReusableUntilExpiry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	token, err := h.uc.Authenticate(ctx, h.signed(h.uc.Challenge(h.pub)))
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	for i := 0; i < 3; i++ {
		h.clock.Advance(15 * time.Minute)
		if _, err := h.uc.Verify(ctx, token.Token); err != nil {
			t.Fatalf("use %d: %v", i, err)
		}
	}

	h.clock.Advance(20 * time.Minute)
	if _, err := h.uc.Verify(ctx, token.Token); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected an expired token to be refused, got %v", err)
	}
}

func TestRefreshAndRevoke(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	token, err := h.uc.Authenticate(ctx, h.signed(h.uc.Challenge(h.pub)))
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	session, err := h.uc.Verify(ctx, token.Token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	h.clock.Advance(50 * time.Minute)
	refreshed, err := h.uc.Refresh(ctx, session)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !refreshed.ExpiresAt.After(token.ExpiresAt) {
		t.Fatalf("refresh did not extend expiry: %s vs %s", refreshed.ExpiresAt, token.ExpiresAt)
	}
	h.clock.Advance(30 * time.Minute)
	session, err = h.uc.Verify(ctx, refreshed.Token)
	if err != nil {
		t.Fatalf("refreshed token: %v", err)
	}

	if err := h.uc.Revoke(ctx, session); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := h.uc.Verify(ctx, refreshed.Token); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected SessionNotFound after revoke, got %v", err)
	}
}

func TestVerifyRejectsForeignTokens(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	other := New(Config{Secret: "another-secret", Issuer: "task-ledger-test"}, memory.NewSessionRepository(time.Hour), nil, nil)
	token, err := other.Authenticate(ctx, h.signed(other.Challenge(h.pub)))
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if _, err := h.uc.Verify(ctx, token.Token); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected Unauthorized for a token signed with another secret, got %v", err)
	}
	if _, err := h.uc.Verify(ctx, "not-a-token"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected Unauthorized for garbage, got %v", err)
	}
}
