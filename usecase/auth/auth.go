// Package auth exchanges a signed challenge for a session token. Signing the
// challenge proves key control; the resulting token grants API access only.
package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fastygo/taskledger/domain"
	"github.com/fastygo/taskledger/internal/metrics"
	"github.com/fastygo/taskledger/repository"
)

const DefaultChallengePrefix = "Sign in to Task Ledger"

type Config struct {
	Secret          string
	Issuer          string
	ChallengePrefix string
	ChallengeWindow time.Duration
	SessionTTL      time.Duration
}

type UseCase struct {
	cfg      Config
	secret   []byte
	sessions repository.SessionRepository
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

type Option func(*UseCase)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(uc *UseCase) { uc.now = now }
}

func New(cfg Config, sessions repository.SessionRepository, m *metrics.Metrics, logger *zap.Logger, opts ...Option) *UseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ChallengePrefix == "" {
		cfg.ChallengePrefix = DefaultChallengePrefix
	}
	if cfg.ChallengeWindow <= 0 {
		cfg.ChallengeWindow = 5 * time.Minute
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	secret := []byte(cfg.Secret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			panic(fmt.Sprintf("auth: generate secret: %v", err))
		}
		logger.Warn("JWT secret not configured; using an ephemeral one, tokens will not survive a restart")
	}
	uc := &UseCase{
		cfg:      cfg,
		secret:   secret,
		sessions: sessions,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// Challenge returns the message the identity must sign, stamped with the current time.
func (uc *UseCase) Challenge(identity domain.Pubkey) domain.Challenge {
	ts := uc.now().Unix()
	return domain.Challenge{Message: uc.challengeMessage(ts), Timestamp: ts}
}

func (uc *UseCase) challengeMessage(ts int64) string {
	return uc.cfg.ChallengePrefix + ": " + strconv.FormatInt(ts, 10)
}

// Authenticate verifies a signed challenge and opens a session.
func (uc *UseCase) Authenticate(ctx context.Context, req domain.AuthRequest) (token *domain.SessionToken, err error) {
	defer func() { uc.metrics.AuthAttempt(err) }()

	now := uc.now()
	skew := now.Sub(time.Unix(req.Timestamp, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > uc.cfg.ChallengeWindow {
		return nil, domain.ErrExpiredChallenge
	}

	message := []byte(uc.challengeMessage(req.Timestamp))
	if !ed25519.Verify(ed25519.PublicKey(req.PublicKey[:]), message, req.Signature[:]) {
		return nil, domain.ErrInvalidSignature
	}

	// ed25519 signatures are deterministic, so (identity, timestamp) names the signature too.
	claimed, err := uc.sessions.ClaimChallenge(ctx, req.PublicKey.String()+":"+strconv.FormatInt(req.Timestamp, 10), 2*uc.cfg.ChallengeWindow)
	if err != nil {
		return nil, domain.WrapError(domain.ErrCodeInternal, "claim challenge", err)
	}
	if !claimed {
		return nil, domain.ErrChallengeReplayed
	}

	session := &domain.Session{
		ID:        uuid.NewString(),
		Identity:  req.PublicKey,
		CreatedAt: now,
		ExpiresAt: now.Add(uc.cfg.SessionTTL),
	}
	if err := uc.sessions.Save(ctx, session); err != nil {
		return nil, domain.WrapError(domain.ErrCodeInternal, "save session", err)
	}

	uc.logger.Info("session opened", zap.String("identity", req.PublicKey.String()), zap.String("session_id", session.ID))
	return uc.issue(session)
}

// Verify resolves a bearer token to a live session.
func (uc *UseCase) Verify(ctx context.Context, raw string) (*domain.Session, error) {
	claims := &jwt.RegisteredClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return uc.secret, nil
	}); err != nil {
		return nil, domain.ErrUnauthorized.WithErr(err)
	}
	now := uc.now()
	if !claims.VerifyExpiresAt(now, true) || !claims.VerifyIssuer(uc.cfg.Issuer, uc.cfg.Issuer != "") {
		return nil, domain.ErrUnauthorized.WithMessage("token expired or issued elsewhere")
	}
	identity, err := domain.ParsePubkey(claims.Subject)
	if err != nil {
		return nil, domain.ErrUnauthorized.WithErr(err)
	}

	session, err := uc.sessions.Get(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, err
		}
		return nil, domain.WrapError(domain.ErrCodeInternal, "load session", err)
	}
	if session.Identity != identity {
		return nil, domain.ErrUnauthorized.WithMessage("token does not match its session")
	}
	if session.IsExpired(now) {
		_ = uc.sessions.Delete(ctx, session.ID)
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

// Refresh extends a live session by SessionTTL and issues a fresh token.
func (uc *UseCase) Refresh(ctx context.Context, session *domain.Session) (*domain.SessionToken, error) {
	if session == nil {
		return nil, domain.ErrUnauthorized
	}
	refreshed := *session
	refreshed.ExpiresAt = uc.now().Add(uc.cfg.SessionTTL)
	if err := uc.sessions.Save(ctx, &refreshed); err != nil {
		return nil, domain.WrapError(domain.ErrCodeInternal, "save session", err)
	}
	return uc.issue(&refreshed)
}

// Revoke ends a session; tokens naming it stop verifying.
func (uc *UseCase) Revoke(ctx context.Context, session *domain.Session) error {
	if session == nil {
		return nil
	}
	if err := uc.sessions.Delete(ctx, session.ID); err != nil {
		return domain.WrapError(domain.ErrCodeInternal, "delete session", err)
	}
	uc.logger.Info("session revoked", zap.String("session_id", session.ID))
	return nil
}

func (uc *UseCase) issue(session *domain.Session) (*domain.SessionToken, error) {
	now := uc.now()
	claims := jwt.RegisteredClaims{
		Subject:   session.Identity.String(),
		ID:        session.ID,
		Issuer:    uc.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(uc.secret)
	if err != nil {
		return nil, domain.WrapError(domain.ErrCodeInternal, "sign token", err)
	}
	return &domain.SessionToken{
		Token:     signed,
		ExpiresIn: int64(session.ExpiresAt.Sub(now).Seconds()),
		ExpiresAt: session.ExpiresAt,
		PublicKey: session.Identity,
	}, nil
}
