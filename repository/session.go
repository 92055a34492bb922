package repository

import (
	"context"
	"time"

	"github.com/fastygo/taskledger/domain"
)

type SessionRepository interface {
	Get(ctx context.Context, id string) (*domain.Session, error)
	Save(ctx context.Context, session *domain.Session) error
	Delete(ctx context.Context, id string) error
	// ClaimChallenge records key for ttl and reports whether this call was the
	// first to claim it.
	ClaimChallenge(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
