// Package memory holds in-process repository adapters for single-node runs and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/fastygo/taskledger/domain"
	"github.com/fastygo/taskledger/repository"
)

type sessionRepository struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
	claims   map[string]time.Time
	ttl      time.Duration
	now      func() time.Time
}

// NewSessionRepository creates a map-backed session repository.
func NewSessionRepository(ttl time.Duration) repository.SessionRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &sessionRepository{
		sessions: make(map[string]domain.Session),
		claims:   make(map[string]time.Time),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (r *sessionRepository) Get(_ context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if s.IsExpired(r.now()) {
		delete(r.sessions, id)
		return nil, domain.ErrSessionNotFound
	}
	return &s, nil
}

func (r *sessionRepository) Save(_ context.Context, session *domain.Session) error {
	if session == nil || session.ID == "" {
		return domain.ErrInvalidPayload
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = r.now()
	}
	if session.ExpiresAt.Before(session.CreatedAt) {
		session.ExpiresAt = session.CreatedAt.Add(r.ttl)
	}
	r.sessions[session.ID] = *session
	return nil
}

func (r *sessionRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

func (r *sessionRepository) ClaimChallenge(_ context.Context, key string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for k, exp := range r.claims {
		if !exp.After(now) {
			delete(r.claims, k)
		}
	}
	if _, taken := r.claims[key]; taken {
		return false, nil
	}
	r.claims[key] = now.Add(ttl)
	return true, nil
}
