package domain

import "time"

// Session is the server-side half of a session token. It is bound to one
// identity and grants API access only, never signing authority.
type Session struct {
	ID        string            `json:"id"`
	Identity  Pubkey            `json:"identity"`
	ExpiresAt time.Time         `json:"expires_at"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func (s *Session) IsExpired(reference time.Time) bool {
	if s == nil {
		return true
	}
	if reference.IsZero() {
		reference = time.Now()
	}
	return !s.ExpiresAt.After(reference)
}

// Challenge is the message an identity signs to prove key control.
type Challenge struct {
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// AuthRequest carries a signed challenge back to the server.
type AuthRequest struct {
	PublicKey Pubkey    `json:"public_key"`
	Signature Signature `json:"signature"`
	Timestamp int64     `json:"timestamp"`
}

// SessionToken is what a successful sign-in returns.
type SessionToken struct {
	Token     string    `json:"token"`
	ExpiresIn int64     `json:"expires_in"`
	ExpiresAt time.Time `json:"expires_at"`
	PublicKey Pubkey    `json:"public_key"`
}

// Expired reports whether the token should be replaced before use.
func (t *SessionToken) Expired(reference time.Time) bool {
	return t == nil || t.Token == "" || !t.ExpiresAt.After(reference)
}
