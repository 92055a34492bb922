package client

import (
	"sync"
	"time"

	"github.com/fastygo/taskledger/domain"
)

// DefaultMaxStaleness bounds how long a cached task list is served without a re-read.
const DefaultMaxStaleness = 30 * time.Second

// tokenSkew renews a session slightly before the server would refuse it.
const tokenSkew = 5 * time.Second

// Context is the facade's explicit client state: the session token and a
// read-only snapshot of the identity's records. The snapshot is a cache; it
// is dropped after every confirmed mutation and when older than MaxStaleness.
type Context struct {
	mu           sync.RWMutex
	identity     domain.Pubkey
	token        *domain.SessionToken
	snapshot     *domain.TaskList
	fetchedAt    time.Time
	maxStaleness time.Duration
	now          func() time.Time
}

func NewContext(identity domain.Pubkey, maxStaleness time.Duration, now func() time.Time) *Context {
	if maxStaleness <= 0 {
		maxStaleness = DefaultMaxStaleness
	}
	if now == nil {
		now = time.Now
	}
	return &Context{identity: identity, maxStaleness: maxStaleness, now: now}
}

func (c *Context) Identity() domain.Pubkey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// Token returns the session token while it is still usable.
func (c *Context) Token() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token.Expired(c.now().Add(tokenSkew)) {
		return "", false
	}
	return c.token.Token, true
}

func (c *Context) SetToken(token *domain.SessionToken) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// DropToken forgets the session, forcing the next call to sign in again.
func (c *Context) DropToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = nil
}

// Snapshot returns the cached list when it is fresh.
func (c *Context) Snapshot() (*domain.TaskList, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snapshot == nil || c.now().Sub(c.fetchedAt) > c.maxStaleness {
		return nil, false
	}
	return c.snapshot, true
}

// FetchedAt is when the cached list was read; zero when nothing is cached.
func (c *Context) FetchedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchedAt
}

func (c *Context) Store(list *domain.TaskList) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = list
	c.fetchedAt = c.now()
}

func (c *Context) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = nil
	c.fetchedAt = time.Time{}
}

// Reset rebinds the context to another identity and clears everything else.
func (c *Context) Reset(identity domain.Pubkey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = identity
	c.token = nil
	c.snapshot = nil
	c.fetchedAt = time.Time{}
}
