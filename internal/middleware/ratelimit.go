package middleware

import (
	"strings"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fastygo/taskledger/domain"
	"github.com/fastygo/taskledger/internal/metrics"
	"github.com/fastygo/taskledger/pkg/httpcontext"
)

// MapLimiter applies a token bucket per client key and periodically evicts idle entries.
type MapLimiter struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	byKey   map[string]*limiterEntry
	hits    uint64
	idleTTL time.Duration
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMapLimiter returns nil when rps or burst is not positive; a nil limiter admits everything.
func NewMapLimiter(rps float64, burst int, idleTTL time.Duration) *MapLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &MapLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		byKey:   make(map[string]*limiterEntry),
		idleTTL: idleTTL,
	}
}

// Allow reports whether one token can be consumed for the key at now.
func (l *MapLimiter) Allow(key string, now time.Time) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byKey[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byKey[key] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%512 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.byKey {
			if v.lastSeen.Before(cutoff) {
				delete(l.byKey, k)
			}
		}
	}
	return allowed
}

// Len is the number of tracked clients.
func (l *MapLimiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byKey)
}

// RateLimit refuses requests over the client's budget with 429. Clients are
// keyed by socket address; X-Forwarded-For counts only when sent by one of proxies.
func RateLimit(limiter *MapLimiter, proxies *httpcontext.TrustedProxies, m *metrics.Metrics, logger *zap.Logger) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		if limiter == nil {
			return next
		}
		return func(ctx *fasthttp.RequestCtx) {
			ip := proxies.ClientIP(ctx)
			if !limiter.Allow(ip, time.Now()) {
				m.RateLimited()
				logger.Debug("rate limited", zap.String("client", ip), zap.ByteString("path", ctx.Path()))
				ctx.Response.Header.Set("Retry-After", "1")
				reject(ctx, fasthttp.StatusTooManyRequests, domain.ErrRateLimited)
				return
			}
			next(ctx)
		}
	}
}
