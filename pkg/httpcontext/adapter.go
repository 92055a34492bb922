package httpcontext

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/fastygo/taskledger/domain"
	appLogger "github.com/fastygo/taskledger/pkg/logger"
)

// Key represents a context value key exported for reuse.
type Key string

const (
	KeyRemoteAddr Key = "remote_addr"
	KeyUserAgent  Key = "user_agent"
	KeyIdentity   Key = "identity"
)

const sessionUserValue = "taskledger.session"

// Adapter converts fasthttp.RequestCtx into a stdlib context with deadlines and metadata.
type Adapter struct {
	timeout time.Duration
	proxies *TrustedProxies
}

// NewAdapter constructs a new Adapter using the provided timeout.
func NewAdapter(timeout time.Duration) *Adapter {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Adapter{
		timeout: timeout,
	}
}

// WithTrustedProxies makes request metadata resolve the client address through proxies.
func (a *Adapter) WithTrustedProxies(proxies *TrustedProxies) *Adapter {
	a.proxies = proxies
	return a
}

// Attach creates a context with timeout derived from the adapter and enriches it with request metadata.
func (a *Adapter) Attach(ctx *fasthttp.RequestCtx) (context.Context, context.CancelFunc) {
	return a.AttachWithTimeout(ctx, a.timeout)
}

// AttachWithTimeout is Attach with a per-route deadline, for handlers that wait on the ledger.
func (a *Adapter) AttachWithTimeout(ctx *fasthttp.RequestCtx, timeout time.Duration) (context.Context, context.CancelFunc) {
	stdCtx, cancel := context.WithTimeout(context.Background(), timeout)

	reqID := getRequestID(ctx)
	stdCtx = appLogger.ContextWithRequestID(stdCtx, reqID)
	ctx.Response.Header.Set("X-Request-ID", reqID)

	stdCtx = context.WithValue(stdCtx, KeyRemoteAddr, a.proxies.ClientIP(ctx))
	if ua := string(ctx.Request.Header.UserAgent()); ua != "" {
		stdCtx = context.WithValue(stdCtx, KeyUserAgent, ua)
	}
	if session, ok := Session(ctx); ok {
		identity := session.Identity.String()
		stdCtx = context.WithValue(stdCtx, KeyIdentity, identity)
		stdCtx = appLogger.ContextWithIdentity(stdCtx, identity)
	}

	return stdCtx, cancel
}

// SetSession binds the authenticated session to the request.
func SetSession(ctx *fasthttp.RequestCtx, session *domain.Session) {
	ctx.SetUserValue(sessionUserValue, session)
}

// Session returns the session bound by SetSession.
func Session(ctx *fasthttp.RequestCtx) (*domain.Session, bool) {
	session, ok := ctx.UserValue(sessionUserValue).(*domain.Session)
	return session, ok && session != nil
}

func getRequestID(ctx *fasthttp.RequestCtx) string {
	if ctx == nil {
		return uuid.NewString()
	}
	if header := string(ctx.Request.Header.Peek("X-Request-ID")); strings.TrimSpace(header) != "" {
		return header
	}
	return uuid.NewString()
}
