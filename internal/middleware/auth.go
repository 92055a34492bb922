package middleware

import (
	"context"
	"strings"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/taskledger/domain"
	"github.com/fastygo/taskledger/pkg/httpcontext"
)

// SessionVerifier resolves a bearer token to a live session.
type SessionVerifier interface {
	Verify(ctx context.Context, token string) (*domain.Session, error)
}

// SessionAuth admits requests carrying a valid session token and binds the
// session to the request for handlers.
func SessionAuth(verifier SessionVerifier, adapter *httpcontext.Adapter, logger *zap.Logger) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if adapter == nil {
		adapter = httpcontext.NewAdapter(0)
	}
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			tokenString := extractToken(ctx)
			if tokenString == "" {
				reject(ctx, fasthttp.StatusUnauthorized, domain.ErrUnauthorized.WithMessage("missing bearer token"))
				return
			}

			reqCtx, cancel := adapter.Attach(ctx)
			session, err := verifier.Verify(reqCtx, tokenString)
			cancel()
			if err != nil {
				logger.Debug("session rejected", zap.Error(err))
				if domain.IsDomainError(err, domain.ErrCodeUnauthorized) {
					reject(ctx, fasthttp.StatusUnauthorized, domain.ErrSessionNotFound)
					return
				}
				logger.Error("session lookup failed", zap.Error(err))
				reject(ctx, fasthttp.StatusServiceUnavailable, domain.NewError(domain.ErrCodeInternal, "session store unavailable"))
				return
			}

			httpcontext.SetSession(ctx, session)
			next(ctx)
		}
	}
}

func extractToken(ctx *fasthttp.RequestCtx) string {
	header := strings.TrimSpace(string(ctx.Request.Header.Peek("Authorization")))
	if header == "" {
		return ""
	}
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}
