package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/taskledger/api/transport"
	"github.com/fastygo/taskledger/domain"
	"github.com/fastygo/taskledger/pkg/httpcontext"
	appLogger "github.com/fastygo/taskledger/pkg/logger"
)

type baseHandler struct {
	adapter *httpcontext.Adapter
	logger  *zap.Logger
}

func newBaseHandler(adapter *httpcontext.Adapter, logger *zap.Logger) baseHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return baseHandler{adapter: adapter, logger: logger}
}

func (h baseHandler) requestContext(ctx *fasthttp.RequestCtx) (context.Context, context.CancelFunc) {
	if h.adapter != nil {
		return h.adapter.Attach(ctx)
	}
	return context.WithCancel(context.Background())
}

func (h baseHandler) respondJSON(ctx *fasthttp.RequestCtx, status int, payload transport.Envelope) {
	ctx.Response.Header.SetContentType("application/json")
	ctx.SetStatusCode(status)
	body, _ := json.Marshal(payload)
	ctx.SetBody(body)
}

func (h baseHandler) respondSuccess(ctx *fasthttp.RequestCtx, status int, data interface{}) {
	h.respondJSON(ctx, status, transport.NewSuccess(data, nil))
}

func (h baseHandler) respondError(ctx *fasthttp.RequestCtx, err error) {
	status, code := mapError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.ByteString("path", ctx.Path()),
			zap.String("code", code),
			zap.Error(err),
		)
	}
	h.respondJSON(ctx, status, transport.NewError(code, transport.NewErrorBody(err), nil))
}

func (h baseHandler) respondInvalid(ctx *fasthttp.RequestCtx, field, message string) {
	err := domain.ErrInvalidPayload.WithMessage("%s", message)
	err.Field = field
	h.respondError(ctx, err)
}

// session returns the session bound by the auth middleware, answering 401 itself when absent.
func (h baseHandler) session(ctx *fasthttp.RequestCtx) (*domain.Session, bool) {
	session, ok := httpcontext.Session(ctx)
	if !ok {
		h.respondError(ctx, domain.ErrUnauthorized)
		return nil, false
	}
	return session, true
}

// requestLogger is the handler logger tagged with the request id and identity.
func (h baseHandler) requestLogger(ctx context.Context) *zap.Logger {
	return appLogger.WithRequestID(ctx, h.logger)
}

func mapError(err error) (int, string) {
	switch {
	case domain.IsDomainError(err, domain.ErrCodeUnauthorized):
		return http.StatusUnauthorized, string(domain.ErrCodeUnauthorized)
	case domain.IsDomainError(err, domain.ErrCodeForbidden):
		return http.StatusForbidden, string(domain.ErrCodeForbidden)
	case domain.IsDomainError(err, domain.ErrCodeInvalid):
		return http.StatusBadRequest, string(domain.ErrCodeInvalid)
	case domain.IsDomainError(err, domain.ErrCodeNotFound):
		return http.StatusNotFound, string(domain.ErrCodeNotFound)
	case domain.IsDomainError(err, domain.ErrCodeConflict):
		return http.StatusConflict, string(domain.ErrCodeConflict)
	case domain.IsDomainError(err, domain.ErrCodeRejected):
		return http.StatusUnprocessableEntity, string(domain.ErrCodeRejected)
	case domain.IsDomainError(err, domain.ErrCodeTimedOut):
		return http.StatusGatewayTimeout, string(domain.ErrCodeTimedOut)
	case domain.IsDomainError(err, domain.ErrCodeRateLimited):
		return http.StatusTooManyRequests, string(domain.ErrCodeRateLimited)
	default:
		return http.StatusInternalServerError, string(domain.ErrCodeInternal)
	}
}
