package handler

import (
	"encoding/json"
	"net/http"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/taskledger/api/transport"
	"github.com/fastygo/taskledger/domain"
	"github.com/fastygo/taskledger/pkg/httpcontext"
	authUC "github.com/fastygo/taskledger/usecase/auth"
)

type AuthHandler struct {
	baseHandler
	uc *authUC.UseCase
}

func NewAuthHandler(uc *authUC.UseCase, adapter *httpcontext.Adapter, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		baseHandler: newBaseHandler(adapter, logger),
		uc:          uc,
	}
}

// @Summary Issue a sign-in challenge
// @Tags auth
// @Router /api/v1/auth/challenge [get]
func (h *AuthHandler) Challenge(ctx *fasthttp.RequestCtx) {
	identity, err := domain.ParsePubkey(string(ctx.QueryArgs().Peek("public_key")))
	if err != nil {
		h.respondInvalid(ctx, "public_key", "public_key must be a base58 ed25519 key")
		return
	}
	h.respondSuccess(ctx, http.StatusOK, h.uc.Challenge(identity))
}

// @Summary Exchange a signed challenge for a session token
// @Tags auth
// @Router /api/v1/auth [post]
func (h *AuthHandler) Login(ctx *fasthttp.RequestCtx) {
	var body transport.AuthRequest
	if err := json.Unmarshal(ctx.PostBody(), &body); err != nil {
		h.respondInvalid(ctx, "", "invalid payload")
		return
	}
	req, err := body.Domain()
	if err != nil {
		h.respondError(ctx, err)
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	token, err := h.uc.Authenticate(stdCtx, req)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusCreated, token)
}

// @Summary Extend the current session
// @Tags auth
// @Router /api/v1/auth/refresh [post]
func (h *AuthHandler) Refresh(ctx *fasthttp.RequestCtx) {
	session, ok := h.session(ctx)
	if !ok {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	token, err := h.uc.Refresh(stdCtx, session)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, token)
}

// @Summary Revoke the current session
// @Tags auth
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) Logout(ctx *fasthttp.RequestCtx) {
	session, ok := h.session(ctx)
	if !ok {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	if err := h.uc.Revoke(stdCtx, session); err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, map[string]bool{"revoked": true})
}
