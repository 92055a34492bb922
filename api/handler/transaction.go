package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/taskledger/api/transport"
	"github.com/fastygo/taskledger/domain"
	"github.com/fastygo/taskledger/pkg/httpcontext"
	txUC "github.com/fastygo/taskledger/usecase/transaction"
)

type TransactionHandler struct {
	baseHandler
	uc            *txUC.UseCase
	submitTimeout time.Duration
}

// NewTransactionHandler needs submitTimeout to exceed the orchestrator's
// confirmation timeout so a slow ledger answers TimedOut rather than a cut connection.
func NewTransactionHandler(uc *txUC.UseCase, adapter *httpcontext.Adapter, logger *zap.Logger, submitTimeout time.Duration) *TransactionHandler {
	if submitTimeout <= 0 {
		submitTimeout = 45 * time.Second
	}
	return &TransactionHandler{
		baseHandler:   newBaseHandler(adapter, logger),
		uc:            uc,
		submitTimeout: submitTimeout,
	}
}

// @Summary Build an unsigned envelope for an operation
// @Tags transactions
// @Router /api/v1/transactions/prepare/{operation} [post]
func (h *TransactionHandler) Prepare(ctx *fasthttp.RequestCtx) {
	session, ok := h.session(ctx)
	if !ok {
		return
	}
	op, err := domain.ParseOperation(fmt.Sprint(ctx.UserValue("operation")))
	if err != nil {
		h.respondError(ctx, err)
		return
	}

	var body transport.PrepareRequest
	if raw := ctx.PostBody(); len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			h.respondInvalid(ctx, "", "invalid payload")
			return
		}
	}
	payload, err := body.Payload(op)
	if err != nil {
		h.respondError(ctx, err)
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	env, err := h.uc.Prepare(stdCtx, session, payload)
	if err != nil {
		h.requestLogger(stdCtx).Debug("prepare refused", zap.String("operation", string(op)), zap.Error(err))
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusCreated, env)
}

// @Summary Submit a signed envelope and wait for its outcome
// @Tags transactions
// @Router /api/v1/transactions/submit [post]
func (h *TransactionHandler) Submit(ctx *fasthttp.RequestCtx) {
	session, ok := h.session(ctx)
	if !ok {
		return
	}
	var signed domain.SignedEnvelope
	if err := json.Unmarshal(ctx.PostBody(), &signed); err != nil || signed.ID == "" {
		h.respondInvalid(ctx, "", "body must carry id, message and signature")
		return
	}

	reqCtx, cancel := h.submitContext(ctx)
	defer cancel()

	outcome, err := h.uc.Submit(reqCtx, session, signed)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.requestLogger(reqCtx).Info("transaction settled",
		zap.String("envelope_id", outcome.EnvelopeID),
		zap.String("status", string(outcome.Status)),
	)
	h.respondSuccess(ctx, http.StatusOK, outcome)
}

func (h *TransactionHandler) submitContext(ctx *fasthttp.RequestCtx) (context.Context, context.CancelFunc) {
	if h.adapter != nil {
		return h.adapter.AttachWithTimeout(ctx, h.submitTimeout)
	}
	return context.WithTimeout(context.Background(), h.submitTimeout)
}

// @Summary Journal status of an envelope
// @Tags transactions
// @Router /api/v1/transactions/{id} [get]
func (h *TransactionHandler) Get(ctx *fasthttp.RequestCtx) {
	session, ok := h.session(ctx)
	if !ok {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	rec, err := h.uc.Get(stdCtx, session, fmt.Sprint(ctx.UserValue("id")))
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, rec)
}

// @Summary Cancel a prepared envelope the caller declined to sign
// @Tags transactions
// @Router /api/v1/transactions/{id} [delete]
func (h *TransactionHandler) Cancel(ctx *fasthttp.RequestCtx) {
	session, ok := h.session(ctx)
	if !ok {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	if err := h.uc.Cancel(stdCtx, session, fmt.Sprint(ctx.UserValue("id"))); err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, map[string]bool{"cancelled": true})
}
