package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/taskledger/pkg/httpcontext"
	taskUC "github.com/fastygo/taskledger/usecase/task"
)

type TaskHandler struct {
	baseHandler
	uc *taskUC.UseCase
}

func NewTaskHandler(uc *taskUC.UseCase, adapter *httpcontext.Adapter, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		baseHandler: newBaseHandler(adapter, logger),
		uc:          uc,
	}
}

// @Summary Current identity's profile
// @Tags profile
// @Router /api/v1/profile [get]
func (h *TaskHandler) GetProfile(ctx *fasthttp.RequestCtx) {
	session, ok := h.session(ctx)
	if !ok {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	profile, err := h.uc.GetProfile(stdCtx, session.Identity)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, profile)
}

// @Summary Profile and tasks ordered by id
// @Tags tasks
// @Router /api/v1/tasks [get]
func (h *TaskHandler) ListTasks(ctx *fasthttp.RequestCtx) {
	session, ok := h.session(ctx)
	if !ok {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	list, err := h.uc.ListTasks(stdCtx, session.Identity)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, list)
}

// @Summary Single task
// @Tags tasks
// @Router /api/v1/tasks/{id} [get]
func (h *TaskHandler) GetTask(ctx *fasthttp.RequestCtx) {
	session, ok := h.session(ctx)
	if !ok {
		return
	}
	id, err := taskIDParam(ctx)
	if err != nil {
		h.respondInvalid(ctx, "task_id", err.Error())
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	item, err := h.uc.GetTask(stdCtx, session.Identity, id)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, item)
}

func taskIDParam(ctx *fasthttp.RequestCtx) (uint64, error) {
	raw := fmt.Sprint(ctx.UserValue("id"))
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("task id must be a positive integer, got %q", raw)
	}
	return id, nil
}
