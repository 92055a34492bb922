package middleware

import (
	"encoding/json"

	"github.com/valyala/fasthttp"

	"github.com/fastygo/taskledger/api/transport"
	"github.com/fastygo/taskledger/domain"
)

func reject(ctx *fasthttp.RequestCtx, status int, err *domain.Error) {
	body, _ := json.Marshal(transport.NewError(string(err.Code), transport.NewErrorBody(err), nil))
	ctx.Response.Header.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(body)
}
