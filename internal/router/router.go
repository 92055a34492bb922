package router

import (
	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	apiHandler "github.com/fastygo/taskledger/api/handler"
)

type Handlers struct {
	Auth        *apiHandler.AuthHandler
	Task        *apiHandler.TaskHandler
	Transaction *apiHandler.TransactionHandler
	Health      *apiHandler.HealthHandler
	// Metrics is mounted at /metrics when set.
	Metrics fasthttp.RequestHandler
}

type Middleware func(fasthttp.RequestHandler) fasthttp.RequestHandler

// Middlewares wraps API routes; a nil entry is skipped.
type Middlewares struct {
	Auth      Middleware
	RateLimit Middleware
}

func New(handlers Handlers, mw Middlewares) *router.Router {
	r := router.New()

	limited := func(h fasthttp.RequestHandler) fasthttp.RequestHandler {
		if mw.RateLimit == nil {
			return h
		}
		return mw.RateLimit(h)
	}
	protected := func(h fasthttp.RequestHandler) fasthttp.RequestHandler {
		if mw.Auth != nil {
			h = mw.Auth(h)
		}
		return limited(h)
	}

	r.GET("/health", handlers.Health.Check)
	if handlers.Metrics != nil {
		r.GET("/metrics", handlers.Metrics)
	}

	// Auth routes
	r.GET("/api/v1/auth/challenge", limited(handlers.Auth.Challenge))
	r.POST("/api/v1/auth", limited(handlers.Auth.Login))
	r.POST("/api/v1/auth/refresh", protected(handlers.Auth.Refresh))
	r.POST("/api/v1/auth/logout", protected(handlers.Auth.Logout))

	// Read side
	r.GET("/api/v1/profile", protected(handlers.Task.GetProfile))
	r.GET("/api/v1/tasks", protected(handlers.Task.ListTasks))
	r.GET("/api/v1/tasks/{id}", protected(handlers.Task.GetTask))

	// Transaction lifecycle
	r.POST("/api/v1/transactions/prepare/{operation}", protected(handlers.Transaction.Prepare))
	r.POST("/api/v1/transactions/submit", protected(handlers.Transaction.Submit))
	r.GET("/api/v1/transactions/{id}", protected(handlers.Transaction.Get))
	r.DELETE("/api/v1/transactions/{id}", protected(handlers.Transaction.Cancel))

	return r
}
