package client

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	apiHandler "github.com/fastygo/taskledger/api/handler"
	"github.com/fastygo/taskledger/domain"
	"github.com/fastygo/taskledger/internal/infrastructure/monitor"
	"github.com/fastygo/taskledger/internal/middleware"
	"github.com/fastygo/taskledger/internal/router"
	"github.com/fastygo/taskledger/pkg/httpcontext"
)

func serveHTTP(t *testing.T, s *stack) *HTTPBackend {
	t.Helper()
	adapter := httpcontext.NewAdapter(time.Second)
	r := router.New(router.Handlers{
		Auth:        apiHandler.NewAuthHandler(s.backend.Auth, adapter, nil),
		Task:        apiHandler.NewTaskHandler(s.backend.Tasks, adapter, nil),
		Transaction: apiHandler.NewTransactionHandler(s.backend.Transactions, adapter, nil, 2*time.Second),
		Health:      apiHandler.NewHealthHandler(monitor.New(time.Hour, nil), adapter, nil),
	}, router.Middlewares{
		Auth: middleware.SessionAuth(s.backend.Auth, adapter, nil),
	})

	ln := fasthttputil.NewInmemoryListener()
	server := &fasthttp.Server{Handler: r.Handler}
	go func() { _ = server.Serve(ln) }()
	t.Cleanup(func() {
		_ = server.Shutdown()
		_ = ln.Close()
	})

	client := &fasthttp.Client{
		Dial: func(string) (net.Conn, error) { return ln.Dial() },
	}
	return NewHTTPBackend("http://taskledger.test/", WithHTTPClient(client), WithTimeout(5*time.Second))
}

func TestBuyMilkScenarioOverHTTP(t *testing.T) {
	s := newStack(t)
	runBuyMilkScenario(t, New(serveHTTP(t, s), newSigner(t), Options{}))
}

func TestHTTPErrorsKeepTheirReason(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	backend := serveHTTP(t, s)
	f := New(backend, newSigner(t), Options{})

	if _, err := f.Profile(ctx); !errors.Is(err, domain.ErrProfileNotFound) {
		t.Fatalf("expected ProfileNotFound over HTTP, got %v", err)
	}
	if _, err := f.CreateTask(ctx, "Buy milk", 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := f.SetCompleted(ctx, 9, true)
	if !errors.Is(err, domain.ErrTaskNotFound) || !domain.HasReason(err, "PreparationFailed") {
		t.Fatalf("expected PreparationFailed(TaskNotFound), got %v", err)
	}

	if _, err := backend.ListTasks(ctx, "not-a-token"); !domain.IsDomainError(err, domain.ErrCodeUnauthorized) {
		t.Fatalf("expected UNAUTHORIZED for a bad token, got %v", err)
	}
}

func TestNonAuthorityIsRefusedOverHTTP(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	backend := serveHTTP(t, s)
	alice, mallory := newSigner(t), newSigner(t)

	owner := New(backend, alice, Options{})
	if _, err := owner.CreateTask(ctx, "Buy milk", 0); err != nil {
		t.Fatalf("create: %v", err)
	}

	intruder := New(backend, mallory, Options{})
	token, err := intruder.SignIn(ctx)
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	_, err = backend.Prepare(ctx, token.Token, domain.UpdateStatusPayload{TaskID: 1, Owner: alice.PublicKey(), Completed: true})
	if !errors.Is(err, domain.ErrUnauthorizedAccess) {
		t.Fatalf("expected UnauthorizedAccess, got %v", err)
	}

	list, _ := owner.Refresh(ctx)
	if list.Tasks[0].Completed {
		t.Fatalf("record changed by a non-authority")
	}
}
