package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/fastygo/taskledger/api/transport"
	"github.com/fastygo/taskledger/domain"
)

const defaultHTTPTimeout = 45 * time.Second

// HTTPBackend talks to the service's REST routes.
type HTTPBackend struct {
	client  *fasthttp.Client
	baseURL string
	timeout time.Duration
}

type HTTPOption func(*HTTPBackend)

// WithHTTPClient replaces the default fasthttp client, e.g. to dial an in-memory listener.
func WithHTTPClient(c *fasthttp.Client) HTTPOption {
	return func(b *HTTPBackend) { b.client = c }
}

// WithTimeout bounds every request; it must cover the server's confirmation timeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(b *HTTPBackend) { b.timeout = d }
}

func NewHTTPBackend(baseURL string, opts ...HTTPOption) *HTTPBackend {
	b := &HTTPBackend{
		client:  &fasthttp.Client{Name: "taskledger-client"},
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: defaultHTTPTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

var _ Backend = (*HTTPBackend)(nil)

func (b *HTTPBackend) Challenge(ctx context.Context, identity domain.Pubkey) (domain.Challenge, error) {
	var ch domain.Challenge
	err := b.do(ctx, fasthttp.MethodGet, "/api/v1/auth/challenge?public_key="+url.QueryEscape(identity.String()), "", nil, &ch)
	return ch, err
}

func (b *HTTPBackend) Authenticate(ctx context.Context, req domain.AuthRequest) (*domain.SessionToken, error) {
	body := transport.AuthRequest{
		PublicKey: req.PublicKey.String(),
		Signature: req.Signature.String(),
		Timestamp: req.Timestamp,
	}
	var token domain.SessionToken
	if err := b.do(ctx, fasthttp.MethodPost, "/api/v1/auth", "", body, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

func (b *HTTPBackend) Profile(ctx context.Context, token string) (*domain.UserProfile, error) {
	var profile domain.UserProfile
	if err := b.do(ctx, fasthttp.MethodGet, "/api/v1/profile", token, nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (b *HTTPBackend) ListTasks(ctx context.Context, token string) (*domain.TaskList, error) {
	var list domain.TaskList
	if err := b.do(ctx, fasthttp.MethodGet, "/api/v1/tasks", token, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (b *HTTPBackend) Prepare(ctx context.Context, token string, payload domain.Payload) (*domain.UnsignedEnvelope, error) {
	var env domain.UnsignedEnvelope
	path := "/api/v1/transactions/prepare/" + string(payload.Operation())
	if err := b.do(ctx, fasthttp.MethodPost, path, token, transport.NewPrepareRequest(payload), &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func (b *HTTPBackend) Submit(ctx context.Context, token string, signed domain.SignedEnvelope) (*domain.Outcome, error) {
	var outcome domain.Outcome
	if err := b.do(ctx, fasthttp.MethodPost, "/api/v1/transactions/submit", token, signed, &outcome); err != nil {
		return nil, err
	}
	return &outcome, nil
}

func (b *HTTPBackend) Cancel(ctx context.Context, token, envelopeID string) error {
	return b.do(ctx, fasthttp.MethodDelete, "/api/v1/transactions/"+url.PathEscape(envelopeID), token, nil, nil)
}

func (b *HTTPBackend) do(ctx context.Context, method, path, token string, body, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(b.baseURL + path)
	req.Header.SetMethod(method)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return domain.WrapError(domain.ErrCodeInvalid, "encode request", err)
		}
		req.Header.SetContentType("application/json")
		req.SetBody(raw)
	}

	deadline := time.Now().Add(b.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := b.client.DoDeadline(req, resp, deadline); err != nil {
		if errors.Is(err, fasthttp.ErrTimeout) {
			return domain.WrapError(domain.ErrCodeTimedOut, "request timed out", err)
		}
		return domain.WrapError(domain.ErrCodeInternal, "request failed", err)
	}

	var env transport.ResponseEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return domain.WrapError(domain.ErrCodeInternal, fmt.Sprintf("unexpected response (status %d)", resp.StatusCode()), err)
	}
	if env.Failed() {
		if env.Error == nil {
			return domain.NewError(domain.ErrCodeInternal, fmt.Sprintf("request failed with status %d", resp.StatusCode()))
		}
		return env.Error.Err(env.Code)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return domain.WrapError(domain.ErrCodeInternal, "decode response", err)
	}
	return nil
}
