package client

import (
	"context"

	"github.com/fastygo/taskledger/domain"
	authUC "github.com/fastygo/taskledger/usecase/auth"
	taskUC "github.com/fastygo/taskledger/usecase/task"
	txUC "github.com/fastygo/taskledger/usecase/transaction"
)

// Backend is the service as the facade sees it. HTTPBackend reaches it over
// the network; LocalBackend calls the use cases in-process.
type Backend interface {
	Challenge(ctx context.Context, identity domain.Pubkey) (domain.Challenge, error)
	Authenticate(ctx context.Context, req domain.AuthRequest) (*domain.SessionToken, error)
	Profile(ctx context.Context, token string) (*domain.UserProfile, error)
	ListTasks(ctx context.Context, token string) (*domain.TaskList, error)
	Prepare(ctx context.Context, token string, payload domain.Payload) (*domain.UnsignedEnvelope, error)
	Submit(ctx context.Context, token string, signed domain.SignedEnvelope) (*domain.Outcome, error)
	Cancel(ctx context.Context, token, envelopeID string) error
}

// LocalBackend runs prepare and submit in the caller's process.
type LocalBackend struct {
	Auth         *authUC.UseCase
	Tasks        *taskUC.UseCase
	Transactions *txUC.UseCase
}

var _ Backend = (*LocalBackend)(nil)

func (b *LocalBackend) Challenge(_ context.Context, identity domain.Pubkey) (domain.Challenge, error) {
	return b.Auth.Challenge(identity), nil
}

func (b *LocalBackend) Authenticate(ctx context.Context, req domain.AuthRequest) (*domain.SessionToken, error) {
	return b.Auth.Authenticate(ctx, req)
}

func (b *LocalBackend) Profile(ctx context.Context, token string) (*domain.UserProfile, error) {
	session, err := b.Auth.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	return b.Tasks.GetProfile(ctx, session.Identity)
}

func (b *LocalBackend) ListTasks(ctx context.Context, token string) (*domain.TaskList, error) {
	session, err := b.Auth.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	return b.Tasks.ListTasks(ctx, session.Identity)
}

func (b *LocalBackend) Prepare(ctx context.Context, token string, payload domain.Payload) (*domain.UnsignedEnvelope, error) {
	session, err := b.Auth.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	return b.Transactions.Prepare(ctx, session, payload)
}

func (b *LocalBackend) Submit(ctx context.Context, token string, signed domain.SignedEnvelope) (*domain.Outcome, error) {
	session, err := b.Auth.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	return b.Transactions.Submit(ctx, session, signed)
}

func (b *LocalBackend) Cancel(ctx context.Context, token, envelopeID string) error {
	session, err := b.Auth.Verify(ctx, token)
	if err != nil {
		return err
	}
	return b.Transactions.Cancel(ctx, session, envelopeID)
}
