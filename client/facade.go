// Package client is the single entry point for presentation code: it signs in,
// reads tasks and runs every mutation through prepare, external signing,
// submit and confirm.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fastygo/taskledger/domain"
)

type Options struct {
	MaxStaleness time.Duration
	Logger       *zap.Logger
	// Now replaces time.Now, for tests.
	Now func() time.Time
}

type Facade struct {
	backend Backend
	logger  *zap.Logger
	state   *Context

	mu     sync.RWMutex
	signer Signer
	// signIn serializes sign-in so concurrent calls share one session.
	signIn sync.Mutex
}

func New(backend Backend, signer Signer, opts Options) *Facade {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Facade{
		backend: backend,
		logger:  logger,
		state:   NewContext(signer.PublicKey(), opts.MaxStaleness, opts.Now),
		signer:  signer,
	}
}

// Context exposes the client state for inspection.
func (f *Facade) Context() *Context { return f.state }

func (f *Facade) currentSigner() Signer {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.signer
}

// SwitchSigner changes identity. The session and cache belong to the old one and are dropped.
func (f *Facade) SwitchSigner(signer Signer) {
	f.mu.Lock()
	f.signer = signer
	f.mu.Unlock()
	f.state.Reset(signer.PublicKey())
}

// SignIn signs a fresh challenge and stores the resulting session token.
func (f *Facade) SignIn(ctx context.Context) (*domain.SessionToken, error) {
	f.signIn.Lock()
	defer f.signIn.Unlock()
	return f.signInLocked(ctx)
}

// signInLocked retries once, in the next second, when the challenge timestamp
// was already claimed by an earlier sign-in.
func (f *Facade) signInLocked(ctx context.Context) (*domain.SessionToken, error) {
	token, ts, err := f.exchangeChallenge(ctx)
	if errors.Is(err, domain.ErrChallengeReplayed) {
		wait := time.NewTimer(time.Until(time.Unix(ts+1, 0)))
		defer wait.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait.C:
		}
		token, _, err = f.exchangeChallenge(ctx)
	}
	if err != nil {
		return nil, err
	}
	identity := token.PublicKey
	f.state.SetToken(token)
	f.logger.Debug("signed in", zap.String("identity", identity.String()), zap.Time("expires_at", token.ExpiresAt))
	return token, nil
}

func (f *Facade) exchangeChallenge(ctx context.Context) (*domain.SessionToken, int64, error) {
	signer := f.currentSigner()
	identity := signer.PublicKey()

	challenge, err := f.backend.Challenge(ctx, identity)
	if err != nil {
		return nil, 0, err
	}
	sig, err := signer.Sign(ctx, []byte(challenge.Message))
	if err != nil {
		return nil, challenge.Timestamp, ErrSigningDeclined.WithErr(err)
	}
	token, err := f.backend.Authenticate(ctx, domain.AuthRequest{
		PublicKey: identity,
		Signature: sig,
		Timestamp: challenge.Timestamp,
	})
	return token, challenge.Timestamp, err
}

// session returns a usable token, signing in when it is missing or about to expire.
func (f *Facade) session(ctx context.Context) (string, error) {
	if token, ok := f.state.Token(); ok {
		return token, nil
	}
	f.signIn.Lock()
	defer f.signIn.Unlock()
	if token, ok := f.state.Token(); ok {
		return token, nil
	}
	token, err := f.signInLocked(ctx)
	if err != nil {
		return "", err
	}
	return token.Token, nil
}

// authorized runs call with a token and retries once with a new session when
// the server no longer knows the old one.
func authorized[T any](ctx context.Context, f *Facade, call func(token string) (T, error)) (T, error) {
	token, err := f.session(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	out, err := call(token)
	if err == nil || !domain.IsDomainError(err, domain.ErrCodeUnauthorized) {
		return out, err
	}
	f.state.DropToken()
	if token, err = f.session(ctx); err != nil {
		var zero T
		return zero, err
	}
	return call(token)
}

// ListTasks serves the cached snapshot while it is fresh.
func (f *Facade) ListTasks(ctx context.Context) (*domain.TaskList, error) {
	if list, ok := f.state.Snapshot(); ok {
		return list, nil
	}
	return f.Refresh(ctx)
}

// Refresh re-reads the task list from the ledger and replaces the cache.
func (f *Facade) Refresh(ctx context.Context) (*domain.TaskList, error) {
	list, err := authorized(ctx, f, func(token string) (*domain.TaskList, error) {
		return f.backend.ListTasks(ctx, token)
	})
	if err != nil {
		return nil, err
	}
	f.state.Store(list)
	return list, nil
}

// Profile always reads through; domain.ErrProfileNotFound before initialization.
func (f *Facade) Profile(ctx context.Context) (*domain.UserProfile, error) {
	return authorized(ctx, f, func(token string) (*domain.UserProfile, error) {
		return f.backend.Profile(ctx, token)
	})
}

// CreateTask initializes the profile on first use and pins the prepare to the
// lastTaskId just read, so a create that already landed is never repeated.
func (f *Facade) CreateTask(ctx context.Context, description string, dueDate int64) (*domain.Outcome, error) {
	payload := domain.CreateTaskPayload{Description: description, DueDate: dueDate}
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	initialized := false
	for {
		profile, err := f.Profile(ctx)
		if errors.Is(err, domain.ErrProfileNotFound) && !initialized {
			if err := f.initialize(ctx); err != nil {
				return nil, err
			}
			initialized = true
			continue
		}
		if err != nil {
			return nil, err
		}

		last := profile.LastTaskID
		payload.ExpectedLastTaskID = &last
		outcome, err := f.execute(ctx, payload)
		if errors.Is(err, domain.ErrProfileNotFound) && !initialized {
			if err := f.initialize(ctx); err != nil {
				return nil, err
			}
			initialized = true
			continue
		}
		return outcome, err
	}
}

func (f *Facade) initialize(ctx context.Context) error {
	_, err := f.execute(ctx, domain.InitializeUserPayload{})
	if errors.Is(err, domain.ErrProfileExists) {
		return nil
	}
	return err
}

func (f *Facade) SetCompleted(ctx context.Context, taskID uint64, completed bool) (*domain.Outcome, error) {
	return f.execute(ctx, domain.UpdateStatusPayload{TaskID: taskID, Completed: completed})
}

func (f *Facade) UpdateDescription(ctx context.Context, taskID uint64, description string) (*domain.Outcome, error) {
	return f.execute(ctx, domain.UpdateDescriptionPayload{TaskID: taskID, Description: description})
}

func (f *Facade) DeleteTask(ctx context.Context, taskID uint64) (*domain.Outcome, error) {
	return f.execute(ctx, domain.DeleteTaskPayload{TaskID: taskID})
}

// execute runs one prepare, sign, submit cycle. A non-confirmed outcome is
// returned together with its typed error.
func (f *Facade) execute(ctx context.Context, payload domain.Payload) (*domain.Outcome, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	signer := f.currentSigner()

	var token string
	env, err := authorized(ctx, f, func(t string) (*domain.UnsignedEnvelope, error) {
		token = t
		return f.backend.Prepare(ctx, t, payload)
	})
	if err != nil {
		return nil, err
	}

	if env.Signer != signer.PublicKey() {
		f.cancel(ctx, token, env.ID)
		return nil, domain.ErrUnauthorized.WithMessage("envelope prepared for %s, signer is %s", env.Signer, signer.PublicKey())
	}

	sig, err := signer.Sign(ctx, env.Message)
	if err != nil {
		f.cancel(ctx, token, env.ID)
		return nil, ErrSigningDeclined.WithErr(err)
	}

	outcome, err := f.backend.Submit(ctx, token, domain.SignedEnvelope{ID: env.ID, Message: env.Message, Signature: sig})
	if err != nil {
		return nil, err
	}
	if !outcome.Confirmed() {
		return outcome, outcome.Err()
	}

	f.state.Invalidate()
	if _, err := f.Refresh(ctx); err != nil {
		f.logger.Warn("refresh after confirmation failed", zap.String("envelope_id", outcome.EnvelopeID), zap.Error(err))
	}
	return outcome, nil
}

// cancel releases a prepared envelope. It runs even when ctx was the reason
// signing stopped.
func (f *Facade) cancel(ctx context.Context, token, envelopeID string) {
	cctx, done := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer done()
	if err := f.backend.Cancel(cctx, token, envelopeID); err != nil {
		f.logger.Warn("cancel prepared envelope failed", zap.String("envelope_id", envelopeID), zap.Error(err))
	}
}
