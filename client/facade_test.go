package client

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fastygo/taskledger/domain"
	"github.com/fastygo/taskledger/internal/ledger/local"
	"github.com/fastygo/taskledger/repository/memory"
	authUC "github.com/fastygo/taskledger/usecase/auth"
	taskUC "github.com/fastygo/taskledger/usecase/task"
	txUC "github.com/fastygo/taskledger/usecase/transaction"
)

type stack struct {
	backend *LocalBackend
	ledger  *local.Ledger
}

func newStack(t *testing.T) *stack {
	t.Helper()
	programID := domain.HashedPubkey("client/test")
	l := local.New(local.Options{ProgramID: programID})
	reader := taskUC.New(l, programID, nil)
	return &stack{
		ledger: l,
		backend: &LocalBackend{
			Auth: authUC.New(authUC.Config{Secret: "client-test-secret", Issuer: "client-test"},
				memory.NewSessionRepository(time.Hour), nil, nil),
			Tasks: reader,
			Transactions: txUC.New(l, reader, memory.NewJournal(), txUC.Config{
				PollInterval:   2 * time.Millisecond,
				ConfirmTimeout: 200 * time.Millisecond,
				PreparedTTL:    time.Minute,
			}, nil, nil),
		},
	}
}

func newSigner(t *testing.T) *KeySigner {
	t.Helper()
	s, err := GenerateKeySigner()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}
	return s
}

// countingBackend records how often reads and prepares reach the service.
type countingBackend struct {
	Backend
	lists    atomic.Int32
	prepares atomic.Int32
}

func (c *countingBackend) ListTasks(ctx context.Context, token string) (*domain.TaskList, error) {
	c.lists.Add(1)
	return c.Backend.ListTasks(ctx, token)
}

func (c *countingBackend) Prepare(ctx context.Context, token string, payload domain.Payload) (*domain.UnsignedEnvelope, error) {
	c.prepares.Add(1)
	return c.Backend.Prepare(ctx, token, payload)
}

// decliningSigner signs sign-in challenges but refuses envelopes while decline is set.
type decliningSigner struct {
	*KeySigner
	decline atomic.Bool
}

func (s *decliningSigner) Sign(ctx context.Context, message []byte) (domain.Signature, error) {
	if s.decline.Load() && !strings.HasPrefix(string(message), authUC.DefaultChallengePrefix) {
		return domain.Signature{}, errors.New("user declined")
	}
	return s.KeySigner.Sign(ctx, message)
}

func runBuyMilkScenario(t *testing.T, f *Facade) {
	t.Helper()
	ctx := context.Background()
	due := time.Now().Add(24 * time.Hour).Unix()

	created, err := f.CreateTask(ctx, "Buy milk", due)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created.Confirmed() || created.TaskID != 1 {
		t.Fatalf("expected confirmed id 1, got %+v", created)
	}
	list, err := f.ListTasks(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list.Tasks) != 1 || list.Tasks[0].Description != "Buy milk" || list.Tasks[0].Completed || list.Tasks[0].DueDate != due {
		t.Fatalf("unexpected tasks after create: %+v", list.Tasks)
	}

	if _, err := f.SetCompleted(ctx, 1, true); err != nil {
		t.Fatalf("set completed: %v", err)
	}
	list, _ = f.ListTasks(ctx)
	if !list.Tasks[0].Completed || list.Tasks[0].Description != "Buy milk" {
		t.Fatalf("unexpected task after completion: %+v", list.Tasks[0])
	}

	if _, err := f.DeleteTask(ctx, 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	profile, err := f.Profile(ctx)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile.TaskCount != 0 || profile.LastTaskID != 1 {
		t.Fatalf("unexpected profile after delete: %+v", profile)
	}

	next, err := f.CreateTask(ctx, "Buy bread", due)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if next.TaskID != 2 {
		t.Fatalf("ids must not be reused: got %d", next.TaskID)
	}
	list, _ = f.ListTasks(ctx)
	if len(list.Tasks) != 1 || list.Tasks[0].ID != 2 {
		t.Fatalf("unexpected final tasks: %+v", list.Tasks)
	}
}

func TestBuyMilkScenario(t *testing.T) {
	s := newStack(t)
	runBuyMilkScenario(t, New(s.backend, newSigner(t), Options{}))
}

func TestValidationNeverReachesBackend(t *testing.T) {
	s := newStack(t)
	backend := &countingBackend{Backend: s.backend}
	f := New(backend, newSigner(t), Options{})

	_, err := f.CreateTask(context.Background(), strings.Repeat("a", domain.MaxDescriptionLength+1), 0)
	if !errors.Is(err, domain.ErrDescriptionTooLong) {
		t.Fatalf("expected DescriptionTooLong, got %v", err)
	}
	var dErr *domain.Error
	if !errors.As(err, &dErr) || dErr.Field != "description" {
		t.Fatalf("expected field-bound error, got %#v", err)
	}
	if _, err := f.UpdateDescription(context.Background(), 1, ""); !errors.Is(err, domain.ErrDescriptionEmpty) {
		t.Fatalf("expected DescriptionEmpty, got %v", err)
	}
	if backend.prepares.Load() != 0 {
		t.Fatalf("invalid payloads reached prepare %d times", backend.prepares.Load())
	}
}

func TestSigningDeclinedCancelsEnvelope(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	signer := &decliningSigner{KeySigner: newSigner(t)}
	f := New(s.backend, signer, Options{})

	if _, err := f.CreateTask(ctx, "Buy milk", 0); err != nil {
		t.Fatalf("create: %v", err)
	}

	signer.decline.Store(true)
	if _, err := f.CreateTask(ctx, "Walk dog", 0); !errors.Is(err, ErrSigningDeclined) {
		t.Fatalf("expected SigningDeclined, got %v", err)
	}
	profile, _ := f.Profile(ctx)
	if profile.LastTaskID != 1 {
		t.Fatalf("declined create must leave no trace, profile %+v", profile)
	}

	signer.decline.Store(false)
	out, err := f.CreateTask(ctx, "Walk dog", 0)
	if err != nil || out.TaskID != 2 {
		t.Fatalf("create after decline: %+v %v", out, err)
	}
}

func TestCancelledContextStopsCycle(t *testing.T) {
	s := newStack(t)
	f := New(s.backend, newSigner(t), Options{})
	if _, err := f.SignIn(context.Background()); err != nil {
		t.Fatalf("sign in: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.execute(ctx, domain.InitializeUserPayload{}); err == nil {
		t.Fatalf("expected cancelled context to stop the cycle")
	}
}

func TestNotFoundSurfacesDistinctly(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	f := New(s.backend, newSigner(t), Options{})

	if _, err := f.Profile(ctx); !errors.Is(err, domain.ErrProfileNotFound) {
		t.Fatalf("expected ProfileNotFound, got %v", err)
	}
	if _, err := f.CreateTask(ctx, "Buy milk", 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.SetCompleted(ctx, 7, true); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Fatalf("expected TaskNotFound, got %v", err)
	}
}

func TestSnapshotStaleness(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	backend := &countingBackend{Backend: s.backend}
	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	f := New(backend, newSigner(t), Options{MaxStaleness: time.Minute, Now: clock})

	if _, err := f.ListTasks(ctx); err != nil {
		t.Fatalf("list: %v", err)
	}
	if _, err := f.ListTasks(ctx); err != nil {
		t.Fatalf("list: %v", err)
	}
	if backend.lists.Load() != 1 {
		t.Fatalf("fresh snapshot should be served from cache, got %d reads", backend.lists.Load())
	}

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()
	if _, err := f.ListTasks(ctx); err != nil {
		t.Fatalf("list: %v", err)
	}
	if backend.lists.Load() != 2 {
		t.Fatalf("stale snapshot should be re-read, got %d reads", backend.lists.Load())
	}

	before := backend.lists.Load()
	if _, err := f.CreateTask(ctx, "Buy milk", 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	if backend.lists.Load() <= before {
		t.Fatalf("confirmation should refresh the snapshot")
	}
	list, _ := f.ListTasks(ctx)
	if len(list.Tasks) != 1 {
		t.Fatalf("cache not refreshed after confirm: %+v", list)
	}
}

func TestSessionIsRenewedAfterRevocation(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	f := New(s.backend, newSigner(t), Options{})

	token, err := f.SignIn(ctx)
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	session, err := s.backend.Auth.Verify(ctx, token.Token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := s.backend.Auth.Revoke(ctx, session); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	if _, err := f.Refresh(ctx); err != nil {
		t.Fatalf("refresh after revocation: %v", err)
	}
	renewed, ok := f.Context().Token()
	if !ok || renewed == token.Token {
		t.Fatalf("expected a new session token")
	}
}

func TestSwitchSignerIsolatesIdentities(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	alice, bob := newSigner(t), newSigner(t)
	f := New(s.backend, alice, Options{})

	if _, err := f.CreateTask(ctx, "alice's task", 0); err != nil {
		t.Fatalf("alice create: %v", err)
	}

	f.SwitchSigner(bob)
	if f.Context().Identity() != bob.PublicKey() {
		t.Fatalf("context not rebound")
	}
	list, err := f.ListTasks(ctx)
	if err != nil {
		t.Fatalf("bob list: %v", err)
	}
	if list.Profile != nil || len(list.Tasks) != 0 {
		t.Fatalf("bob must not see alice's state: %+v", list)
	}
	out, err := f.CreateTask(ctx, "bob's task", 0)
	if err != nil || out.TaskID != 1 {
		t.Fatalf("bob's ids start at 1: %+v %v", out, err)
	}
}

func TestConcurrentCreatesThroughFacade(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	f := New(s.backend, newSigner(t), Options{})
	if _, err := f.CreateTask(ctx, "first", 0); err != nil {
		t.Fatalf("create: %v", err)
	}

	const writers = 3
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for attempt := 0; attempt < 200; attempt++ {
				_, err := f.CreateTask(ctx, "concurrent", 0)
				if err == nil {
					return
				}
				if domain.IsDomainError(err, domain.ErrCodeConflict) || domain.IsDomainError(err, domain.ErrCodeRejected) {
					time.Sleep(time.Millisecond)
					continue
				}
				errs <- err
				return
			}
			errs <- errors.New("writer gave up")
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("writer failed: %v", err)
	}

	list, err := f.Refresh(ctx)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(list.Tasks) != writers+1 {
		t.Fatalf("expected %d tasks, got %d", writers+1, len(list.Tasks))
	}
	for i, item := range list.Tasks {
		if item.ID != uint64(i+1) {
			t.Fatalf("ids must be dense and ordered: %+v", list.Tasks)
		}
	}
	if list.Profile.TaskCount != writers+1 || list.Profile.LastTaskID != writers+1 {
		t.Fatalf("unexpected profile %+v", list.Profile)
	}
}
