package postgres

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fastygo/taskledger/domain"
	"github.com/fastygo/taskledger/internal/config"
	pgInfra "github.com/fastygo/taskledger/internal/infrastructure/postgres"
	"github.com/fastygo/taskledger/repository"
)

// newTestJournal connects to TEST_DATABASE_URL and applies the journal migrations.
func newTestJournal(t *testing.T) repository.TransactionJournal {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	cfg := &config.Config{
		Database:   config.DatabaseConfig{URL: dsn, Name: "taskledger"},
		Migrations: config.MigrationsConfig{Enabled: true, Path: "../../assets/migrations"},
	}
	if err := pgInfra.RunMigrations(cfg, nil); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	return NewJournalRepository(pool)
}

func newRecord(identity domain.Pubkey) *domain.TxRecord {
	return &domain.TxRecord{
		ID:          uuid.NewString(),
		Identity:    identity,
		Operation:   domain.OpCreateTask,
		State:       domain.TxPrepared,
		MessageHash: []byte{1, 2, 3},
		TaskID:      1,
	}
}

func TestPostgresJournalTransitionIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)
	rec := newRecord(domain.HashedPubkey(uuid.NewString()))
	if err := j.Create(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := j.Create(ctx, rec); !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("duplicate create should conflict, got %v", err)
	}

	// Two writers race from prepared; exactly one may win.
	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, to := range []domain.TxState{domain.TxSigned, domain.TxCancelled} {
		wg.Add(1)
		go func(i int, to domain.TxState) {
			defer wg.Done()
			next := *rec
			next.State = to
			results[i] = j.Transition(ctx, &next, domain.TxPrepared)
		}(i, to)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case !errors.Is(err, domain.ErrStateConflict):
			t.Fatalf("unexpected transition error %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning transition, got %d", wins)
	}

	got, err := j.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != domain.TxSigned && got.State != domain.TxCancelled {
		t.Fatalf("unexpected state %s", got.State)
	}
	if got.Identity != rec.Identity || got.TaskID != 1 {
		t.Fatalf("record fields not preserved: %+v", got)
	}

	missing := newRecord(rec.Identity)
	if err := j.Transition(ctx, missing, domain.TxPrepared); !errors.Is(err, domain.ErrEnvelopeNotFound) {
		t.Fatalf("expected EnvelopeNotFound for an unknown envelope, got %v", err)
	}
}

func TestPostgresJournalListFilters(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)
	identity := domain.HashedPubkey(uuid.NewString())

	first, second := newRecord(identity), newRecord(identity)
	second.State = domain.TxTimedOut
	second.CreatedAt = time.Now().Add(time.Second)
	for _, rec := range []*domain.TxRecord{first, second} {
		if err := j.Create(ctx, rec); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	out, err := j.List(ctx, repository.JournalFilter{Identity: identity})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 2 || out[0].ID != first.ID {
		t.Fatalf("expected both records oldest first, got %+v", out)
	}
	out, _ = j.List(ctx, repository.JournalFilter{Identity: identity, States: []domain.TxState{domain.TxTimedOut}})
	if len(out) != 1 || out[0].ID != second.ID {
		t.Fatalf("state filter returned %+v", out)
	}
}
