package task

import (
	"context"
	"errors"
	"testing"

	"github.com/fastygo/taskledger/domain"
	"github.com/fastygo/taskledger/internal/ledger"
	"github.com/fastygo/taskledger/internal/ledger/local"
)

var testProgram = domain.HashedPubkey("task/test")

type countingClient struct {
	ledger.Client
	scans     int
	requested int
}

func (c *countingClient) ProgramAccounts(ctx context.Context, program domain.Pubkey, discriminator []byte) ([]ledger.Account, error) {
	c.scans++
	return c.Client.ProgramAccounts(ctx, program, discriminator)
}

func (c *countingClient) Accounts(ctx context.Context, addrs []domain.Pubkey) ([]*ledger.Account, error) {
	c.requested += len(addrs)
	return c.Client.Accounts(ctx, addrs)
}

type seeder struct {
	t      *testing.T
	store  *local.MemoryStore
	client *countingClient
	uc     *UseCase
}

func newSeeder(t *testing.T) *seeder {
	store := local.NewMemoryStore()
	client := &countingClient{Client: local.New(local.Options{ProgramID: testProgram, Store: store})}
	return &seeder{t: t, store: store, client: client, uc: New(client, testProgram, nil)}
}

func (s *seeder) put(owner domain.Pubkey, addr domain.Pubkey, data []byte) {
	s.t.Helper()
	if err := s.store.Commit([]ledger.Account{{Address: addr, Owner: owner, Data: data}}, nil); err != nil {
		s.t.Fatalf("commit: %v", err)
	}
}

func (s *seeder) profile(identity domain.Pubkey, count, last uint64) {
	s.t.Helper()
	addr, err := s.uc.Addresses().Profile(identity)
	if err != nil {
		s.t.Fatalf("profile address: %v", err)
	}
	s.put(testProgram, addr, domain.EncodeUserProfile(&domain.UserProfile{Authority: identity, TaskCount: count, LastTaskID: last}))
}

func (s *seeder) task(identity domain.Pubkey, id uint64, description string) {
	s.t.Helper()
	addr, err := s.uc.Addresses().Task(identity, id)
	if err != nil {
		s.t.Fatalf("task address: %v", err)
	}
	s.put(testProgram, addr, domain.EncodeTaskItem(&domain.TaskItem{
		ID: id, Description: description, Owner: identity, Authority: identity,
	}))
}

func TestListTasksBeforeInitialization(t *testing.T) {
	s := newSeeder(t)
	list, err := s.uc.ListTasks(context.Background(), domain.HashedPubkey("nobody"))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if list.Profile != nil || list.Tasks == nil || len(list.Tasks) != 0 {
		t.Fatalf("expected empty list with nil profile, got %+v", list)
	}
	if _, err := s.uc.GetProfile(context.Background(), domain.HashedPubkey("nobody")); !errors.Is(err, domain.ErrProfileNotFound) {
		t.Fatalf("expected ProfileNotFound, got %v", err)
	}
}

func TestListTasksFiltersByOwnerAndSorts(t *testing.T) {
	s := newSeeder(t)
	alice, bob := domain.HashedPubkey("alice"), domain.HashedPubkey("bob")
	s.profile(alice, 3, 4)
	s.profile(bob, 1, 1)
	for _, id := range []uint64{4, 1, 3} {
		s.task(alice, id, "alice")
	}
	s.task(bob, 1, "bob")

	list, err := s.uc.ListTasks(context.Background(), alice)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if list.Profile == nil || list.Profile.LastTaskID != 4 {
		t.Fatalf("unexpected profile %+v", list.Profile)
	}
	var ids []uint64
	for _, item := range list.Tasks {
		if item.Owner != alice {
			t.Fatalf("foreign task listed: %+v", item)
		}
		ids = append(ids, item.ID)
	}
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 3 || ids[2] != 4 {
		t.Fatalf("expected ids 1,3,4 got %v", ids)
	}
}

func TestGetTaskIgnoresForeignPrograms(t *testing.T) {
	s := newSeeder(t)
	alice := domain.HashedPubkey("alice")
	s.task(alice, 1, "mine")

	item, err := s.uc.GetTask(context.Background(), alice, 1)
	if err != nil || item.Description != "mine" {
		t.Fatalf("get: %+v %v", item, err)
	}

	addr, _ := s.uc.Addresses().Task(alice, 2)
	s.put(domain.HashedPubkey("other/program"), addr, domain.EncodeTaskItem(&domain.TaskItem{ID: 2, Description: "spoof", Owner: alice, Authority: alice}))
	if _, err := s.uc.GetTask(context.Background(), alice, 2); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Fatalf("expected TaskNotFound for a foreign-owned account, got %v", err)
	}
}

func TestListTasksReadsOnlyTheOwnersAddresses(t *testing.T) {
	s := newSeeder(t)
	alice, bob := domain.HashedPubkey("alice"), domain.HashedPubkey("bob")
	s.profile(alice, 2, 3)
	s.task(alice, 1, "one")
	s.task(alice, 3, "three")
	s.profile(bob, 600, 600)
	for id := uint64(1); id <= 600; id++ {
		s.task(bob, id, "bob")
	}

	list, err := s.uc.ListTasks(context.Background(), alice)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list.Tasks) != 2 || list.Tasks[0].ID != 1 || list.Tasks[1].ID != 3 {
		t.Fatalf("unexpected tasks %+v", list.Tasks)
	}
	if s.client.scans != 0 {
		t.Fatalf("listing one owner scanned the whole program %d times", s.client.scans)
	}
	if s.client.requested != 3 {
		t.Fatalf("expected 3 addresses read, got %d", s.client.requested)
	}

	s.client.requested = 0
	list, err = s.uc.ListTasks(context.Background(), bob)
	if err != nil || len(list.Tasks) != 600 {
		t.Fatalf("bob list: %d tasks, %v", len(list.Tasks), err)
	}
	if list.Tasks[599].ID != 600 || s.client.requested != 600 {
		t.Fatalf("batched read returned last id %d after %d addresses", list.Tasks[599].ID, s.client.requested)
	}
}
