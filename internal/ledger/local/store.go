package local

import (
	"bytes"
	"sort"
	"sync"

	"github.com/fastygo/taskledger/domain"
	"github.com/fastygo/taskledger/internal/ledger"
)

// AccountStore persists committed ledger accounts.
type AccountStore interface {
	Get(addr domain.Pubkey) (ledger.Account, bool, error)
	// Scan returns accounts owned by owner whose data starts with prefix, ordered by address.
	Scan(owner domain.Pubkey, prefix []byte) ([]ledger.Account, error)
	// Commit applies puts and deletes atomically.
	Commit(puts []ledger.Account, deletes []domain.Pubkey) error
	Close() error
}

// MemoryStore keeps accounts in a map.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[domain.Pubkey]ledger.Account
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[domain.Pubkey]ledger.Account)}
}

func (s *MemoryStore) Get(addr domain.Pubkey) (ledger.Account, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[addr]
	if !ok {
		return ledger.Account{}, false, nil
	}
	return cloneAccount(acc), true, nil
}

func (s *MemoryStore) Scan(owner domain.Pubkey, prefix []byte) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ledger.Account
	for _, acc := range s.accounts {
		if acc.Owner == owner && bytes.HasPrefix(acc.Data, prefix) {
			out = append(out, cloneAccount(acc))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Address[:], out[j].Address[:]) < 0
	})
	return out, nil
}

func (s *MemoryStore) Commit(puts []ledger.Account, deletes []domain.Pubkey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, addr := range deletes {
		delete(s.accounts, addr)
	}
	for _, acc := range puts {
		s.accounts[acc.Address] = cloneAccount(acc)
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func cloneAccount(acc ledger.Account) ledger.Account {
	acc.Data = append([]byte(nil), acc.Data...)
	return acc
}
