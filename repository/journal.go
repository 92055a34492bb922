package repository

import (
	"context"
	"time"

	"github.com/fastygo/taskledger/domain"
)

// JournalFilter selects journal records. Zero values match everything.
type JournalFilter struct {
	Identity      domain.Pubkey
	Operation     domain.Operation
	States        []domain.TxState
	UpdatedBefore time.Time
	Limit         int
}

// TransactionJournal persists the lifecycle of every prepared envelope.
type TransactionJournal interface {
	Create(ctx context.Context, record *domain.TxRecord) error
	// Get returns domain.ErrEnvelopeNotFound for unknown ids.
	Get(ctx context.Context, id string) (*domain.TxRecord, error)
	// Transition stores record only if the persisted state is still from, and
	// returns domain.ErrStateConflict otherwise.
	Transition(ctx context.Context, record *domain.TxRecord, from domain.TxState) error
	List(ctx context.Context, filter JournalFilter) ([]domain.TxRecord, error)
}

// Matches applies filter to one record; adapters without a query engine use it.
func (f JournalFilter) Matches(r *domain.TxRecord) bool {
	if !f.Identity.IsZero() && r.Identity != f.Identity {
		return false
	}
	if f.Operation != "" && r.Operation != f.Operation {
		return false
	}
	if !f.UpdatedBefore.IsZero() && !r.UpdatedAt.Before(f.UpdatedBefore) {
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	for _, s := range f.States {
		if r.State == s {
			return true
		}
	}
	return false
}

// ClampLimit bounds list sizes.
func ClampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 500
	}
	return limit
}
