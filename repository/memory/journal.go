package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/fastygo/taskledger/domain"
	"github.com/fastygo/taskledger/repository"
)

type journal struct {
	mu      sync.RWMutex
	records map[string]domain.TxRecord
}

// NewJournal creates a map-backed transaction journal.
func NewJournal() repository.TransactionJournal {
	return &journal{records: make(map[string]domain.TxRecord)}
}

func (j *journal) Create(_ context.Context, record *domain.TxRecord) error {
	if record == nil || record.ID == "" {
		return domain.ErrInvalidPayload
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, exists := j.records[record.ID]; exists {
		return domain.ErrStateConflict.WithMessage("envelope %s already journaled", record.ID)
	}
	j.records[record.ID] = cloneRecord(*record)
	return nil
}

func (j *journal) Get(_ context.Context, id string) (*domain.TxRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	r, ok := j.records[id]
	if !ok {
		return nil, domain.ErrEnvelopeNotFound
	}
	r = cloneRecord(r)
	return &r, nil
}

func (j *journal) Transition(_ context.Context, record *domain.TxRecord, from domain.TxState) error {
	if record == nil {
		return domain.ErrInvalidPayload
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	current, ok := j.records[record.ID]
	if !ok {
		return domain.ErrEnvelopeNotFound
	}
	if current.State != from {
		return domain.ErrStateConflict.WithMessage("envelope %s is %s, expected %s", record.ID, current.State, from)
	}
	j.records[record.ID] = cloneRecord(*record)
	return nil
}

func (j *journal) List(_ context.Context, filter repository.JournalFilter) ([]domain.TxRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var out []domain.TxRecord
	for _, r := range j.records {
		if filter.Matches(&r) {
			out = append(out, cloneRecord(r))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	if limit := repository.ClampLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneRecord(r domain.TxRecord) domain.TxRecord {
	r.MessageHash = append([]byte(nil), r.MessageHash...)
	return r
}
