package transaction

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/fastygo/taskledger/domain"
	"github.com/fastygo/taskledger/repository"
)

// Reconcile settles journal records nobody is waiting on any more: envelopes
// that were sent but never resolved, and prepared envelopes that were never
// signed. It returns how many records reached a terminal state.
func (uc *UseCase) Reconcile(ctx context.Context, limit int) (int, error) {
	now := uc.now()
	settled := 0

	// Records younger than ConfirmTimeout may still belong to a live Submit.
	inflight, err := uc.journal.List(ctx, repository.JournalFilter{
		States:        []domain.TxState{domain.TxSigned, domain.TxSubmitted, domain.TxTimedOut},
		UpdatedBefore: now.Add(-uc.cfg.ConfirmTimeout),
		Limit:         limit,
	})
	if err != nil {
		return 0, err
	}
	for i := range inflight {
		rec := &inflight[i]
		to, ledgerErr, slot, ok := uc.settle(ctx, rec)
		if !ok {
			continue
		}
		if uc.settleRecord(ctx, rec, to, ledgerErr, slot) {
			settled++
		}
	}

	stale, err := uc.journal.List(ctx, repository.JournalFilter{
		States:        []domain.TxState{domain.TxPrepared},
		UpdatedBefore: now.Add(-uc.cfg.PreparedTTL),
		Limit:         limit,
	})
	if err != nil {
		return settled, err
	}
	for i := range stale {
		if uc.settleRecord(ctx, &stale[i], domain.TxExpired, "", 0) {
			settled++
		}
	}
	return settled, nil
}

func (uc *UseCase) settle(ctx context.Context, rec *domain.TxRecord) (domain.TxState, string, uint64, bool) {
	sig, err := domain.ParseSignature(rec.Signature)
	if err != nil {
		return domain.TxExpired, "", 0, true
	}
	state, ledgerErr, slot, resolved := uc.resolve(ctx, rec.Anchor, sig)
	if !resolved {
		return "", "", 0, false
	}
	if state == domain.TxFailed && ledgerErr == anchorExpired {
		return domain.TxExpired, "", 0, true
	}
	return state, ledgerErr, slot, true
}

func (uc *UseCase) settleRecord(ctx context.Context, rec *domain.TxRecord, to domain.TxState, ledgerErr string, slot uint64) bool {
	from := rec.State
	rec.LedgerError, rec.Slot = ledgerErr, slot
	if err := uc.transition(ctx, rec, from, to); err != nil {
		if !errors.Is(err, domain.ErrStateConflict) {
			uc.logger.Warn("reconcile transition failed", zap.String("envelope_id", rec.ID), zap.Error(err))
		}
		return false
	}
	uc.metrics.Reconciled(string(to))
	uc.logger.Info("envelope reconciled",
		zap.String("envelope_id", rec.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return true
}
