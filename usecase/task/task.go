// Package task is the read side: it decodes profile and task records straight
// from ledger state.
package task

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/fastygo/taskledger/domain"
	"github.com/fastygo/taskledger/internal/ledger"
	"github.com/fastygo/taskledger/internal/ledger/program"
)

// readBatch bounds the addresses requested in one ledger read.
const readBatch = 256

type UseCase struct {
	ledger ledger.Client
	addrs  program.Addresses
	logger *zap.Logger
}

func New(client ledger.Client, programID domain.Pubkey, logger *zap.Logger) *UseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UseCase{
		ledger: client,
		addrs:  program.Addresses{ProgramID: programID},
		logger: logger,
	}
}

// Addresses exposes the derivation bound to this program.
func (uc *UseCase) Addresses() program.Addresses { return uc.addrs }

// GetProfile fails with domain.ErrProfileNotFound when identity never initialized.
func (uc *UseCase) GetProfile(ctx context.Context, identity domain.Pubkey) (*domain.UserProfile, error) {
	addr, err := uc.addrs.Profile(identity)
	if err != nil {
		return nil, err
	}
	acc, err := uc.ledger.Account(ctx, addr)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return nil, domain.ErrProfileNotFound
		}
		return nil, domain.WrapError(domain.ErrCodeInternal, "read profile", err)
	}
	if acc.Owner != uc.addrs.ProgramID {
		return nil, domain.ErrProfileNotFound
	}
	return domain.DecodeUserProfile(addr, acc.Data)
}

// GetTask reads task id of owner; domain.ErrTaskNotFound when it does not exist.
func (uc *UseCase) GetTask(ctx context.Context, owner domain.Pubkey, id uint64) (*domain.TaskItem, error) {
	addr, err := uc.addrs.Task(owner, id)
	if err != nil {
		return nil, err
	}
	acc, err := uc.ledger.Account(ctx, addr)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return nil, domain.ErrTaskNotFound.WithMessage("task %d not found", id)
		}
		return nil, domain.WrapError(domain.ErrCodeInternal, "read task", err)
	}
	if acc.Owner != uc.addrs.ProgramID {
		return nil, domain.ErrTaskNotFound.WithMessage("task %d not found", id)
	}
	return domain.DecodeTaskItem(addr, acc.Data)
}

// ListTasks returns the profile (nil before initialization) and the owner's tasks by id.
// Task addresses are derived for ids 1..LastTaskID, so the work depends on the
// owner's history alone and not on how many other users share the ledger.
func (uc *UseCase) ListTasks(ctx context.Context, owner domain.Pubkey) (*domain.TaskList, error) {
	list := &domain.TaskList{Tasks: []domain.TaskItem{}}

	profile, err := uc.GetProfile(ctx, owner)
	switch {
	case err == nil:
		list.Profile = profile
	case errors.Is(err, domain.ErrProfileNotFound):
		return list, nil
	default:
		return nil, err
	}

	for first := uint64(1); first <= profile.LastTaskID; first += readBatch {
		last := min(first+readBatch-1, profile.LastTaskID)
		addrs := make([]domain.Pubkey, 0, last-first+1)
		for id := first; id <= last; id++ {
			addr, err := uc.addrs.Task(owner, id)
			if err != nil {
				return nil, err
			}
			addrs = append(addrs, addr)
		}
		accounts, err := uc.ledger.Accounts(ctx, addrs)
		if err != nil {
			return nil, domain.WrapError(domain.ErrCodeInternal, "read tasks", err)
		}
		for _, acc := range accounts {
			if acc == nil || acc.Owner != uc.addrs.ProgramID {
				continue
			}
			item, err := domain.DecodeTaskItem(acc.Address, acc.Data)
			if err != nil {
				uc.logger.Warn("skipping undecodable task account", zap.String("address", acc.Address.String()), zap.Error(err))
				continue
			}
			if item.Owner == owner {
				list.Tasks = append(list.Tasks, *item)
			}
		}
	}
	return list, nil
}
