package transaction

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/fastygo/taskledger/domain"
	"github.com/fastygo/taskledger/internal/ledger/program"
	"github.com/fastygo/taskledger/repository"
	"github.com/fastygo/taskledger/usecase"
)

type buildRequest struct {
	identity domain.Pubkey
	payload  domain.Payload
}

type build struct {
	ix       program.Instruction
	accounts program.Accounts
	taskID   uint64
}

func (uc *UseCase) registerBuilders() *usecase.Dispatcher[domain.Operation, buildRequest, *build] {
	d := usecase.NewDispatcher[domain.Operation, buildRequest, *build]()
	d.Register(domain.OpInitializeUser, uc.buildInitializeUser)
	d.Register(domain.OpCreateTask, uc.buildCreateTask)
	d.Register(domain.OpUpdateStatus, uc.buildUpdateStatus)
	d.Register(domain.OpUpdateDescription, uc.buildUpdateDescription)
	d.Register(domain.OpDeleteTask, uc.buildDeleteTask)
	return d
}

func (uc *UseCase) buildInitializeUser(ctx context.Context, req buildRequest) (*build, error) {
	_, err := uc.reader.GetProfile(ctx, req.identity)
	switch {
	case err == nil:
		return nil, domain.ErrProfileExists
	case !errors.Is(err, domain.ErrProfileNotFound):
		return nil, err
	}
	addr, err := uc.reader.Addresses().Profile(req.identity)
	if err != nil {
		return nil, err
	}
	return &build{ix: program.InitializeUser{}, accounts: program.Accounts{Profile: addr}}, nil
}

func (uc *UseCase) buildCreateTask(ctx context.Context, req buildRequest) (*build, error) {
	p, ok := req.payload.(domain.CreateTaskPayload)
	if !ok {
		return nil, domain.ErrInvalidPayload
	}
	profile, err := uc.reader.GetProfile(ctx, req.identity)
	if err != nil {
		return nil, err
	}
	if p.ExpectedLastTaskID != nil && *p.ExpectedLastTaskID != profile.LastTaskID {
		return nil, domain.ErrLastTaskIDAdvanced.WithMessage(
			"last task id is %d, expected %d", profile.LastTaskID, *p.ExpectedLastTaskID)
	}
	if err := uc.resolveEarlierCreates(ctx, req.identity); err != nil {
		return nil, err
	}

	id := profile.NextTaskID()
	addr, err := uc.reader.Addresses().Task(req.identity, id)
	if err != nil {
		return nil, err
	}
	return &build{
		ix:       program.CreateTask{Description: p.Description, DueDate: p.DueDate},
		accounts: program.Accounts{Profile: profile.Address, Task: addr},
		taskID:   id,
	}, nil
}

// resolveEarlierCreates settles create_task envelopes of identity whose fate is
// unknown, so a retry after a timeout cannot create the same task twice.
func (uc *UseCase) resolveEarlierCreates(ctx context.Context, identity domain.Pubkey) error {
	records, err := uc.journal.List(ctx, repository.JournalFilter{
		Identity:  identity,
		Operation: domain.OpCreateTask,
		States:    []domain.TxState{domain.TxSigned, domain.TxSubmitted, domain.TxTimedOut},
	})
	if err != nil {
		return domain.WrapError(domain.ErrCodeInternal, "list unresolved creates", err)
	}
	for i := range records {
		rec := &records[i]
		sig, err := domain.ParseSignature(rec.Signature)
		if err != nil {
			continue
		}
		state, ledgerErr, slot, resolved := uc.resolve(ctx, rec.Anchor, sig)
		if !resolved {
			return domain.ErrCreatePending.WithMessage("create %s (task %d) may still land", rec.ID, rec.TaskID)
		}
		if rec.State != domain.TxTimedOut {
			// A live Submit owns this record and will finish it.
			if state == domain.TxConfirmed {
				return domain.ErrCreatePending.WithMessage("create %s (task %d) is being confirmed", rec.ID, rec.TaskID)
			}
			continue
		}

		if state == domain.TxFailed && ledgerErr == anchorExpired {
			state, ledgerErr = domain.TxExpired, ""
		}
		from := rec.State
		rec.LedgerError, rec.Slot = ledgerErr, slot
		if err := uc.transition(ctx, rec, from, state); err != nil && !errors.Is(err, domain.ErrStateConflict) {
			uc.logger.Warn("could not settle earlier create", zap.String("envelope_id", rec.ID), zap.Error(err))
		}
		if state == domain.TxConfirmed {
			return domain.ErrCreateAlreadyLanded.WithMessage("an earlier create that timed out landed as task %d", rec.TaskID)
		}
	}
	return nil
}

func (uc *UseCase) buildUpdateStatus(ctx context.Context, req buildRequest) (*build, error) {
	p, ok := req.payload.(domain.UpdateStatusPayload)
	if !ok {
		return nil, domain.ErrInvalidPayload
	}
	item, err := uc.authorizedTask(ctx, req.identity, p.Owner, p.TaskID)
	if err != nil {
		return nil, err
	}
	return &build{
		ix:       program.UpdateStatus{Completed: p.Completed},
		accounts: program.Accounts{Task: item.Address},
		taskID:   item.ID,
	}, nil
}

func (uc *UseCase) buildUpdateDescription(ctx context.Context, req buildRequest) (*build, error) {
	p, ok := req.payload.(domain.UpdateDescriptionPayload)
	if !ok {
		return nil, domain.ErrInvalidPayload
	}
	item, err := uc.authorizedTask(ctx, req.identity, p.Owner, p.TaskID)
	if err != nil {
		return nil, err
	}
	return &build{
		ix:       program.UpdateDescription{Description: p.Description},
		accounts: program.Accounts{Task: item.Address},
		taskID:   item.ID,
	}, nil
}

func (uc *UseCase) buildDeleteTask(ctx context.Context, req buildRequest) (*build, error) {
	p, ok := req.payload.(domain.DeleteTaskPayload)
	if !ok {
		return nil, domain.ErrInvalidPayload
	}
	item, err := uc.authorizedTask(ctx, req.identity, p.Owner, p.TaskID)
	if err != nil {
		return nil, err
	}
	profile, err := uc.reader.Addresses().Profile(item.Owner)
	if err != nil {
		return nil, err
	}
	return &build{
		ix:       program.DeleteTask{},
		accounts: program.Accounts{Profile: profile, Task: item.Address},
		taskID:   item.ID,
	}, nil
}

// authorizedTask loads the task and fails fast when identity may not mutate it.
// The program re-checks authority on the ledger.
func (uc *UseCase) authorizedTask(ctx context.Context, identity, owner domain.Pubkey, id uint64) (*domain.TaskItem, error) {
	item, err := uc.reader.GetTask(ctx, domain.TaskOwner(owner, identity), id)
	if err != nil {
		return nil, err
	}
	if err := domain.CheckAuthority(item, identity); err != nil {
		return nil, err
	}
	return item, nil
}
