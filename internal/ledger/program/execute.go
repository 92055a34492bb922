package program

import (
	"errors"
	"fmt"

	"github.com/fastygo/taskledger/domain"
	"github.com/fastygo/taskledger/internal/ledger"
)

var (
	ErrAccountAlreadyInUse        = &ledger.TxError{Code: "AccountAlreadyInUse", Message: "account already in use"}
	ErrAccountNotInitialized      = &ledger.TxError{Code: "AccountNotInitialized", Message: "account not initialized"}
	ErrConstraintSeeds            = &ledger.TxError{Code: "ConstraintSeeds", Message: "account address does not match its seeds"}
	ErrMissingSigner              = &ledger.TxError{Code: "MissingSigner", Message: "authority did not sign"}
	ErrAccountOwnedByWrongProgram = &ledger.TxError{Code: "AccountOwnedByWrongProgram", Message: "account is owned by another program"}
	ErrInvalidInstruction         = &ledger.TxError{Code: "InvalidInstruction", Message: "invalid instruction"}
)

func errInvalidInstruction(msg string) *ledger.TxError {
	return &ledger.TxError{Code: ErrInvalidInstruction.Code, Message: msg}
}

// State is the account view one transaction executes against. Writes are
// buffered by the caller and committed only if every instruction succeeds.
type State interface {
	Get(addr domain.Pubkey) (ledger.Account, bool)
	Put(acc ledger.Account)
	Delete(addr domain.Pubkey)
}

// DefaultID is the program id used when none is configured.
var DefaultID = domain.HashedPubkey("task-ledger/program/v1")

// ParseID accepts a base58 program id; empty selects DefaultID.
func ParseID(s string) (domain.Pubkey, error) {
	if s == "" {
		return DefaultID, nil
	}
	return domain.ParsePubkey(s)
}

// Program executes task ledger instructions owned by ProgramID.
type Program struct {
	addrs Addresses
}

func New(programID domain.Pubkey) *Program {
	return &Program{addrs: Addresses{ProgramID: programID}}
}

func (p *Program) ID() domain.Pubkey { return p.addrs.ProgramID }

// Execute runs one instruction. Every returned error is a *ledger.TxError;
// domain failures keep their reason as the code and stay reachable via errors.Is.
func (p *Program) Execute(state State, ix ledger.Instruction) error {
	if ix.ProgramID != p.addrs.ProgramID {
		return errInvalidInstruction("instruction addressed to another program")
	}
	decoded, err := Decode(ix.Data)
	if err != nil {
		return err
	}
	want := len(Roles(decoded.Operation()))
	if len(ix.Accounts) != want {
		return errInvalidInstruction(fmt.Sprintf("%s expects %d accounts, got %d", decoded.Operation(), want, len(ix.Accounts)))
	}

	switch args := decoded.(type) {
	case InitializeUser:
		err = p.initializeUser(state, ix.Accounts)
	case CreateTask:
		err = p.createTask(state, ix.Accounts, args)
	case UpdateStatus:
		err = p.updateTask(state, ix.Accounts, func(t *domain.TaskItem) error {
			t.Completed = args.Completed
			return nil
		})
	case UpdateDescription:
		err = p.updateTask(state, ix.Accounts, func(t *domain.TaskItem) error {
			if err := domain.ValidateDescription(args.Description); err != nil {
				return err
			}
			t.Description = args.Description
			return nil
		})
	case DeleteTask:
		err = p.deleteTask(state, ix.Accounts)
	}
	return asTxError(err)
}

func (p *Program) initializeUser(state State, accts []ledger.AccountMeta) error {
	profileMeta, authority := accts[0], accts[1]
	if !authority.Signer {
		return ErrMissingSigner
	}
	expected, err := p.addrs.Profile(authority.Pubkey)
	if err != nil {
		return err
	}
	if profileMeta.Pubkey != expected {
		return ErrConstraintSeeds
	}
	if _, exists := state.Get(expected); exists {
		return ErrAccountAlreadyInUse
	}
	profile := &domain.UserProfile{Address: expected, Authority: authority.Pubkey}
	state.Put(p.account(expected, domain.EncodeUserProfile(profile)))
	return nil
}

func (p *Program) createTask(state State, accts []ledger.AccountMeta, args CreateTask) error {
	profileMeta, taskMeta, authority := accts[0], accts[1], accts[2]
	if !authority.Signer {
		return ErrMissingSigner
	}
	profile, err := p.loadProfile(state, profileMeta.Pubkey, authority.Pubkey)
	if err != nil {
		return err
	}
	if err := domain.ValidateDescription(args.Description); err != nil {
		return err
	}
	if err := domain.ValidateDueDate(args.DueDate); err != nil {
		return err
	}

	id := profile.NextTaskID()
	expected, err := p.addrs.Task(authority.Pubkey, id)
	if err != nil {
		return err
	}
	// A transaction prepared against an older lastTaskId derives a stale address
	// and loses here instead of reusing an id.
	if taskMeta.Pubkey != expected {
		return ErrConstraintSeeds
	}
	if _, exists := state.Get(expected); exists {
		return ErrAccountAlreadyInUse
	}

	task := &domain.TaskItem{
		Address:     expected,
		ID:          id,
		Description: args.Description,
		DueDate:     args.DueDate,
		Owner:       authority.Pubkey,
		Authority:   authority.Pubkey,
	}
	profile.LastTaskID = id
	profile.TaskCount++
	state.Put(p.account(expected, domain.EncodeTaskItem(task)))
	state.Put(p.account(profile.Address, domain.EncodeUserProfile(profile)))
	return nil
}

func (p *Program) updateTask(state State, accts []ledger.AccountMeta, apply func(*domain.TaskItem) error) error {
	taskMeta, authority := accts[0], accts[1]
	if !authority.Signer {
		return ErrMissingSigner
	}
	task, err := p.loadTask(state, taskMeta.Pubkey, authority.Pubkey)
	if err != nil {
		return err
	}
	if err := apply(task); err != nil {
		return err
	}
	state.Put(p.account(task.Address, domain.EncodeTaskItem(task)))
	return nil
}

func (p *Program) deleteTask(state State, accts []ledger.AccountMeta) error {
	profileMeta, taskMeta, authority := accts[0], accts[1], accts[2]
	if !authority.Signer {
		return ErrMissingSigner
	}
	task, err := p.loadTask(state, taskMeta.Pubkey, authority.Pubkey)
	if err != nil {
		return err
	}
	expected, err := p.addrs.Profile(task.Owner)
	if err != nil {
		return err
	}
	if profileMeta.Pubkey != expected {
		return ErrConstraintSeeds
	}
	profile, err := p.loadProfile(state, expected, authority.Pubkey)
	if err != nil {
		return err
	}
	if profile.TaskCount > 0 {
		profile.TaskCount--
	}
	state.Delete(task.Address)
	state.Put(p.account(profile.Address, domain.EncodeUserProfile(profile)))
	return nil
}

// loadProfile checks seeds, ownership and that authority matches the profile.
func (p *Program) loadProfile(state State, addr, authority domain.Pubkey) (*domain.UserProfile, error) {
	expected, err := p.addrs.Profile(authority)
	if err != nil {
		return nil, err
	}
	if addr != expected {
		return nil, ErrConstraintSeeds
	}
	acc, err := p.owned(state, addr)
	if err != nil {
		return nil, err
	}
	profile, err := domain.DecodeUserProfile(addr, acc.Data)
	if err != nil {
		return nil, ErrAccountNotInitialized
	}
	if err := domain.CheckAuthority(profile, authority); err != nil {
		return nil, err
	}
	return profile, nil
}

// loadTask checks ownership, authority and that the address matches the record's seeds.
func (p *Program) loadTask(state State, addr, authority domain.Pubkey) (*domain.TaskItem, error) {
	acc, err := p.owned(state, addr)
	if err != nil {
		return nil, err
	}
	task, err := domain.DecodeTaskItem(addr, acc.Data)
	if err != nil {
		return nil, ErrAccountNotInitialized
	}
	if err := domain.CheckAuthority(task, authority); err != nil {
		return nil, err
	}
	expected, err := p.addrs.Task(task.Owner, task.ID)
	if err != nil {
		return nil, err
	}
	if expected != addr {
		return nil, ErrConstraintSeeds
	}
	return task, nil
}

func (p *Program) owned(state State, addr domain.Pubkey) (ledger.Account, error) {
	acc, ok := state.Get(addr)
	if !ok {
		return ledger.Account{}, ErrAccountNotInitialized
	}
	if acc.Owner != p.addrs.ProgramID {
		return ledger.Account{}, ErrAccountOwnedByWrongProgram
	}
	return acc, nil
}

func (p *Program) account(addr domain.Pubkey, data []byte) ledger.Account {
	return ledger.Account{Address: addr, Owner: p.addrs.ProgramID, Data: data}
}

func asTxError(err error) error {
	if err == nil {
		return nil
	}
	var txErr *ledger.TxError
	if errors.As(err, &txErr) {
		return err
	}
	if dErr := domain.Innermost(err); dErr != nil && dErr.Reason != "" {
		return &ledger.TxError{Code: dErr.Reason, Message: dErr.Message, Cause: err}
	}
	return &ledger.TxError{Code: "ProgramFailed", Message: err.Error(), Cause: err}
}
