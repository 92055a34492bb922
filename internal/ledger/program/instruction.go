// Package program is the task ledger's on-chain contract: a static instruction
// schema and the rules that execute it against account state.
package program

import (
	"bytes"
	"crypto/sha256"

	"github.com/fastygo/taskledger/domain"
	"github.com/fastygo/taskledger/internal/ledger"
	"github.com/fastygo/taskledger/internal/ledger/address"
)

// Instruction is one statically known program call.
type Instruction interface {
	Operation() domain.Operation
	encodeArgs(w *domain.Writer)
}

type InitializeUser struct{}

type CreateTask struct {
	Description string
	DueDate     int64
}

type UpdateStatus struct {
	Completed bool
}

type UpdateDescription struct {
	Description string
}

type DeleteTask struct{}

func (InitializeUser) Operation() domain.Operation    { return domain.OpInitializeUser }
func (CreateTask) Operation() domain.Operation        { return domain.OpCreateTask }
func (UpdateStatus) Operation() domain.Operation      { return domain.OpUpdateStatus }
func (UpdateDescription) Operation() domain.Operation { return domain.OpUpdateDescription }
func (DeleteTask) Operation() domain.Operation        { return domain.OpDeleteTask }

func (InitializeUser) encodeArgs(*domain.Writer) {}

func (c CreateTask) encodeArgs(w *domain.Writer) {
	w.Text(c.Description)
	w.I64(c.DueDate)
}

func (u UpdateStatus) encodeArgs(w *domain.Writer) { w.Bool(u.Completed) }

func (u UpdateDescription) encodeArgs(w *domain.Writer) { w.Text(u.Description) }

func (DeleteTask) encodeArgs(*domain.Writer) {}

var discriminators = func() map[domain.Operation][]byte {
	out := make(map[domain.Operation][]byte, len(domain.Operations))
	for _, op := range domain.Operations {
		sum := sha256.Sum256([]byte("global:" + string(op)))
		out[op] = sum[:domain.DiscriminatorSize]
	}
	return out
}()

// Encode produces instruction data: the 8-byte operation discriminator then the args.
func Encode(ix Instruction) []byte {
	w := domain.NewWriter(64)
	w.Raw(discriminators[ix.Operation()])
	ix.encodeArgs(w)
	return w.Bytes()
}

// Decode parses instruction data. Unknown discriminators and trailing bytes
// are InvalidInstruction.
func Decode(data []byte) (Instruction, error) {
	if len(data) < domain.DiscriminatorSize {
		return nil, errInvalidInstruction("instruction data too short")
	}
	var op domain.Operation
	for candidate, disc := range discriminators {
		if bytes.Equal(disc, data[:domain.DiscriminatorSize]) {
			op = candidate
			break
		}
	}
	r := domain.NewReader(data[domain.DiscriminatorSize:])
	var ix Instruction
	switch op {
	case domain.OpInitializeUser:
		ix = InitializeUser{}
	case domain.OpCreateTask:
		ix = CreateTask{Description: r.Text(), DueDate: r.I64()}
	case domain.OpUpdateStatus:
		ix = UpdateStatus{Completed: r.Bool()}
	case domain.OpUpdateDescription:
		ix = UpdateDescription{Description: r.Text()}
	case domain.OpDeleteTask:
		ix = DeleteTask{}
	default:
		return nil, errInvalidInstruction("unknown instruction discriminator")
	}
	if r.Err() != nil || r.Remaining() != 0 {
		return nil, errInvalidInstruction("malformed " + string(op) + " arguments")
	}
	return ix, nil
}

// Accounts names the addresses one instruction touches, in schema order.
type Accounts struct {
	Profile   domain.Pubkey
	Task      domain.Pubkey
	Authority domain.Pubkey
}

// Build assembles the ledger instruction with account metas in schema order.
func Build(programID domain.Pubkey, ix Instruction, accts Accounts) ledger.Instruction {
	out := ledger.Instruction{ProgramID: programID, Data: Encode(ix)}
	switch ix.Operation() {
	case domain.OpInitializeUser:
		out.Accounts = []ledger.AccountMeta{
			{Pubkey: accts.Profile, Writable: true},
			{Pubkey: accts.Authority, Signer: true, Writable: true},
		}
	case domain.OpCreateTask, domain.OpDeleteTask:
		out.Accounts = []ledger.AccountMeta{
			{Pubkey: accts.Profile, Writable: true},
			{Pubkey: accts.Task, Writable: true},
			{Pubkey: accts.Authority, Signer: true},
		}
	default:
		out.Accounts = []ledger.AccountMeta{
			{Pubkey: accts.Task, Writable: true},
			{Pubkey: accts.Authority, Signer: true},
		}
	}
	return out
}

// Roles labels the account metas Build produces, for envelope descriptions.
func Roles(op domain.Operation) []string {
	switch op {
	case domain.OpInitializeUser:
		return []string{"profile", "authority"}
	case domain.OpCreateTask, domain.OpDeleteTask:
		return []string{"profile", "task", "authority"}
	default:
		return []string{"task", "authority"}
	}
}

// Addresses binds the address deriver to one program id.
type Addresses struct {
	ProgramID domain.Pubkey
}

func (a Addresses) Profile(owner domain.Pubkey) (domain.Pubkey, error) {
	return address.ProfileAddress(a.ProgramID, owner)
}

func (a Addresses) Task(owner domain.Pubkey, id uint64) (domain.Pubkey, error) {
	return address.TaskAddress(a.ProgramID, owner, id)
}
