// Package ledger defines the contract between the service and the append-only
// ledger: transaction wire format, signing, and the read/submit client.
package ledger

import (
	"context"
	"errors"

	"github.com/fastygo/taskledger/domain"
)

// Anchor bounds a transaction's validity: it is accepted only while the ledger's
// block height is at most LastValidHeight.
type Anchor struct {
	Hash            domain.Hash `json:"hash"`
	LastValidHeight uint64      `json:"last_valid_height"`
}

// Account is a ledger storage record owned by a program.
type Account struct {
	Address domain.Pubkey
	Owner   domain.Pubkey
	Data    []byte
}

// Status is what the ledger knows about an included transaction.
type Status struct {
	Slot uint64
	Err  *TxError
}

func (s *Status) Succeeded() bool { return s != nil && s.Err == nil }

// TxError is a ledger-side failure: either refused at submission or recorded
// when the transaction's instructions failed.
type TxError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Instruction int    `json:"instruction,omitempty"`
	Cause       error  `json:"-"`
}

func (e *TxError) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Message
}

func (e *TxError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches by code.
func (e *TxError) Is(target error) bool {
	t, ok := target.(*TxError)
	return ok && e != nil && t != nil && e.Code == t.Code
}

var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrAnchorNotFound       = &TxError{Code: "AnchorNotFound", Message: "anchor not found or expired"}
	ErrAlreadyProcessed     = &TxError{Code: "AlreadyProcessed", Message: "transaction already processed"}
	ErrSignatureFailure     = &TxError{Code: "SignatureFailure", Message: "transaction signature verification failed"}
	ErrMalformedTransaction = &TxError{Code: "MalformedTransaction", Message: "transaction could not be decoded"}
)

// IsRejection reports whether err is a definitive ledger refusal, as opposed to
// a transport failure after which the transaction may or may not have landed.
func IsRejection(err error) bool {
	var txErr *TxError
	return errors.As(err, &txErr)
}

// Client is the ledger as seen by the service. Implementations own transport.
type Client interface {
	LatestAnchor(ctx context.Context) (Anchor, error)
	AnchorValid(ctx context.Context, hash domain.Hash) (bool, error)
	BlockHeight(ctx context.Context) (uint64, error)
	// Account returns ErrAccountNotFound when nothing is stored at addr.
	Account(ctx context.Context, addr domain.Pubkey) (*Account, error)
	// Accounts reads several addresses at once; missing entries come back nil.
	Accounts(ctx context.Context, addrs []domain.Pubkey) ([]*Account, error)
	// ProgramAccounts scans accounts owned by program whose data starts with discriminator.
	ProgramAccounts(ctx context.Context, program domain.Pubkey, discriminator []byte) ([]Account, error)
	Send(ctx context.Context, rawTx []byte) (domain.Signature, error)
	// SignatureStatus returns nil, nil while the transaction is unknown to the ledger.
	SignatureStatus(ctx context.Context, sig domain.Signature) (*Status, error)
	Ping(ctx context.Context) error
}
