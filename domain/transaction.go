package domain

import "time"

// Operation names a ledger program instruction.
type Operation string

const (
	OpInitializeUser    Operation = "initialize_user"
	OpCreateTask        Operation = "create_task"
	OpUpdateStatus      Operation = "update_status"
	OpUpdateDescription Operation = "update_description"
	OpDeleteTask        Operation = "delete_task"
)

// Operations lists every supported operation in instruction-set order.
var Operations = []Operation{OpInitializeUser, OpCreateTask, OpUpdateStatus, OpUpdateDescription, OpDeleteTask}

// ParseOperation accepts the canonical names plus the short REST aliases.
func ParseOperation(s string) (Operation, error) {
	switch s {
	case string(OpInitializeUser), "initialize":
		return OpInitializeUser, nil
	case string(OpCreateTask), "create":
		return OpCreateTask, nil
	case string(OpUpdateStatus), "status":
		return OpUpdateStatus, nil
	case string(OpUpdateDescription), "description":
		return OpUpdateDescription, nil
	case string(OpDeleteTask), "delete":
		return OpDeleteTask, nil
	}
	return "", ErrUnknownOperation.WithMessage("unknown operation %q", s)
}

// Payload is the statically typed argument set of one operation.
type Payload interface {
	Operation() Operation
	Validate() error
}

type InitializeUserPayload struct{}

type CreateTaskPayload struct {
	Description string `json:"description"`
	DueDate     int64  `json:"due_date"`
	// ExpectedLastTaskID, when set, must equal the profile's current value at prepare time.
	ExpectedLastTaskID *uint64 `json:"expected_last_task_id,omitempty"`
}

// The task payloads address a task by (Owner, TaskID). Owner defaults to the
// signing identity; naming another owner only succeeds once delegation exists.
type UpdateStatusPayload struct {
	TaskID    uint64 `json:"task_id"`
	Owner     Pubkey `json:"owner,omitempty"`
	Completed bool   `json:"completed"`
}

type UpdateDescriptionPayload struct {
	TaskID      uint64 `json:"task_id"`
	Owner       Pubkey `json:"owner,omitempty"`
	Description string `json:"description"`
}

type DeleteTaskPayload struct {
	TaskID uint64 `json:"task_id"`
	Owner  Pubkey `json:"owner,omitempty"`
}

// TaskOwner resolves the owner a task payload refers to.
func TaskOwner(owner, signer Pubkey) Pubkey {
	if owner.IsZero() {
		return signer
	}
	return owner
}

func (InitializeUserPayload) Operation() Operation    { return OpInitializeUser }
func (CreateTaskPayload) Operation() Operation        { return OpCreateTask }
func (UpdateStatusPayload) Operation() Operation      { return OpUpdateStatus }
func (UpdateDescriptionPayload) Operation() Operation { return OpUpdateDescription }
func (DeleteTaskPayload) Operation() Operation        { return OpDeleteTask }

func (InitializeUserPayload) Validate() error { return nil }

func (p CreateTaskPayload) Validate() error {
	if err := ValidateDescription(p.Description); err != nil {
		return err
	}
	return ValidateDueDate(p.DueDate)
}

func (p UpdateStatusPayload) Validate() error { return validateTaskID(p.TaskID) }

func (p UpdateDescriptionPayload) Validate() error {
	if err := validateTaskID(p.TaskID); err != nil {
		return err
	}
	return ValidateDescription(p.Description)
}

func (p DeleteTaskPayload) Validate() error { return validateTaskID(p.TaskID) }

func validateTaskID(id uint64) error {
	if id == 0 {
		return reasoned(ErrCodeInvalid, "InvalidTaskId", "task_id", "task id must be positive")
	}
	return nil
}

// AccountRef describes one address an envelope reads or writes.
type AccountRef struct {
	Role     string `json:"role"`
	Address  Pubkey `json:"address"`
	Signer   bool   `json:"signer"`
	Writable bool   `json:"writable"`
}

// UnsignedEnvelope is handed to the caller for signing. Message is the exact
// byte string the identity's key must sign.
type UnsignedEnvelope struct {
	ID              string       `json:"id"`
	Operation       Operation    `json:"operation"`
	Signer          Pubkey       `json:"signer"`
	Message         []byte       `json:"message"`
	Accounts        []AccountRef `json:"accounts"`
	Anchor          Hash         `json:"anchor"`
	LastValidHeight uint64       `json:"last_valid_height"`
	TaskID          uint64       `json:"task_id,omitempty"`
	PreparedAt      time.Time    `json:"prepared_at"`
}

// SignedEnvelope returns the signed message to the orchestrator.
type SignedEnvelope struct {
	ID        string    `json:"id"`
	Message   []byte    `json:"message"`
	Signature Signature `json:"signature"`
}

// OutcomeStatus is the terminal result of a submission.
type OutcomeStatus string

const (
	OutcomeConfirmed OutcomeStatus = "confirmed"
	OutcomeRejected  OutcomeStatus = "rejected"
	OutcomeTimedOut  OutcomeStatus = "timed_out"
)

// Outcome is the typed result of Submit.
type Outcome struct {
	EnvelopeID    string        `json:"envelope_id"`
	Operation     Operation     `json:"operation"`
	Status        OutcomeStatus `json:"status"`
	TransactionID string        `json:"transaction_id,omitempty"`
	LedgerError   string        `json:"ledger_error,omitempty"`
	TaskID        uint64        `json:"task_id,omitempty"`
	Slot          uint64        `json:"slot,omitempty"`
}

func (o *Outcome) Confirmed() bool {
	return o != nil && o.Status == OutcomeConfirmed
}

// Err converts a non-confirmed outcome into a domain error so it can cross
// layers that only speak errors.
func (o *Outcome) Err() error {
	if o == nil {
		return NewError(ErrCodeInternal, "missing outcome")
	}
	switch o.Status {
	case OutcomeConfirmed:
		return nil
	case OutcomeRejected:
		return &Error{Code: ErrCodeRejected, Reason: "Rejected", Message: "transaction rejected: " + o.LedgerError}
	default:
		return &Error{Code: ErrCodeTimedOut, Reason: "TimedOut", Message: "transaction inclusion not observed; re-read state before retrying"}
	}
}

// TxState tracks an envelope through its lifecycle.
type TxState string

const (
	TxPrepared  TxState = "prepared"
	TxSigned    TxState = "signed"
	TxSubmitted TxState = "submitted"
	TxConfirmed TxState = "confirmed"
	TxFailed    TxState = "failed"
	TxTimedOut  TxState = "timed_out"
	TxCancelled TxState = "cancelled"
	TxExpired   TxState = "expired"
)

// Terminal reports whether no further transition is possible.
func (s TxState) Terminal() bool {
	switch s {
	case TxConfirmed, TxFailed, TxCancelled, TxExpired:
		return true
	}
	return false
}

// TxRecord is the journal entry for one envelope.
type TxRecord struct {
	ID              string    `json:"id"`
	Identity        Pubkey    `json:"identity"`
	Operation       Operation `json:"operation"`
	State           TxState   `json:"state"`
	MessageHash     []byte    `json:"message_hash"`
	Anchor          Hash      `json:"anchor"`
	LastValidHeight uint64    `json:"last_valid_height"`
	TaskID          uint64    `json:"task_id,omitempty"`
	Signature       string    `json:"signature,omitempty"`
	LedgerError     string    `json:"ledger_error,omitempty"`
	Slot            uint64    `json:"slot,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (r *TxRecord) Touch(now time.Time) {
	if r == nil {
		return
	}
	r.UpdatedAt = now
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
}
