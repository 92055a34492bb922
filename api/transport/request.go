package transport

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/fastygo/taskledger/domain"
)

// AuthRequest is the body of POST /auth. Keys and signatures travel as base58.
type AuthRequest struct {
	PublicKey string `json:"public_key"`
	Signature string `json:"signature"`
	Timestamp int64  `json:"timestamp"`
}

// Domain parses the text fields.
func (r AuthRequest) Domain() (domain.AuthRequest, error) {
	key, err := domain.ParsePubkey(r.PublicKey)
	if err != nil {
		return domain.AuthRequest{}, invalidField("public_key", err)
	}
	sig, err := domain.ParseSignature(r.Signature)
	if err != nil {
		return domain.AuthRequest{}, invalidField("signature", err)
	}
	return domain.AuthRequest{PublicKey: key, Signature: sig, Timestamp: r.Timestamp}, nil
}

// PrepareRequest is the body of POST /transactions/prepare/{operation}. Which
// fields are read depends on the operation.
type PrepareRequest struct {
	Description *string `json:"description,omitempty"`
	// DueDate accepts a JSON number or a decimal string so out-of-range values
	// surface as InvalidDueDate rather than a decode error.
	DueDate            json.RawMessage `json:"due_date,omitempty"`
	ExpectedLastTaskID *uint64         `json:"expected_last_task_id,omitempty"`
	TaskID             uint64          `json:"task_id,omitempty"`
	Owner              string          `json:"owner,omitempty"`
	Completed          *bool           `json:"completed,omitempty"`
}

// Payload converts the body into the typed payload of op.
func (r PrepareRequest) Payload(op domain.Operation) (domain.Payload, error) {
	switch op {
	case domain.OpInitializeUser:
		return domain.InitializeUserPayload{}, nil
	case domain.OpCreateTask:
		due, err := r.dueDate()
		if err != nil {
			return nil, err
		}
		return domain.CreateTaskPayload{
			Description:        r.description(),
			DueDate:            due,
			ExpectedLastTaskID: r.ExpectedLastTaskID,
		}, nil
	}

	owner, err := r.owner()
	if err != nil {
		return nil, err
	}
	switch op {
	case domain.OpUpdateStatus:
		if r.Completed == nil {
			return nil, invalidField("completed", nil)
		}
		return domain.UpdateStatusPayload{TaskID: r.TaskID, Owner: owner, Completed: *r.Completed}, nil
	case domain.OpUpdateDescription:
		return domain.UpdateDescriptionPayload{TaskID: r.TaskID, Owner: owner, Description: r.description()}, nil
	case domain.OpDeleteTask:
		return domain.DeleteTaskPayload{TaskID: r.TaskID, Owner: owner}, nil
	}
	return nil, domain.ErrUnknownOperation.WithMessage("unknown operation %q", op)
}

func (r PrepareRequest) description() string {
	if r.Description == nil {
		return ""
	}
	return *r.Description
}

func (r PrepareRequest) dueDate() (int64, error) {
	raw := bytes.TrimSpace(r.DueDate)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, nil
	}
	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, domain.ErrInvalidDueDate.WithErr(err)
		}
	}
	return domain.ParseDueDate(text)
}

func (r PrepareRequest) owner() (domain.Pubkey, error) {
	if r.Owner == "" {
		return domain.Pubkey{}, nil
	}
	owner, err := domain.ParsePubkey(r.Owner)
	if err != nil {
		return domain.Pubkey{}, invalidField("owner", err)
	}
	return owner, nil
}

// NewPrepareRequest is the client-side inverse of Payload.
func NewPrepareRequest(payload domain.Payload) PrepareRequest {
	var req PrepareRequest
	switch p := payload.(type) {
	case domain.CreateTaskPayload:
		req.Description = &p.Description
		req.DueDate = json.RawMessage(strconv.FormatInt(p.DueDate, 10))
		req.ExpectedLastTaskID = p.ExpectedLastTaskID
	case domain.UpdateStatusPayload:
		req.TaskID = p.TaskID
		req.Completed = &p.Completed
		req.Owner = ownerText(p.Owner)
	case domain.UpdateDescriptionPayload:
		req.TaskID = p.TaskID
		req.Description = &p.Description
		req.Owner = ownerText(p.Owner)
	case domain.DeleteTaskPayload:
		req.TaskID = p.TaskID
		req.Owner = ownerText(p.Owner)
	}
	return req
}

func ownerText(p domain.Pubkey) string {
	if p.IsZero() {
		return ""
	}
	return p.String()
}

func invalidField(field string, cause error) *domain.Error {
	err := domain.ErrInvalidPayload.WithMessage("invalid %s", field)
	err.Field = field
	if cause != nil {
		err = err.WithErr(cause)
	}
	return err
}
