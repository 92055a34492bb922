package transport

import (
	"encoding/json"
	"errors"

	"github.com/fastygo/taskledger/domain"
)

// Envelope is the standard API response wrapper used for both success and error payloads.
type Envelope struct {
	Status string      `json:"status"`
	Code   string      `json:"code,omitempty"`
	Data   interface{} `json:"data,omitempty"`
	Error  interface{} `json:"error,omitempty"`
	Meta   interface{} `json:"meta,omitempty"`
}

// NewSuccess returns a success envelope.
func NewSuccess(data interface{}, meta interface{}) Envelope {
	return Envelope{
		Status: "success",
		Data:   data,
		Meta:   meta,
	}
}

// NewError returns an error envelope with optional metadata.
func NewError(code string, err interface{}, meta interface{}) Envelope {
	return Envelope{
		Status: "error",
		Code:   code,
		Error:  err,
		Meta:   meta,
	}
}

// String returns the JSON representation (best-effort) for logging purposes.
func (e Envelope) String() string {
	out, err := json.Marshal(e)
	if err != nil {
		return "{}"
	}
	return string(out)
}

// ErrorBody is the error member of an error envelope. Cause carries the
// innermost reason when the outer one is a wrapper such as PreparationFailed.
type ErrorBody struct {
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
	Cause   string `json:"cause,omitempty"`
	Field   string `json:"field,omitempty"`
}

// NewErrorBody describes err for clients. Internal errors keep their text out of the response.
func NewErrorBody(err error) ErrorBody {
	if domain.CodeOf(err) == domain.ErrCodeInternal {
		return ErrorBody{Message: "internal error"}
	}
	body := ErrorBody{Message: err.Error()}
	if inner := domain.Innermost(err); inner != nil {
		body.Field = inner.Field
		body.Cause = inner.Reason
	}
	var top *domain.Error
	if errors.As(err, &top) {
		body.Reason = top.Reason
		if body.Field == "" {
			body.Field = top.Field
		}
	}
	if body.Cause == body.Reason {
		body.Cause = ""
	}
	return body
}

// Err rebuilds a domain error chain that answers errors.Is and domain.HasReason
// the same way the server-side error did.
func (b ErrorBody) Err(code string) error {
	outer := &domain.Error{
		Code:    domain.ErrorCode(code),
		Reason:  b.Reason,
		Field:   b.Field,
		Message: b.Message,
	}
	if b.Cause != "" {
		outer.Err = &domain.Error{Code: outer.Code, Reason: b.Cause, Field: b.Field, Message: b.Cause}
	}
	return outer
}

// ResponseEnvelope is Envelope as seen by a decoding client.
type ResponseEnvelope struct {
	Status string          `json:"status"`
	Code   string          `json:"code,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  *ErrorBody      `json:"error,omitempty"`
}

// Failed reports whether the server answered with an error envelope.
func (e ResponseEnvelope) Failed() bool {
	return e.Status != "success"
}
