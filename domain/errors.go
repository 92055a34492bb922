package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a semantic classification shared across transport layers.
type ErrorCode string

const (
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeInvalid      ErrorCode = "INVALID"
	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeRejected     ErrorCode = "REJECTED"
	ErrCodeTimedOut     ErrorCode = "TIMED_OUT"
	ErrCodeRateLimited  ErrorCode = "RATE_LIMITED"
	ErrCodeInternal     ErrorCode = "INTERNAL"
)

// Error represents a domain-level error.
//
// Code is the coarse class used for transport mapping; Reason names the specific
// failure (e.g. "DescriptionTooLong") so callers can branch on it; Field points at
// the offending input when the failure is a validation one.
type Error struct {
	Code    ErrorCode
	Reason  string
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors of the same reason so sentinel values work with errors.Is
// even after being copied with a different message or field.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	if t.Reason == "" {
		return e == t
	}
	return e.Reason == t.Reason
}

// NewError builds a domain error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError wraps an existing error with a domain classification.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func reasoned(code ErrorCode, reason, field, message string) *Error {
	return &Error{Code: code, Reason: reason, Field: field, Message: message}
}

// WithErr returns a copy of e that wraps cause.
func (e *Error) WithErr(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

// WithMessage returns a copy of e with a more specific message.
func (e *Error) WithMessage(format string, args ...interface{}) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// Validation errors never reach the ledger.
var (
	ErrDescriptionEmpty    = reasoned(ErrCodeInvalid, "DescriptionEmpty", "description", "description must not be empty")
	ErrDescriptionTooLong  = reasoned(ErrCodeInvalid, "DescriptionTooLong", "description", fmt.Sprintf("description must be %d characters or less", MaxDescriptionLength))
	ErrDescriptionEncoding = reasoned(ErrCodeInvalid, "DescriptionEncoding", "description", "description must be valid UTF-8")
	ErrInvalidDueDate      = reasoned(ErrCodeInvalid, "InvalidDueDate", "due_date", "due date must be a signed 64-bit unix timestamp")
	ErrInvalidSeedLength   = reasoned(ErrCodeInvalid, "InvalidSeedLength", "", "invalid seed length")
	ErrInvalidPayload      = reasoned(ErrCodeInvalid, "InvalidPayload", "", "invalid payload")
	ErrUnknownOperation    = reasoned(ErrCodeInvalid, "UnknownOperation", "operation", "unknown operation")
	ErrEnvelopeMismatch    = reasoned(ErrCodeInvalid, "EnvelopeMismatch", "message", "signed message does not match the prepared envelope")
)

// Authorization errors are fatal to the current request.
var (
	ErrUnauthorizedAccess = reasoned(ErrCodeForbidden, "UnauthorizedAccess", "", "only the authority can modify this record")
	ErrInvalidSignature   = reasoned(ErrCodeUnauthorized, "InvalidSignature", "signature", "invalid signature")
	ErrExpiredChallenge   = reasoned(ErrCodeUnauthorized, "ExpiredChallenge", "timestamp", "authentication challenge expired")
	ErrChallengeReplayed  = reasoned(ErrCodeUnauthorized, "ChallengeReplayed", "signature", "authentication challenge already used")
	ErrUnauthorized       = reasoned(ErrCodeUnauthorized, "Unauthorized", "", "unauthorized")
	ErrSessionNotFound    = reasoned(ErrCodeUnauthorized, "SessionNotFound", "", "session not found or expired")
	ErrRateLimited        = reasoned(ErrCodeRateLimited, "RateLimited", "", "rate limit exceeded")
)

// Not-found errors; the profile case is the only one worth an initialize-then-retry.
var (
	ErrProfileNotFound  = reasoned(ErrCodeNotFound, "ProfileNotFound", "", "user profile not found")
	ErrTaskNotFound     = reasoned(ErrCodeNotFound, "TaskNotFound", "task_id", "task not found")
	ErrEnvelopeNotFound = reasoned(ErrCodeNotFound, "EnvelopeNotFound", "envelope_id", "transaction envelope not found")
)

// Consistency errors are recoverable by re-preparing with fresh state.
var (
	ErrProfileExists            = reasoned(ErrCodeConflict, "ProfileAlreadyInitialized", "", "user profile already initialized")
	ErrLastTaskIDAdvanced       = reasoned(ErrCodeConflict, "LastTaskIdAdvanced", "expected_last_task_id", "last task id has advanced since it was read")
	ErrCreatePending            = reasoned(ErrCodeConflict, "CreatePending", "", "a previous create is still in flight")
	ErrCreateAlreadyLanded      = reasoned(ErrCodeConflict, "CreateAlreadyLanded", "", "a previous create that timed out has landed")
	ErrEnvelopeAlreadySubmitted = reasoned(ErrCodeConflict, "EnvelopeAlreadySubmitted", "envelope_id", "envelope already submitted; prepare a new one")
	ErrStateConflict            = reasoned(ErrCodeConflict, "StateConflict", "", "transaction state changed concurrently")
)

// PreparationFailed wraps the cause of a failed prepare while keeping its class.
func PreparationFailed(cause error) *Error {
	return &Error{
		Code:    CodeOf(cause),
		Reason:  "PreparationFailed",
		Message: "preparation failed",
		Err:     cause,
	}
}

// IsDomainError helps checking error codes.
func IsDomainError(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// CodeOf returns the code of the outermost domain error, INTERNAL otherwise.
func CodeOf(err error) ErrorCode {
	var dErr *Error
	if errors.As(err, &dErr) {
		return dErr.Code
	}
	return ErrCodeInternal
}

// HasReason walks the whole chain, so a reason wrapped by PreparationFailed is still visible.
func HasReason(err error, reason string) bool {
	for err != nil {
		var dErr *Error
		if !errors.As(err, &dErr) {
			return false
		}
		if dErr.Reason == reason {
			return true
		}
		err = dErr.Err
	}
	return false
}

// Innermost returns the deepest domain error in the chain, the one that names the real cause.
func Innermost(err error) *Error {
	var found *Error
	for err != nil {
		var dErr *Error
		if !errors.As(err, &dErr) {
			break
		}
		found = dErr
		err = dErr.Err
	}
	return found
}
