package transport

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/fastygo/taskledger/domain"
)

func decodePrepare(t *testing.T, body string) PrepareRequest {
	t.Helper()
	var req PrepareRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	return req
}

func TestPrepareRequestDueDate(t *testing.T) {
	cases := []struct {
		body    string
		want    int64
		invalid bool
	}{
		{body: `{"description":"Buy milk","due_date":1700000000}`, want: 1700000000},
		{body: `{"description":"Buy milk","due_date":"-5"}`, want: -5},
		{body: `{"description":"Buy milk"}`, want: 0},
		{body: `{"description":"Buy milk","due_date":99999999999999999999}`, invalid: true},
		{body: `{"description":"Buy milk","due_date":1.5}`, invalid: true},
	}
	for _, tc := range cases {
		payload, err := decodePrepare(t, tc.body).Payload(domain.OpCreateTask)
		if tc.invalid {
			if !errors.Is(err, domain.ErrInvalidDueDate) {
				t.Fatalf("%s: expected InvalidDueDate, got %v", tc.body, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", tc.body, err)
		}
		if got := payload.(domain.CreateTaskPayload).DueDate; got != tc.want {
			t.Fatalf("%s: due date %d, want %d", tc.body, got, tc.want)
		}
	}
}

func TestPrepareRequestTaskOperations(t *testing.T) {
	if _, err := decodePrepare(t, `{"task_id":1}`).Payload(domain.OpUpdateStatus); !domain.IsDomainError(err, domain.ErrCodeInvalid) {
		t.Fatalf("missing completed should be invalid, got %v", err)
	}
	if _, err := decodePrepare(t, `{"task_id":1,"owner":"not-a-key"}`).Payload(domain.OpDeleteTask); err == nil {
		t.Fatalf("expected bad owner to fail")
	}

	owner := domain.HashedPubkey("owner")
	payload, err := decodePrepare(t, `{"task_id":3,"completed":true,"owner":"`+owner.String()+`"}`).Payload(domain.OpUpdateStatus)
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	status := payload.(domain.UpdateStatusPayload)
	if status.TaskID != 3 || !status.Completed || status.Owner != owner {
		t.Fatalf("unexpected payload %+v", status)
	}
}

func TestPrepareRequestRoundTrip(t *testing.T) {
	last := uint64(4)
	payloads := []domain.Payload{
		domain.CreateTaskPayload{Description: "Buy milk", DueDate: 1700000000, ExpectedLastTaskID: &last},
		domain.UpdateStatusPayload{TaskID: 2, Completed: true},
		domain.UpdateDescriptionPayload{TaskID: 2, Description: "Buy oat milk"},
		domain.DeleteTaskPayload{TaskID: 2},
	}
	for _, p := range payloads {
		body, err := json.Marshal(NewPrepareRequest(p))
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		got, err := decodePrepare(t, string(body)).Payload(p.Operation())
		if err != nil {
			t.Fatalf("%s: %v", p.Operation(), err)
		}
		if create, ok := got.(domain.CreateTaskPayload); ok {
			if create.Description != "Buy milk" || create.DueDate != 1700000000 || *create.ExpectedLastTaskID != 4 {
				t.Fatalf("unexpected create payload %+v", create)
			}
			continue
		}
		if got != p {
			t.Fatalf("round trip mismatch: %+v vs %+v", got, p)
		}
	}
}

func TestErrorBodyKeepsReasons(t *testing.T) {
	body := NewErrorBody(domain.PreparationFailed(domain.ErrProfileNotFound))
	if body.Reason != "PreparationFailed" || body.Cause != "ProfileNotFound" {
		t.Fatalf("unexpected body %+v", body)
	}

	err := body.Err(string(domain.ErrCodeNotFound))
	if !errors.Is(err, domain.ErrProfileNotFound) {
		t.Fatalf("expected ProfileNotFound in chain, got %v", err)
	}
	if !domain.HasReason(err, "PreparationFailed") || domain.CodeOf(err) != domain.ErrCodeNotFound {
		t.Fatalf("unexpected rebuilt error %v", err)
	}

	field := NewErrorBody(domain.ErrDescriptionTooLong)
	if field.Field != "description" || field.Cause != "" {
		t.Fatalf("unexpected field body %+v", field)
	}

	internal := NewErrorBody(errors.New("pgx: connection refused"))
	if internal.Message != "internal error" {
		t.Fatalf("internal error text leaked: %+v", internal)
	}
}
