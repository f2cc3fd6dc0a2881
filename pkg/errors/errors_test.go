// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNew(t *testing.T) {
	cause := errors.New("context deadline exceeded")
	ge := New(CodeTimeout, "validation gate timed out", cause)

	if ge.Code != CodeTimeout {
		t.Errorf("expected CodeTimeout, got %v", ge.Code)
	}
	if ge.Message != "validation gate timed out" {
		t.Errorf("expected message 'validation gate timed out', got %q", ge.Message)
	}
	if ge.Err != cause {
		t.Errorf("expected cause to be preserved")
	}
	if !errors.Is(ge, cause) {
		t.Errorf("expected errors.Is to work with wrapped error")
	}
}

func TestWithContext(t *testing.T) {
	ge := New(CodeUnknownTask, "no cycle for task", nil)
	ge.WithContext("task_id", "T1").
		WithContext("operation", "advance_phase")

	if ge.Context["task_id"] != "T1" {
		t.Errorf("expected context task_id to be 'T1'")
	}
	if ge.Context["operation"] == nil {
		t.Errorf("expected context operation to be set")
	}
}

func TestWithAttribute(t *testing.T) {
	ge := New(CodeDriftBlocked, "high severity drift", nil)
	ge.WithAttribute("baseline_hash", "abc").
		WithAttribute("current_hash", "def")

	if ge.Attributes["baseline_hash"] != "abc" {
		t.Errorf("expected attribute baseline_hash")
	}
	if ge.Attributes["current_hash"] != "def" {
		t.Errorf("expected attribute current_hash")
	}
}

func TestWithRecoverable(t *testing.T) {
	ge := New(CodeValidationFailed, "gate failed", nil)
	if ge.Recoverable {
		t.Errorf("expected recoverable to be false by default")
	}
	ge.WithRecoverable(true)
	if !ge.Recoverable {
		t.Errorf("expected recoverable to be true after WithRecoverable")
	}
	if ge.RecoverableString() != "true" {
		t.Errorf("expected RecoverableString 'true'")
	}
}

func TestIsCode(t *testing.T) {
	ge := New(CodeCycleClosed, "cycle already closed", nil)
	if !IsCode(ge, CodeCycleClosed) {
		t.Errorf("expected IsCode to match")
	}
	if IsCode(ge, CodeUnknownTask) {
		t.Errorf("expected IsCode mismatch for other code")
	}
	if IsCode(errors.New("plain"), CodeInternal) {
		t.Errorf("plain errors carry no code")
	}
	if IsCode(nil, CodeInternal) {
		t.Errorf("nil error carries no code")
	}
}

func TestAsGateError(t *testing.T) {
	plain := errors.New("boom")
	ge := AsGateError(plain)
	if ge.Code != CodeInternal {
		t.Errorf("expected plain error wrapped as internal, got %v", ge.Code)
	}
	same := New(CodeInvalidInput, "bad phase", nil)
	if AsGateError(same) != same {
		t.Errorf("expected existing GateError returned unchanged")
	}
	if AsGateError(nil) != nil {
		t.Errorf("expected nil for nil error")
	}
}

func TestMarshalJSON(t *testing.T) {
	ge := New(CodeSkipRejected, "skip without override", nil).WithRecoverable(true)
	data, err := json.Marshal(ge)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["code"] != string(CodeSkipRejected) {
		t.Errorf("expected code %s in JSON, got %v", CodeSkipRejected, decoded["code"])
	}
	if decoded["recoverable"] != true {
		t.Errorf("expected recoverable true in JSON")
	}
}
