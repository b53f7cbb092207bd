package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestValidation(t *testing.T) {
	t.Parallel()
	err := Validation("hostname", "hostname is required")

	if !errors.Is(err, ErrValidation) {
		t.Error("expected error to match ErrValidation")
	}
	if err.Error() != "hostname is required" {
		t.Errorf("expected message 'hostname is required', got %q", err.Error())
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Field != "hostname" {
		t.Errorf("expected field 'hostname', got %q", appErr.Field)
	}
}

func TestNotFound(t *testing.T) {
	t.Parallel()
	err := NotFound("job", "worker-1_10.0.0.5")

	if !errors.Is(err, ErrNotFound) {
		t.Error("expected error to match ErrNotFound")
	}
	if err.Error() != "job worker-1_10.0.0.5 not found" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestConflict(t *testing.T) {
	t.Parallel()
	err := Conflict("job", "worker-1", "a job for worker-1 is already active")

	if !errors.Is(err, ErrConflict) {
		t.Error("expected error to match ErrConflict")
	}
	if err.Error() != "a job for worker-1 is already active" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestProtected(t *testing.T) {
	t.Parallel()
	err := Protected("master-1")

	if !errors.Is(err, ErrProtected) {
		t.Error("expected error to match ErrProtected")
	}
	if err.Error() != "host master-1 is a control-plane member and cannot be removed" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestTimeout(t *testing.T) {
	t.Parallel()
	err := Timeout("executor.run ansible-playbook", 30*time.Minute)

	if !errors.Is(err, ErrTimeout) {
		t.Error("expected error to match ErrTimeout")
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Op != "executor.run ansible-playbook" {
		t.Errorf("unexpected op: %q", appErr.Op)
	}
}

func TestInternal(t *testing.T) {
	t.Parallel()
	cause := fmt.Errorf("rename failed")
	err := Internal("inventory.persist", cause)

	if !errors.Is(err, ErrInternal) {
		t.Error("expected error to match ErrInternal")
	}
	if err.Error() != "inventory.persist: rename failed" {
		t.Errorf("unexpected message: %q", err.Error())
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Cause != cause {
		t.Error("expected cause to be preserved")
	}
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"validation", Validation("hostname", "required"), http.StatusBadRequest},
		{"not found", NotFound("job", "w1"), http.StatusNotFound},
		{"conflict", Conflict("job", "w1", "active"), http.StatusConflict},
		{"protected", Protected("master-1"), http.StatusForbidden},
		{"timeout", Timeout("kubectl drain", time.Minute), http.StatusGatewayTimeout},
		{"internal", Internal("op", fmt.Errorf("fail")), http.StatusInternalServerError},
		{"wrapped protected", fmt.Errorf("remove: %w", Protected("m1")), http.StatusForbidden},
		{"unknown error", fmt.Errorf("unknown"), http.StatusInternalServerError},
		{"nil error", nil, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := HTTPStatus(tt.err)
			if got != tt.expected {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestErrorsIsWithWrapping(t *testing.T) {
	t.Parallel()
	// errors.Is must classify through multiple wraps
	original := Protected("master-1")
	wrapped := fmt.Errorf("remove workflow: %w", original)
	doubleWrapped := fmt.Errorf("handler: %w", wrapped)

	if !errors.Is(doubleWrapped, ErrProtected) {
		t.Error("expected errors.Is to find ErrProtected through multiple wraps")
	}
}
