package executor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"nodescaler/internal/apperrors"
)

func TestLocal_Run_Success(t *testing.T) {
	t.Parallel()
	runner := NewLocal()

	result, err := runner.Run(context.Background(), "sh", []string{"-c", "echo out; echo err >&2"}, 10*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", result.ExitCode)
	}
	if !result.Success() {
		t.Error("expected Success() to be true")
	}
	if strings.TrimSpace(result.Stdout) != "out" {
		t.Errorf("unexpected stdout: %q", result.Stdout)
	}
	if strings.TrimSpace(result.Stderr) != "err" {
		t.Errorf("unexpected stderr: %q", result.Stderr)
	}
}

func TestLocal_Run_NonZeroExit(t *testing.T) {
	t.Parallel()
	runner := NewLocal()

	result, err := runner.Run(context.Background(), "sh", []string{"-c", "echo boom >&2; exit 3"}, 10*time.Second)
	if err != nil {
		t.Fatalf("non-zero exit must not be an error, got: %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", result.ExitCode)
	}
	if result.Success() {
		t.Error("expected Success() to be false")
	}
	if !strings.Contains(result.Stderr, "boom") {
		t.Errorf("expected stderr to be captured, got %q", result.Stderr)
	}
}

func TestLocal_Run_Timeout(t *testing.T) {
	t.Parallel()
	runner := NewLocal()

	start := time.Now()
	result, err := runner.Run(context.Background(), "sleep", []string{"30"}, 100*time.Millisecond)
	elapsed := time.Since(start)

	if !errors.Is(err, apperrors.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if result == nil {
		t.Fatal("expected partial result alongside timeout error")
	}
	// The process must be killed near the timeout, never run to completion.
	if elapsed > 10*time.Second {
		t.Errorf("run did not terminate promptly after timeout: %v", elapsed)
	}
}

func TestLocal_Run_StartFailure(t *testing.T) {
	t.Parallel()
	runner := NewLocal()

	_, err := runner.Run(context.Background(), "/nonexistent/binary", nil, time.Second)
	if !errors.Is(err, apperrors.ErrInternal) {
		t.Fatalf("expected ErrInternal for unstartable command, got %v", err)
	}
}

func TestLocal_Run_RejectsMissingTimeout(t *testing.T) {
	t.Parallel()
	runner := NewLocal()

	_, err := runner.Run(context.Background(), "true", nil, 0)
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected ErrValidation for zero timeout, got %v", err)
	}
}
