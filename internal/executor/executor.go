// Package executor runs external provisioning and cluster-control commands.
//
// Commands are opaque external processes: the executor captures exit code,
// stdout and stderr in full, and enforces a caller-supplied timeout. A timeout
// kills the process and yields a distinct error so callers can tell "ran and
// failed" apart from "did not complete". Retry policy belongs to callers.
package executor

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"nodescaler/internal/apperrors"
)

// Result holds the captured outcome of one external command invocation.
type Result struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
}

// Success reports whether the command ran and exited zero.
func (r *Result) Success() bool {
	return r != nil && r.ExitCode == 0
}

// Runner executes an external command with a mandatory timeout.
// A non-zero exit code is not an error: the Result carries it and callers
// interpret it. An error is returned only when the command could not be run
// to completion (start failure, or the timeout expired).
type Runner interface {
	Run(ctx context.Context, command string, args []string, timeout time.Duration) (*Result, error)
}

// Local runs commands on the local host via os/exec.
type Local struct {
	logger *slog.Logger
}

// NewLocal creates a local command runner.
func NewLocal() *Local {
	return &Local{
		logger: slog.With("component", "executor"),
	}
}

// Run executes the command, killing it when the timeout expires.
// On timeout the partial Result captured so far is returned alongside the
// timeout error so diagnostics are never dropped.
func (l *Local) Run(ctx context.Context, command string, args []string, timeout time.Duration) (*Result, error) {
	if timeout <= 0 {
		return nil, apperrors.Validation("timeout", "executor timeout must be positive")
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, command, args...)
	// Release captured pipes shortly after the kill signal even if the
	// process ignores it and holds grandchildren open.
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	result := &Result{
		Command: commandLine(command, args),
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
	}

	l.logger.Debug("Command finished",
		"command", command,
		"duration", duration,
		"stdoutBytes", stdout.Len(),
		"stderrBytes", stderr.Len(),
	)

	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			result.ExitCode = -1
			return result, apperrors.Timeout("executor.run "+command, timeout)
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Ran to completion with a non-zero exit; the caller decides.
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}

		return nil, apperrors.Internal("executor.run "+command, err)
	}

	return result, nil
}

func commandLine(command string, args []string) string {
	if len(args) == 0 {
		return command
	}
	return command + " " + strings.Join(args, " ")
}

// Verify Local implements Runner
var _ Runner = (*Local)(nil)
