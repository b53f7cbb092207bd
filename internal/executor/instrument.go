package executor

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"nodescaler/internal/apperrors"
)

// MetricsRecorder receives per-invocation executor metrics.
type MetricsRecorder interface {
	RecordExecInvocation(ctx context.Context, tool string, timedOut bool, durationSeconds float64)
}

// Instrumented wraps a Runner and records one metric sample per invocation,
// labeled by tool binary name.
type Instrumented struct {
	next    Runner
	metrics MetricsRecorder
}

// Instrument wraps runner with metrics recording. A nil recorder returns the
// runner unchanged.
func Instrument(runner Runner, metrics MetricsRecorder) Runner {
	if metrics == nil {
		return runner
	}
	return &Instrumented{next: runner, metrics: metrics}
}

func (i *Instrumented) Run(ctx context.Context, command string, args []string, timeout time.Duration) (*Result, error) {
	start := time.Now()
	result, err := i.next.Run(ctx, command, args, timeout)

	timedOut := errors.Is(err, apperrors.ErrTimeout)
	i.metrics.RecordExecInvocation(ctx, filepath.Base(command), timedOut, time.Since(start).Seconds())
	return result, err
}

var _ Runner = (*Instrumented)(nil)
