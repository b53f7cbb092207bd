package kube

import (
	"context"
	"testing"
	"time"

	"nodescaler/internal/executor"
)

func newTestPoller(runner *fakeRunner, maxAttempts int) *Poller {
	client := NewClient(runner, testConfig())
	return NewPoller(client, PollerConfig{
		MaxAttempts: maxAttempts,
		Interval:    time.Millisecond,
		MaxInterval: 5 * time.Millisecond,
	})
}

func TestPoller_ReadyFirstAttempt(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{results: []fakeCall{
		{result: &executor.Result{ExitCode: 0, Stdout: "True"}},
	}}
	poller := newTestPoller(runner, 5)

	snapshot, err := poller.WaitReady(context.Background(), "worker-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !snapshot.Ready {
		t.Error("expected ready snapshot")
	}
	if snapshot.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", snapshot.Attempts)
	}
}

func TestPoller_NotFoundThenReady(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{results: []fakeCall{
		{result: &executor.Result{ExitCode: 1, Stderr: "NotFound"}},
		{result: &executor.Result{ExitCode: 0, Stdout: "False"}},
		{result: &executor.Result{ExitCode: 0, Stdout: "True"}},
	}}
	poller := newTestPoller(runner, 5)

	snapshot, err := poller.WaitReady(context.Background(), "worker-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !snapshot.Ready {
		t.Error("expected ready snapshot after retries")
	}
	if snapshot.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", snapshot.Attempts)
	}
}

func TestPoller_ExhaustsAttempts_NeverRegistered(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{results: []fakeCall{
		{result: &executor.Result{ExitCode: 1, Stderr: "NotFound"}},
		{result: &executor.Result{ExitCode: 1, Stderr: "NotFound"}},
		{result: &executor.Result{ExitCode: 1, Stderr: "NotFound"}},
	}}
	poller := newTestPoller(runner, 3)

	snapshot, err := poller.WaitReady(context.Background(), "worker-1")
	if err != nil {
		t.Fatalf("exhaustion must not be an error: %v", err)
	}
	if snapshot.Ready {
		t.Error("expected not-ready snapshot")
	}
	if snapshot.Found {
		t.Error("expected found=false so callers can report never-registered")
	}
	if snapshot.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", snapshot.Attempts)
	}
}

func TestPoller_ExhaustsAttempts_FoundButNotReady(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{results: []fakeCall{
		{result: &executor.Result{ExitCode: 0, Stdout: "False"}},
		{result: &executor.Result{ExitCode: 0, Stdout: "False"}},
	}}
	poller := newTestPoller(runner, 2)

	snapshot, err := poller.WaitReady(context.Background(), "worker-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !snapshot.Found || snapshot.Ready {
		t.Errorf("expected found-but-not-ready, got %+v", snapshot)
	}
}

func TestPoller_ContextCancelled(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{results: []fakeCall{
		{result: &executor.Result{ExitCode: 1, Stderr: "NotFound"}},
	}}
	poller := NewPoller(NewClient(runner, testConfig()), PollerConfig{
		MaxAttempts: 100,
		Interval:    time.Hour, // never elapses; cancellation must win
		MaxInterval: time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := poller.WaitReady(ctx, "worker-1")
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
