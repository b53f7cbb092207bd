package circuitbreaker

import (
	"testing"
	"time"
)

func TestNew_AppliesDefaults(t *testing.T) {
	t.Parallel()
	b := New(0, 0)

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	if b.State() != Closed {
		t.Error("expected closed state after 4 failures with default threshold 5")
	}

	b.RecordFailure()
	if b.State() != Open {
		t.Error("expected open state after 5 failures")
	}
}

func TestBreaker_ClosedAllows(t *testing.T) {
	t.Parallel()
	b := New(3, time.Minute)

	if !b.Allow() {
		t.Error("closed breaker must allow attempts")
	}
	b.RecordSuccess()
	if b.State() != Closed {
		t.Errorf("expected closed, got %s", b.State())
	}
}

func TestBreaker_OpensAtThresholdAndBlocks(t *testing.T) {
	t.Parallel()
	b := New(3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	if b.State() != Closed {
		t.Error("expected closed before threshold")
	}

	b.RecordFailure()
	if b.State() != Open {
		t.Errorf("expected open at threshold, got %s", b.State())
	}
	if b.Allow() {
		t.Error("open breaker must block attempts during cooldown")
	}
}

func TestBreaker_SuccessResetsRun(t *testing.T) {
	t.Parallel()
	b := New(3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != Closed {
		t.Error("failure run must restart after a success")
	}
	if b.Failures() != 2 {
		t.Errorf("expected 2 consecutive failures, got %d", b.Failures())
	}
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	t.Parallel()
	b := New(1, time.Minute)

	base := time.Now()
	b.now = func() time.Time { return base }

	b.RecordFailure()
	if b.Allow() {
		t.Fatal("expected blocked while open")
	}

	// Advance past the cooldown: one probe is admitted.
	b.now = func() time.Time { return base.Add(2 * time.Minute) }
	if !b.Allow() {
		t.Fatal("expected probe admitted after cooldown")
	}
	if b.State() != HalfOpen {
		t.Errorf("expected half-open, got %s", b.State())
	}
}

func TestBreaker_HalfOpenProbeOutcome(t *testing.T) {
	t.Parallel()

	t.Run("failure reopens", func(t *testing.T) {
		t.Parallel()
		b := New(3, time.Minute)
		base := time.Now()
		b.now = func() time.Time { return base }

		b.RecordFailure()
		b.RecordFailure()
		b.RecordFailure()
		b.now = func() time.Time { return base.Add(2 * time.Minute) }
		b.Allow()

		b.RecordFailure()
		if b.State() != Open {
			t.Errorf("expected open after failed probe, got %s", b.State())
		}
	})

	t.Run("success closes", func(t *testing.T) {
		t.Parallel()
		b := New(3, time.Minute)
		base := time.Now()
		b.now = func() time.Time { return base }

		b.RecordFailure()
		b.RecordFailure()
		b.RecordFailure()
		b.now = func() time.Time { return base.Add(2 * time.Minute) }
		b.Allow()

		b.RecordSuccess()
		if b.State() != Closed {
			t.Errorf("expected closed after successful probe, got %s", b.State())
		}
		if !b.Allow() {
			t.Error("closed breaker must allow attempts")
		}
	})
}

func TestState_String(t *testing.T) {
	t.Parallel()
	tests := []struct {
		state State
		want  string
	}{
		{Closed, "closed"},
		{Open, "open"},
		{HalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
