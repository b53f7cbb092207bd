package backoff

import (
	"testing"
	"time"
)

func TestPolicy_Delay(t *testing.T) {
	t.Parallel()
	p := Policy{Initial: time.Second, Max: 10 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second}, // capped
		{20, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestPolicy_ZeroValueDefaults(t *testing.T) {
	t.Parallel()
	var p Policy

	if got := p.Delay(1); got != DefaultInitial {
		t.Errorf("Delay(1) = %v, want %v", got, DefaultInitial)
	}
	if got := p.Delay(100); got != DefaultMax {
		t.Errorf("Delay(100) = %v, want %v", got, DefaultMax)
	}
}
