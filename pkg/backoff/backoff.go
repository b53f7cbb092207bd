// Package backoff provides exponential backoff delays for retry loops.
package backoff

import (
	"math"
	"time"
)

// Default policy used when a zero Policy is supplied.
const (
	DefaultInitial = 100 * time.Millisecond
	DefaultMax     = 5 * time.Second
)

// Policy describes exponential growth between attempts.
// The zero value uses the package defaults.
type Policy struct {
	Initial time.Duration // delay before the second attempt
	Max     time.Duration // ceiling for the delay
}

// Delay returns the wait before the given attempt. Attempt 1 returns Initial,
// attempt 2 returns Initial*2, and so on up to Max.
func (p Policy) Delay(attempt int) time.Duration {
	initial := p.Initial
	if initial <= 0 {
		initial = DefaultInitial
	}
	ceiling := p.Max
	if ceiling <= 0 {
		ceiling = DefaultMax
	}

	if attempt < 1 {
		return initial
	}
	d := float64(initial) * math.Pow(2.0, float64(attempt-1))
	if d > float64(ceiling) {
		return ceiling
	}
	return time.Duration(d)
}
