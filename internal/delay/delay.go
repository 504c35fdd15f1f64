// Package delay provides backoff schedules for redelivery timing.
package delay

import (
	"math"
	"time"
)

// Func returns the delay to apply after a given retry attempt.
type Func func(attempt int) time.Duration

// Fixed returns a Func with the same delay for every attempt.
func Fixed(d time.Duration) Func {
	return func(attempt int) time.Duration {
		return d
	}
}

// Exponential returns a Func that doubles the base delay on every attempt,
// capped at maxDelay. With a base of 1s, attempts 1..5 yield 2s, 4s, 8s,
// 16s and 32s.
func Exponential(base time.Duration, maxDelay time.Duration) Func {
	// Pre-calculate max shifts to prevent overflow
	logBase := math.Floor(math.Log2(float64(base)))
	var maxShifts uint
	if logBase >= 62 {
		// If base is already near maximum, no shifts allowed to prevent overflow
		maxShifts = 0
	} else {
		maxShifts = 62 - uint(logBase)
	}

	return func(attempt int) time.Duration {
		if attempt <= 0 {
			return min(base, maxDelay)
		}

		// nolint:gosec
		n := min(uint(attempt), maxShifts)

		next := base << n
		return min(next, maxDelay)
	}
}
