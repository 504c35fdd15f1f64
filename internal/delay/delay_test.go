package delay

import (
	"math"
	"testing"
	"time"
)

func TestFixed(t *testing.T) {
	delayFunc := Fixed(5 * time.Second)

	for _, attempt := range []int{0, 1, 2, 5, 10, 100} {
		result := delayFunc(attempt)
		if result != 5*time.Second {
			t.Errorf("Fixed for attempt %d = %v, want %v", attempt, result, 5*time.Second)
		}
	}
}

func TestExponential(t *testing.T) {
	tests := []struct {
		name     string
		base     time.Duration
		maxDelay time.Duration
		cases    []struct {
			attempt  int
			expected time.Duration
		}
	}{
		{
			name:     "standard exponential backoff",
			base:     1 * time.Second,
			maxDelay: 60 * time.Second,
			cases: []struct {
				attempt  int
				expected time.Duration
			}{
				{attempt: 0, expected: 1 * time.Second},
				{attempt: 1, expected: 2 * time.Second},
				{attempt: 2, expected: 4 * time.Second},
				{attempt: 3, expected: 8 * time.Second},
				{attempt: 4, expected: 16 * time.Second},
				{attempt: 5, expected: 32 * time.Second},
				{attempt: 6, expected: 60 * time.Second},
				{attempt: 10, expected: 60 * time.Second},
			},
		},
		{
			name:     "default retry schedule",
			base:     1000 * time.Millisecond,
			maxDelay: time.Duration(math.MaxInt64),
			cases: []struct {
				attempt  int
				expected time.Duration
			}{
				{attempt: 1, expected: 2000 * time.Millisecond},
				{attempt: 2, expected: 4000 * time.Millisecond},
				{attempt: 3, expected: 8000 * time.Millisecond},
				{attempt: 4, expected: 16000 * time.Millisecond},
				{attempt: 5, expected: 32000 * time.Millisecond},
			},
		},
		{
			name:     "huge attempt does not overflow",
			base:     1 * time.Second,
			maxDelay: time.Hour,
			cases: []struct {
				attempt  int
				expected time.Duration
			}{
				{attempt: 500, expected: time.Hour},
				{attempt: math.MaxInt32, expected: time.Hour},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delayFunc := Exponential(tt.base, tt.maxDelay)

			for _, c := range tt.cases {
				result := delayFunc(c.attempt)
				if result != c.expected {
					t.Errorf("Exponential(%v) for attempt %d = %v, want %v",
						tt.base, c.attempt, result, c.expected)
				}
			}
		})
	}
}
