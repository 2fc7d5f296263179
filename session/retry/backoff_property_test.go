package retry

import (
	"math/rand"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// TestCalculateDelayBounded asserts backoff(k) stays within [InitialDelay,
// MaxDelay] for every attempt, even after jitter is applied — spec.md §8's
// testable invariant is an exact bound, not a jitter-inflated one.
func TestCalculateDelayBounded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		initial := time.Duration(rapid.IntRange(1, 1000).Draw(t, "initial")) * time.Millisecond
		maxDelay := time.Duration(rapid.IntRange(1000, 60000).Draw(t, "max")) * time.Millisecond
		factor := rapid.Float64Range(1.1, 5).Draw(t, "factor")
		jitter := rapid.Float64Range(0, 0.5).Draw(t, "jitter")
		attempt := rapid.IntRange(1, 20).Draw(t, "attempt")

		r := &backoffRetryer{policy: Policy{
			InitialDelay:   initial,
			MaxDelay:       maxDelay,
			BackoffFactor:  factor,
			JitterFraction: jitter,
		}, rng: rand.New(rand.NewSource(1))}

		d := r.calculateDelay(attempt)
		if d < initial {
			t.Fatalf("delay %v below backoffMs %v", d, initial)
		}
		if d > maxDelay {
			t.Fatalf("delay %v exceeds maxBackoffMs %v", d, maxDelay)
		}
	})
}
