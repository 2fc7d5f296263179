// Package retry implements the retry executor (C2): exponential backoff
// with jitter and error classification mapping a failure to a recovery
// action the FSM should take.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy configures a Retryer's backoff schedule. Callers that hold a
// session.RetryStrategy build a Policy by copying its fields across
// rather than passing the strategy type itself, keeping this package free
// of a dependency on the session package.
type Policy struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	BackoffFactor  float64
	JitterFraction float64
}

// Retryer executes an operation with retries according to a Policy.
type Retryer interface {
	Do(ctx context.Context, op func(ctx context.Context) error) error
	DoWithResult(ctx context.Context, op func(ctx context.Context) (any, error)) (any, error)
}

type backoffRetryer struct {
	policy Policy
	rng    *rand.Rand
}

// New returns a Retryer applying exponential backoff with jitter between
// attempts, honoring ctx cancellation during sleeps.
func New(policy Policy) Retryer {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.BackoffFactor <= 1 {
		policy.BackoffFactor = 2
	}
	return &backoffRetryer{policy: policy, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (r *backoffRetryer) Do(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := r.DoWithResult(ctx, func(ctx context.Context) (any, error) {
		return nil, op(ctx)
	})
	return err
}

func (r *backoffRetryer) DoWithResult(ctx context.Context, op func(ctx context.Context) (any, error)) (any, error) {
	var lastErr error
	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := r.calculateDelay(attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// calculateDelay computes the exponential-backoff delay for the given
// attempt number (1-indexed retry count): min(InitialDelay *
// BackoffFactor^(attempt-1), MaxDelay), jittered by +/- JitterFraction and
// then clamped to [InitialDelay, MaxDelay] so jitter can never push the
// result outside the documented bounds (§8: backoff(k) in
// [backoffMs, maxBackoffMs]).
func (r *backoffRetryer) calculateDelay(attempt int) time.Duration {
	base := float64(r.policy.InitialDelay) * math.Pow(r.policy.BackoffFactor, float64(attempt-1))
	if base > float64(r.policy.MaxDelay) {
		base = float64(r.policy.MaxDelay)
	}
	if r.policy.JitterFraction > 0 {
		jitter := base * r.policy.JitterFraction
		base += (r.rng.Float64()*2 - 1) * jitter
	}
	if base < float64(r.policy.InitialDelay) {
		base = float64(r.policy.InitialDelay)
	}
	if base > float64(r.policy.MaxDelay) {
		base = float64(r.policy.MaxDelay)
	}
	return time.Duration(base)
}

// RetryableError wraps an error to explicitly mark it retryable or not,
// overriding the default classification in IsRetryable.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// WrapRetryable annotates err with an explicit retryable flag.
func WrapRetryable(err error, retryable bool) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err, Retryable: retryable}
}
