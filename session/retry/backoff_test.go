package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsWithoutRetry(t *testing.T) {
	r := New(Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2})
	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesRetryableThenSucceeds(t *testing.T) {
	r := New(Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, BackoffFactor: 2})
	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("timeout while waiting")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	r := New(Policy{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2})
	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("forbidden: invalid api key")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	r := New(Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2})
	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("rate limit exceeded")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	r := New(Policy{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: time.Second, BackoffFactor: 2})
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	err := r.Do(ctx, func(ctx context.Context) error {
		calls++
		return errors.New("network unreachable")
	})
	require.Error(t, err)
}

func TestClassify(t *testing.T) {
	cases := map[string]Category{
		"429 too many requests":   CategoryRateLimit,
		"context deadline exceeded": CategoryTimeout,
		"connection refused":      CategoryNetwork,
		"captcha required":        CategoryUserInputNeeded,
		"forbidden: bad api key":  CategoryFatal,
		"something unexpected":    CategoryRecoverable,
	}
	for msg, want := range cases {
		got := Classify(errors.New(msg))
		assert.Equal(t, want, got, msg)
	}
}
