package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// errBucketUnavailable stands in for a transient KV failure
var errBucketUnavailable = errors.New("bucket unavailable")

func fastConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDoRetriesTransientFailures(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(), func() error {
		attempts++
		if attempts < 3 {
			return errBucketUnavailable
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(), func() error {
		attempts++
		return errBucketUnavailable
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errBucketUnavailable)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	corrupt := errors.New("corrupt view record")
	attempts := 0
	err := Do(context.Background(), fastConfig(), func() error {
		attempts++
		return NonRetryable(corrupt)
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)

	// the wrapper stays transparent to errors.Is so callers can still match
	// the underlying failure
	assert.ErrorIs(t, err, corrupt)
	assert.True(t, IsNonRetryable(err))
}

func TestNonRetryableNilIsNil(t *testing.T) {
	assert.NoError(t, NonRetryable(nil))
	assert.False(t, IsNonRetryable(errBucketUnavailable))
}

func TestDoWithResultReturnsValue(t *testing.T) {
	attempts := 0
	got, err := DoWithResult(context.Background(), fastConfig(), func() ([]string, error) {
		attempts++
		if attempts == 1 {
			return nil, errBucketUnavailable
		}
		return []string{"view-a", "view-b"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, []string{"view-a", "view-b"}, got)
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Do(ctx, fastConfig(), func() error {
		attempts++
		cancel()
		return errBucketUnavailable
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestDoRejectsBadConfig(t *testing.T) {
	noop := func() error { return nil }
	ctx := context.Background()

	assert.Error(t, Do(ctx, Config{InitialDelay: -time.Second}, noop))
	assert.Error(t, Do(ctx, Config{MaxDelay: -time.Second}, noop))
	assert.Error(t, Do(ctx, Config{Multiplier: -1}, noop))
	assert.Error(t, Do(ctx, Config{
		InitialDelay: time.Second,
		MaxDelay:     time.Millisecond,
		MaxAttempts:  2,
		Multiplier:   2.0,
	}, noop))
}

func TestDoRunsOnceWithoutAttempts(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Config{}, func() error {
		attempts++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestPresetConfigs(t *testing.T) {
	assert.Equal(t, 3, DefaultConfig().MaxAttempts)
	assert.Greater(t, Persistent().MaxAttempts, Quick().MaxAttempts)
	assert.Less(t, Quick().InitialDelay, Persistent().InitialDelay)
}
