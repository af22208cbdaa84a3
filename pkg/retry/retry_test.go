package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testNetError struct {
	timeout bool
}

func (e testNetError) Error() string   { return "net error" }
func (e testNetError) Timeout() bool   { return e.timeout }
func (e testNetError) Temporary() bool { return false }

func TestDo_RetriesOnRetryableError(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Config{MaxAttempts: 3}, IsRetryable, func(context.Context) error {
		attempts++
		return testNetError{timeout: true}
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_NoRetryOnNonRetryable(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Config{MaxAttempts: 3}, IsRetryable, func(context.Context) error {
		attempts++
		return errors.New("boom")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_RetriesThrottling(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Config{MaxAttempts: 4}, nil, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return &smithy.GenericAPIError{Code: "RequestLimitExceeded", Message: "slow down"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_AppliesAttemptTimeout(t *testing.T) {
	err := Do(context.Background(), Config{MaxAttempts: 1, AttemptTimeout: 10 * time.Millisecond}, nil, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDo_ReturnsLastErrorUnwrapped(t *testing.T) {
	boom := &smithy.GenericAPIError{Code: "Throttling", Message: "slow down"}
	attempts := 0
	err := Do(context.Background(), Config{MaxAttempts: 2}, nil, func(context.Context) error {
		attempts++
		return boom
	})
	assert.Same(t, boom, err)
	assert.Equal(t, 2, attempts)
}

func TestDo_WaitsBetweenAttempts(t *testing.T) {
	start := time.Now()
	attempts := 0
	err := Do(context.Background(), Config{MaxAttempts: 3, Delay: 20 * time.Millisecond}, nil, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return context.DeadlineExceeded
		}
		return nil
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestDo_StopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := Do(ctx, Config{MaxAttempts: 3}, IsRetryable, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestPoll(t *testing.T) {
	t.Run("done on third attempt", func(t *testing.T) {
		calls := 0
		err := Poll(context.Background(), 5, time.Millisecond, 0, func(context.Context) (bool, error) {
			calls++
			return calls == 3, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("exhausted", func(t *testing.T) {
		calls := 0
		err := Poll(context.Background(), 4, time.Millisecond, 0, func(context.Context) (bool, error) {
			calls++
			return false, nil
		})
		assert.ErrorIs(t, err, ErrPollExhausted)
		assert.Equal(t, 4, calls)
	})

	t.Run("attempt timeout reaches the condition", func(t *testing.T) {
		err := Poll(context.Background(), 2, time.Millisecond, 10*time.Millisecond, func(ctx context.Context) (bool, error) {
			<-ctx.Done()
			return false, ctx.Err()
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0
		err := Poll(ctx, 3, time.Millisecond, 0, func(context.Context) (bool, error) {
			calls++
			return true, nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, calls)
	})

	t.Run("error stops polling", func(t *testing.T) {
		calls := 0
		boom := errors.New("boom")
		err := Poll(context.Background(), 4, time.Millisecond, 0, func(context.Context) (bool, error) {
			calls++
			return false, boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
	})
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.Canceled))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.True(t, IsRetryable(&smithy.GenericAPIError{Code: "Throttling"}))
	assert.False(t, IsRetryable(&smithy.GenericAPIError{Code: "UnauthorizedOperation"}))
	assert.True(t, IsRetryable(testNetError{timeout: true}))
	assert.False(t, IsRetryable(testNetError{timeout: false}))
}
