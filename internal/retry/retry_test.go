package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smartdevs17/pool-listener/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 5 * time.Millisecond}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	cause := errors.New("timeout")
	err := fastPolicy(4).Named("latest_block").Do(context.Background(), func(ctx context.Context) error {
		calls++
		return cause
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, utils.ErrCodeRetryExhausted, utils.ErrorCode(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "latest_block")
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := fastPolicy(5).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Permanent(errors.New("bad payload"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, IsPermanent(err))

	calls = 0
	err = fastPolicy(5).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return utils.NewAppError(utils.ErrCodeValidation, "missing token0")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoHonoursContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 0, BaseDelay: time.Hour}

	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, func(ctx context.Context) error { return errors.New("down") })
	}()

	cancel()
	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestUnboundedKeepsTrying(t *testing.T) {
	calls := 0
	err := fastPolicy(2).Unbounded().Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 6 {
			return errors.New("database is locked")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 6, calls)
}

func TestDoValue(t *testing.T) {
	calls := 0
	v, err := DoValue(context.Background(), fastPolicy(3), func(ctx context.Context) (uint64, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("502")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), v)
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	p := Policy{BaseDelay: 2 * time.Second, Multiplier: 2, MaxDelay: 8 * time.Second}
	assert.Equal(t, 2*time.Second, p.Backoff(1))
	assert.Equal(t, 4*time.Second, p.Backoff(2))
	assert.Equal(t, 8*time.Second, p.Backoff(3))
	assert.Equal(t, 8*time.Second, p.Backoff(10))
	assert.Equal(t, maxBackoff, Policy{BaseDelay: time.Second}.Backoff(5000))

	p.Jitter = 0.5
	for i := 0; i < 50; i++ {
		d := p.Backoff(1)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 3*time.Second)
	}
}
