package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDoSucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), zap.NewNop(), "flaky", func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsPromptlyOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Do(ctx, zap.NewNop(), "never", func(ctx context.Context) error {
		return errors.New("always failing")
	})
	require.Error(t, err)
	// Must unwind during the first backoff interval, not after it.
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDoReturnsCancellationBeforeFirstAttemptRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := Do(ctx, zap.NewNop(), "cancelled", func(ctx context.Context) error {
		attempts++
		return ctx.Err()
	})
	require.Error(t, err)
	assert.LessOrEqual(t, attempts, 1)
}
