// Package retry wraps exponential backoff with cooperative cancellation.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Do runs op until it succeeds or ctx is cancelled, backing off
// exponentially between attempts (1s initial, 30s cap, jittered, no elapsed
// limit). Cancellation is observed mid-backoff, so shutdown never waits for
// the next attempt.
func Do(ctx context.Context, logger *zap.Logger, name string, op func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			logger.Warn("operation failed, will retry",
				zap.String("op", name),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return err
	}, backoff.WithContext(b, ctx))
}
