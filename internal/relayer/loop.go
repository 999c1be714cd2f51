package relayer

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// runLoop calls pass every interval until ctx is done. A failing pass is
// retried after an exponential backoff instead of the interval.
func runLoop(ctx context.Context, logger *zap.Logger, interval time.Duration, pass func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = interval
	b.MaxInterval = 2 * time.Minute
	b.MaxElapsedTime = 0

	for {
		wait := interval
		if err := pass(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			wait = b.NextBackOff()
			logger.Warn("Pass failed", zap.Error(err), zap.Duration("retryIn", wait))
		} else {
			b.Reset()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}
