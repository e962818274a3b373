// ABOUTME: Retry with exponential backoff for upstream calls
// ABOUTME: Built on cenkalti/backoff/v5; exhaustion surfaces ErrRetriesExhausted

package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetrySettings configures the retry policy for upstream calls
type RetrySettings struct {
	MaxAttempts     int           // total attempts, including the first
	InitialInterval time.Duration // first backoff wait
	MaxInterval     time.Duration // backoff ceiling
	Multiplier      float64
}

// Retry runs op with exponential backoff until it succeeds, the attempt
// budget is exhausted, or the context is canceled. Cancellation aborts any
// pending retry without committing further attempts.
func Retry(ctx context.Context, settings RetrySettings, op func() error) error {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = settings.InitialInterval
	expBackoff.MaxInterval = settings.MaxInterval
	expBackoff.Multiplier = settings.Multiplier
	expBackoff.Reset()

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, op()
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(uint(settings.MaxAttempts)),
	)

	if err == nil {
		return nil
	}

	// Client disconnect is not an upstream failure
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
}
