// ABOUTME: Composes rate limiting, circuit breaking and retry around upstream calls
// ABOUTME: Order is rate limit admission, breaker gate, retry loop, actual call

package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Chain wraps upstream calls with the three resilience mechanisms.
// Breakers are per upstream; the rate limiter is keyed by route class.
type Chain struct {
	limiter         *RateLimiter
	retry           RetrySettings
	breakers        map[string]*Breaker
	mu              sync.Mutex
	breakerSettings BreakerSettings
	logger          *slog.Logger
}

// NewChain creates a resilience chain with the given settings
func NewChain(limiter *RateLimiter, breakerSettings BreakerSettings, retry RetrySettings) *Chain {
	return &Chain{
		limiter:         limiter,
		retry:           retry,
		breakers:        make(map[string]*Breaker),
		breakerSettings: breakerSettings,
		logger:          slog.Default().With("component", "resilience"),
	}
}

// breaker returns the breaker for an upstream, creating it on first use
func (c *Chain) breaker(upstream string) *Breaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.breakers[upstream]
	if !ok {
		b = NewBreaker(c.breakerSettings)
		c.breakers[upstream] = b
	}
	return b
}

// BreakerStates reports the current state of every known breaker
func (c *Chain) BreakerStates() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	states := make(map[string]string, len(c.breakers))
	for name, b := range c.breakers {
		states[name] = b.State().String()
	}
	return states
}

// Execute runs call behind rate limiting, the upstream's circuit breaker and
// the retry policy. Returns ErrRateLimited or ErrCircuitOpen without making
// the call, ErrRetriesExhausted when all attempts fail, or the call's error.
// Context cancellation abandons the call; the breaker counts it as neither
// success nor failure.
func (c *Chain) Execute(ctx context.Context, upstream, class string, call func(context.Context) error) error {
	if err := c.limiter.Allow(class); err != nil {
		return err
	}

	b := c.breaker(upstream)
	if err := b.Allow(); err != nil {
		return err
	}

	err := Retry(ctx, c.retry, func() error {
		return call(ctx)
	})

	switch {
	case err == nil:
		b.RecordSuccess()
	case errors.Is(err, context.Canceled):
		b.RecordAbandoned()
	case errors.Is(err, context.DeadlineExceeded):
		// Upstream timeouts count as failures
		b.RecordFailure()
	default:
		b.RecordFailure()
		c.logger.Debug("upstream call failed", "upstream", upstream, "error", err)
	}

	return err
}
