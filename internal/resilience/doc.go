// Package resilience guards upstream calls with rate limiting, circuit
// breaking and retry.
//
// # Composition
//
// Chain.Execute applies the three mechanisms in a fixed order:
//
//	rate limit admission -> circuit breaker gate -> retry loop -> call
//
// A rate-limited or circuit-open request never reaches the upstream and is
// never retried.
//
// # Rate limiter
//
// Token buckets keyed by route class ("auth" vs "default"), built on
// golang.org/x/time/rate. Each class has its own replenish rate and burst
// capacity. Concurrent admission checks are atomic.
//
// # Circuit breaker
//
// One breaker per upstream with a count-based sliding window. While CLOSED,
// outcomes are recorded; once the window holds the minimum number of calls
// and the failure rate reaches the threshold, the breaker OPENs and fails
// fast. After the wait duration it moves to HALF_OPEN and admits a bounded
// number of trial calls: all healthy closes the circuit, any failure
// reopens it and resets the wait timer. Transitions happen under a single
// mutex so racing requests cannot double-count outcomes or double-consume
// trial permits.
//
// # Retry
//
// Exponential backoff via cenkalti/backoff/v5 with a bounded attempt count.
// Context cancellation abandons pending retries. Exhaustion surfaces
// ErrRetriesExhausted, which the gateway maps to a per-upstream fallback
// response rather than a generic error. An abandoned (canceled) call counts
// as neither success nor failure for the breaker; a timeout counts as a
// failure.
package resilience
