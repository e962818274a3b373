// ABOUTME: Sentinel errors for the resilience layer
// ABOUTME: Callers map these to HTTP 429/503 at the edge

package resilience

import "errors"

var (
	// ErrRateLimited means the admission check found no bucket capacity; the call was never made
	ErrRateLimited = errors.New("rate limited")

	// ErrCircuitOpen means the upstream's breaker is open; the call was never made
	ErrCircuitOpen = errors.New("circuit open")

	// ErrRetriesExhausted means every attempt against the upstream failed
	ErrRetriesExhausted = errors.New("retries exhausted")
)
