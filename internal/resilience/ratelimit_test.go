// ABOUTME: Tests for the class-keyed token-bucket rate limiter
// ABOUTME: Covers exact burst admission, rejection, and replenishment

package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_ExactBurstFromFullBucket(t *testing.T) {
	limiter := NewRateLimiter(true, map[string]ClassLimit{
		ClassDefault: {ReplenishRate: 1, BurstCapacity: 5},
	})

	// Exactly burstCapacity admissions succeed instantaneously
	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.Allow(ClassDefault), "admission %d", i)
	}

	// The next immediate request is rejected
	assert.ErrorIs(t, limiter.Allow(ClassDefault), ErrRateLimited)
}

func TestRateLimiter_ReplenishesOverTime(t *testing.T) {
	// 10 tokens/second: one replenish interval is 100ms
	limiter := NewRateLimiter(true, map[string]ClassLimit{
		ClassDefault: {ReplenishRate: 10, BurstCapacity: 3},
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.Allow(ClassDefault))
	}
	require.ErrorIs(t, limiter.Allow(ClassDefault), ErrRateLimited)

	// After one full replenish interval exactly one more admission succeeds
	time.Sleep(150 * time.Millisecond)
	assert.NoError(t, limiter.Allow(ClassDefault))
	assert.ErrorIs(t, limiter.Allow(ClassDefault), ErrRateLimited)
}

func TestRateLimiter_ClassesAreIndependent(t *testing.T) {
	limiter := NewRateLimiter(true, map[string]ClassLimit{
		ClassAuth:    {ReplenishRate: 1, BurstCapacity: 1},
		ClassDefault: {ReplenishRate: 1, BurstCapacity: 10},
	})

	require.NoError(t, limiter.Allow(ClassAuth))
	require.ErrorIs(t, limiter.Allow(ClassAuth), ErrRateLimited)

	// Exhausting the auth bucket leaves default untouched
	for i := 0; i < 10; i++ {
		require.NoError(t, limiter.Allow(ClassDefault))
	}
}

func TestRateLimiter_UnknownClassUsesDefault(t *testing.T) {
	limiter := NewRateLimiter(true, map[string]ClassLimit{
		ClassDefault: {ReplenishRate: 1, BurstCapacity: 2},
	})

	require.NoError(t, limiter.Allow("health"))
	require.NoError(t, limiter.Allow("health"))
	assert.ErrorIs(t, limiter.Allow("health"), ErrRateLimited)
}

func TestRateLimiter_Disabled(t *testing.T) {
	limiter := NewRateLimiter(false, map[string]ClassLimit{
		ClassDefault: {ReplenishRate: 1, BurstCapacity: 1},
	})

	for i := 0; i < 100; i++ {
		require.NoError(t, limiter.Allow(ClassDefault))
	}
}
