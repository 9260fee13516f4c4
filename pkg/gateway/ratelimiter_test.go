package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOwnerRateLimiterWindow(t *testing.T) {
	limiter := NewOwnerRateLimiter(3, 10)

	for i := 0; i < 3; i++ {
		allowed, reason := limiter.Allow()
		require.True(t, allowed, reason)
		limiter.Begin()
		limiter.End()
	}

	allowed, reason := limiter.Allow()
	assert.False(t, allowed)
	assert.Equal(t, "rate limit exceeded", reason)
}

func TestOwnerRateLimiterConcurrency(t *testing.T) {
	limiter := NewOwnerRateLimiter(100, 2)

	limiter.Begin()
	limiter.Begin()

	allowed, reason := limiter.Allow()
	assert.False(t, allowed)
	assert.Equal(t, "too many concurrent requests", reason)

	limiter.End()
	allowed, _ = limiter.Allow()
	assert.True(t, allowed)
}

func TestOwnerRateLimiterStats(t *testing.T) {
	limiter := NewOwnerRateLimiter(10, 5)

	limiter.Begin()
	limiter.Begin()
	limiter.End()

	requests, inFlight := limiter.Stats()
	assert.Equal(t, 2, requests)
	assert.Equal(t, 1, inFlight)
}

func TestOwnerRateLimiterDefaults(t *testing.T) {
	limiter := NewOwnerRateLimiter(0, 0)
	requests, inFlight := limiter.Stats()
	assert.Zero(t, requests)
	assert.Zero(t, inFlight)

	allowed, _ := limiter.Allow()
	assert.True(t, allowed)
}

func TestLimiterPoolIsPerOwner(t *testing.T) {
	pool := newLimiterPool(1, 1)

	alice := pool.get("alice")
	alice.Begin()

	allowed, _ := alice.Allow()
	assert.False(t, allowed)

	bob := pool.get("bob")
	allowed, _ = bob.Allow()
	assert.True(t, allowed)

	assert.Same(t, alice, pool.get("alice"))
}
