// ABOUTME: Tests for the per-caller RPC limiter pool
// ABOUTME: Uses fixed clock values so refill and pruning are deterministic

package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterPool(t *testing.T) {
	p := newLimiterPool(1, 2)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	assert.True(t, p.Allow("alice"))
	assert.True(t, p.Allow("alice"))
	assert.False(t, p.Allow("alice"), "burst exhausted")
	assert.True(t, p.Allow("bob"))

	now = now.Add(time.Second)
	assert.True(t, p.Allow("alice"), "one token refilled")
}

func TestLimiterPoolPrunesIdleCallers(t *testing.T) {
	p := newLimiterPool(0, 0)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	p.Allow("alice")
	p.Allow("bob")
	assert.Equal(t, 2, p.size())

	now = now.Add(limiterIdleTTL + time.Minute)
	p.Allow("carol")
	assert.Equal(t, 1, p.size())
}
