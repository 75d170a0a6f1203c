package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"recovery-service/internal/config"
)

func newRateLimiter(t *testing.T, general, recovery int) (*RateLimiter, *time.Time) {
	t.Helper()

	r := NewRateLimiter(&config.Config{
		RateLimit: config.RateLimitConfig{
			Window:        time.Minute,
			GeneralLimit:  general,
			RecoveryLimit: recovery,
		},
	})
	t.Cleanup(r.Close)

	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }
	return r, &clock
}

func TestRateLimitGeneralCap(t *testing.T) {
	r, _ := newRateLimiter(t, 3, 10)

	for i := 0; i < 3; i++ {
		assert.True(t, r.Allow(1, false), "call %d within budget", i+1)
	}
	assert.False(t, r.Allow(1, false))
}

func TestRateLimitRecoveryCapIsTighter(t *testing.T) {
	r, _ := newRateLimiter(t, 10, 2)

	assert.True(t, r.Allow(1, true))
	assert.True(t, r.Allow(1, true))
	assert.False(t, r.Allow(1, true))

	// General budget still open for non-recovery traffic
	assert.True(t, r.Allow(1, false))
}

func TestRateLimitRecoveryConsumesGeneralBudget(t *testing.T) {
	r, _ := newRateLimiter(t, 3, 10)

	assert.True(t, r.Allow(1, true))
	assert.True(t, r.Allow(1, true))
	assert.True(t, r.Allow(1, false))
	assert.False(t, r.Allow(1, false))
}

func TestRateLimitDeniedCallsStillConsume(t *testing.T) {
	r, _ := newRateLimiter(t, 10, 1)

	assert.True(t, r.Allow(1, true))
	for i := 0; i < 3; i++ {
		assert.False(t, r.Allow(1, true))
	}

	// The denied recovery calls burned general budget too
	b := r.bucket(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Equal(t, 4, b.count)
	assert.Equal(t, 4, b.recoveryCount)
}

func TestRateLimitWindowReset(t *testing.T) {
	r, clock := newRateLimiter(t, 2, 2)

	assert.True(t, r.Allow(1, true))
	assert.True(t, r.Allow(1, true))
	assert.False(t, r.Allow(1, true))

	*clock = clock.Add(61 * time.Second)
	assert.True(t, r.Allow(1, true))
}

func TestRateLimitIdentitiesAreIndependent(t *testing.T) {
	r, _ := newRateLimiter(t, 1, 1)

	assert.True(t, r.Allow(1, true))
	assert.False(t, r.Allow(1, true))
	assert.True(t, r.Allow(2, true))
}

func TestRateLimitEvictStale(t *testing.T) {
	r, clock := newRateLimiter(t, 5, 5)

	r.Allow(1, false)
	*clock = clock.Add(3 * time.Minute)
	r.evictStale()

	r.mu.RLock()
	_, ok := r.buckets[1]
	r.mu.RUnlock()
	assert.False(t, ok)
}
