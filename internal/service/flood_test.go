package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recovery-service/internal/config"
	"recovery-service/internal/models"
)

func floodConfig(enabled, hardBlock bool) *config.Config {
	return &config.Config{
		Flood: config.FloodConfig{
			Enabled:          enabled,
			HardBlockEnabled: hardBlock,
			WindowSec:        2,
			MaxEvents:        5,
			BlockMin:         30,
		},
	}
}

func newFloodController(t *testing.T, enabled, hardBlock bool) (*FloodController, *memRecorder, *time.Time) {
	t.Helper()

	recorder := &memRecorder{}
	fc := NewFloodController(floodConfig(enabled, hardBlock), recorder)
	t.Cleanup(fc.Close)

	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fc.now = func() time.Time { return clock }
	return fc, recorder, &clock
}

func TestFloodAllowsUpToMaxEvents(t *testing.T) {
	fc, recorder, _ := newFloodController(t, true, false)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d := fc.Check(ctx, 1)
		assert.True(t, d.Allowed, "event %d within budget", i+1)
	}
	assert.Empty(t, recorder.events)

	d := fc.Check(ctx, 1)
	assert.False(t, d.Allowed)
	assert.True(t, d.SendBlockNotice)
	assert.Contains(t, recorder.types(), models.AuditFloodBlocked)
}

func TestFloodBlockNoticeIsOneShot(t *testing.T) {
	fc, _, _ := newFloodController(t, true, false)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		fc.Check(ctx, 1)
	}
	first := fc.Check(ctx, 1)
	require.True(t, first.SendBlockNotice)

	again := fc.Check(ctx, 1)
	assert.False(t, again.Allowed)
	assert.False(t, again.SendBlockNotice)
}

func TestFloodBlockExpires(t *testing.T) {
	fc, _, clock := newFloodController(t, true, false)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		fc.Check(ctx, 1)
	}
	assert.False(t, fc.Check(ctx, 1).Allowed)

	*clock = clock.Add(31 * time.Minute)
	d := fc.Check(ctx, 1)
	assert.True(t, d.Allowed, "block window has passed")
}

func TestFloodWindowSlides(t *testing.T) {
	fc, _, clock := newFloodController(t, true, false)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.True(t, fc.Check(ctx, 1).Allowed)
	}

	// Old events age out of the window, so the next one fits again
	*clock = clock.Add(3 * time.Second)
	assert.True(t, fc.Check(ctx, 1).Allowed)
}

func TestFloodDisabledObservesWithoutBlocking(t *testing.T) {
	fc, recorder, _ := newFloodController(t, false, false)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		d := fc.Check(ctx, 1)
		assert.True(t, d.Allowed)
	}
	assert.Contains(t, recorder.types(), models.AuditFloodSuspected)
	assert.NotContains(t, recorder.types(), models.AuditFloodBlocked)

	// The window resets after a suspicion event, no immediate re-trigger
	d := fc.Check(ctx, 1)
	assert.True(t, d.Allowed)
}

func TestFloodHardBlockStubAfterRepeatedBlocks(t *testing.T) {
	fc, recorder, clock := newFloodController(t, true, true)
	ctx := context.Background()

	trip := func() {
		for i := 0; i < 6; i++ {
			fc.Check(ctx, 1)
		}
	}

	trip()
	*clock = clock.Add(31 * time.Minute)
	trip()
	assert.NotContains(t, recorder.types(), models.AuditFloodHardBlockStub)

	*clock = clock.Add(31 * time.Minute)
	trip()
	assert.Contains(t, recorder.types(), models.AuditFloodHardBlockStub)
}

func TestFloodIdentitiesAreIndependent(t *testing.T) {
	fc, _, _ := newFloodController(t, true, false)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		fc.Check(ctx, 1)
	}
	assert.False(t, fc.Check(ctx, 1).Allowed)
	assert.True(t, fc.Check(ctx, 2).Allowed)
}

func TestFloodEvictStale(t *testing.T) {
	fc, _, clock := newFloodController(t, true, false)
	ctx := context.Background()

	fc.Check(ctx, 1)
	*clock = clock.Add(time.Hour)
	fc.evictStale()

	fc.mu.RLock()
	_, ok := fc.states[1]
	fc.mu.RUnlock()
	assert.False(t, ok)
}
