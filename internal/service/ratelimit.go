package service

import (
	"sync"
	"time"

	"recovery-service/internal/config"
)

type rateBucket struct {
	mu              sync.Mutex
	count           int
	resetAt         time.Time
	recoveryCount   int
	recoveryResetAt time.Time
	lastSeen        time.Time
}

// RateLimiter enforces two independent fixed windows per identity: a
// general cap for all traffic and a tighter cap for recovery-sensitive
// calls. Recovery calls consume both budgets.
type RateLimiter struct {
	mu      sync.RWMutex
	buckets map[int64]*rateBucket

	window        time.Duration
	generalLimit  int
	recoveryLimit int

	now  func() time.Time
	stop chan struct{}
}

func NewRateLimiter(cfg *config.Config) *RateLimiter {
	r := &RateLimiter{
		buckets:       make(map[int64]*rateBucket),
		window:        cfg.RateLimit.Window,
		generalLimit:  cfg.RateLimit.GeneralLimit,
		recoveryLimit: cfg.RateLimit.RecoveryLimit,
		now:           time.Now,
		stop:          make(chan struct{}),
	}
	go r.janitor()
	return r
}

// Allow reports whether the identity may make this call. A denied call
// still consumed budget; that matches the window accounting on purpose.
func (r *RateLimiter) Allow(externalID int64, recovery bool) bool {
	now := r.now()
	b := r.bucket(externalID)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastSeen = now

	if !now.Before(b.resetAt) {
		b.count = 0
		b.resetAt = now.Add(r.window)
	}
	if !now.Before(b.recoveryResetAt) {
		b.recoveryCount = 0
		b.recoveryResetAt = now.Add(r.window)
	}

	b.count++
	if recovery {
		b.recoveryCount++
		if b.recoveryCount > r.recoveryLimit {
			return false
		}
	}

	return b.count <= r.generalLimit
}

func (r *RateLimiter) Close() {
	close(r.stop)
}

func (r *RateLimiter) bucket(externalID int64) *rateBucket {
	r.mu.RLock()
	b, ok := r.buckets[externalID]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.buckets[externalID]; ok {
		return b
	}
	b = &rateBucket{}
	r.buckets[externalID] = b
	return b
}

func (r *RateLimiter) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.evictStale()
		}
	}
}

func (r *RateLimiter) evictStale() {
	cutoff := r.now().Add(-2 * r.window)

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, b := range r.buckets {
		b.mu.Lock()
		stale := b.lastSeen.Before(cutoff)
		b.mu.Unlock()
		if stale {
			delete(r.buckets, id)
		}
	}
}
