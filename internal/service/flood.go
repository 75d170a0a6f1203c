package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"recovery-service/internal/config"
	"recovery-service/internal/models"
	"recovery-service/internal/notify"
	"recovery-service/internal/util"
)

// hardBlockThreshold is the cumulative block count past which the
// escalation stub fires. Escalation itself is audit-only for now.
const hardBlockThreshold = 3

// FloodDecision is the outcome of one flood check. SendBlockNotice is set
// on the first block of a block period only.
type FloodDecision struct {
	Allowed         bool
	SendBlockNotice bool
}

type floodState struct {
	mu           sync.Mutex
	events       []time.Time
	blockedUntil time.Time
	noticeSent   bool
	blockCount   int
	lastSeen     time.Time
}

// FloodController is a per-identity sliding-window abuse gate in front of
// the inbound channel. State is process-local and rebuilds from zero on
// restart; durable locks live on the account, not here.
type FloodController struct {
	mu       sync.RWMutex
	states   map[int64]*floodState
	recorder models.AuditRecorder

	enabled          bool
	hardBlockEnabled bool
	window           time.Duration
	maxEvents        int
	blockDuration    time.Duration

	now  func() time.Time
	stop chan struct{}
}

func NewFloodController(cfg *config.Config, recorder models.AuditRecorder) *FloodController {
	f := &FloodController{
		states:           make(map[int64]*floodState),
		recorder:         recorder,
		enabled:          cfg.Flood.Enabled,
		hardBlockEnabled: cfg.Flood.HardBlockEnabled,
		window:           time.Duration(cfg.Flood.WindowSec) * time.Second,
		maxEvents:        cfg.Flood.MaxEvents,
		blockDuration:    time.Duration(cfg.Flood.BlockMin) * time.Minute,
		now:              time.Now,
		stop:             make(chan struct{}),
	}
	go f.janitor()
	return f
}

// Check records one inbound event for the identity and decides whether it
// may proceed. Safe for concurrent use; different identities never contend.
func (f *FloodController) Check(ctx context.Context, externalID int64) FloodDecision {
	now := f.now()
	state := f.state(externalID)

	state.mu.Lock()
	defer state.mu.Unlock()

	state.lastSeen = now

	if !state.blockedUntil.IsZero() && now.Before(state.blockedUntil) {
		return FloodDecision{Allowed: false}
	}
	if !state.blockedUntil.IsZero() && !now.Before(state.blockedUntil) {
		state.blockedUntil = time.Time{}
		state.noticeSent = false
	}

	state.prune(now, f.window)
	state.events = append(state.events, now)

	if len(state.events) <= f.maxEvents {
		return FloodDecision{Allowed: true}
	}

	if !f.enabled {
		// Rollout safety valve: observe, never enforce
		f.audit(ctx, models.AuditFloodSuspected, externalID, map[string]string{
			"events":     fmt.Sprintf("%d", len(state.events)),
			"window_sec": fmt.Sprintf("%d", int(f.window.Seconds())),
		})
		util.Warn("Flood suspected, protection disabled",
			zap.Int64("external_id", externalID),
			zap.Int("events", len(state.events)))
		state.events = nil
		return FloodDecision{Allowed: true}
	}

	state.blockedUntil = now.Add(f.blockDuration)
	state.blockCount++
	firstThisBlock := !state.noticeSent
	state.noticeSent = true
	state.events = nil

	f.audit(ctx, models.AuditFloodBlocked, externalID, map[string]string{
		"block_count": fmt.Sprintf("%d", state.blockCount),
	})

	if f.hardBlockEnabled && state.blockCount >= hardBlockThreshold {
		f.audit(ctx, models.AuditFloodHardBlockStub, externalID, map[string]string{
			"block_count": fmt.Sprintf("%d", state.blockCount),
		})
		util.Info("Hard block stub reached",
			zap.Int64("external_id", externalID),
			zap.Int("block_count", state.blockCount))
	}

	return FloodDecision{Allowed: false, SendBlockNotice: firstThisBlock}
}

// BlockNotice is the one-shot text delivered on a fresh block.
func (f *FloodController) BlockNotice() notify.OperatorNotice {
	return notify.OperatorNotice{
		Kind: "flood_blocked",
		Text: "identity temporarily blocked for flooding",
	}
}

func (f *FloodController) Close() {
	close(f.stop)
}

func (f *FloodController) state(externalID int64) *floodState {
	f.mu.RLock()
	s, ok := f.states[externalID]
	f.mu.RUnlock()
	if ok {
		return s
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.states[externalID]; ok {
		return s
	}
	s = &floodState{}
	f.states[externalID] = s
	return s
}

// janitor evicts identities idle for longer than any state they hold
// could matter, keeping the map bounded under unique-identity traffic.
func (f *FloodController) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-f.stop:
			return
		case <-ticker.C:
			f.evictStale()
		}
	}
}

func (f *FloodController) evictStale() {
	horizon := f.window + f.blockDuration
	cutoff := f.now().Add(-horizon)

	f.mu.Lock()
	defer f.mu.Unlock()
	for id, s := range f.states {
		s.mu.Lock()
		stale := s.lastSeen.Before(cutoff) && (s.blockedUntil.IsZero() || s.blockedUntil.Before(f.now()))
		s.mu.Unlock()
		if stale {
			delete(f.states, id)
		}
	}
}

func (f *FloodController) audit(ctx context.Context, eventType string, externalID int64, meta map[string]string) {
	event := &models.AuditEvent{
		EventType:  eventType,
		EventTime:  f.now().UTC(),
		ExternalID: externalID,
		Meta:       meta,
	}
	if err := f.recorder.Record(ctx, event); err != nil {
		util.Warn("Flood audit event not recorded",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

func (s *floodState) prune(now time.Time, window time.Duration) {
	kept := s.events[:0]
	for _, t := range s.events {
		if now.Sub(t) < window {
			kept = append(kept, t)
		}
	}
	s.events = kept
}
