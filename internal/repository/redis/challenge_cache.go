package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"recovery-service/internal/client"
	"recovery-service/internal/config"
	"recovery-service/internal/models"
	"recovery-service/internal/util"
)

const challengePrefix = "otp_challenge:"

// Hash fields of a challenge key.
const (
	fieldOTPHash     = "otp_hash"
	fieldSendCount   = "send_count"
	fieldAttempts    = "attempts"
	fieldPinAttempts = "pin_attempts"
)

// requestChallengeScript creates a fresh challenge hash, or refreshes the
// stored code and bumps send_count while the send cap is not reached.
// Returns the resulting send_count, or -1 when the cap refuses the send.
// The refusal path performs no writes at all.
const requestChallengeScript = `
	local key = KEYS[1]
	local otp_hash = ARGV[1]
	local max_sends = tonumber(ARGV[2])
	local ttl = tonumber(ARGV[3])

	if redis.call('EXISTS', key) == 0 then
		redis.call('HSET', key,
			'otp_hash', otp_hash,
			'send_count', 1,
			'attempts', 0,
			'pin_attempts', 0)
		redis.call('EXPIRE', key, ttl)
		return 1
	end

	local sends = tonumber(redis.call('HGET', key, 'send_count')) or 0
	if sends >= max_sends then
		return -1
	end

	redis.call('HSET', key, 'otp_hash', otp_hash)
	local new_sends = redis.call('HINCRBY', key, 'send_count', 1)
	redis.call('EXPIRE', key, ttl)
	return new_sends
`

// incrementIfExistsScript bumps a counter field only while the challenge
// is still alive. Returns 0 when the key has already expired, so a failed
// attempt can never resurrect a dead challenge.
const incrementIfExistsScript = `
	local key = KEYS[1]
	local field = ARGV[1]

	if redis.call('EXISTS', key) == 0 then
		return 0
	end
	return redis.call('HINCRBY', key, field, 1)
`

// ChallengeCache keeps one-time-code challenges in Redis, one hash per
// phone number. All state transitions run as Lua scripts so concurrent
// requests on the same phone never interleave partial updates.
type ChallengeCache struct {
	client   *client.RedisClient
	otpTTL   time.Duration
	maxSends int
}

func NewChallengeCache(client *client.RedisClient, cfg *config.Config) *ChallengeCache {
	return &ChallengeCache{
		client:   client,
		otpTTL:   cfg.Recovery.OtpTTL,
		maxSends: cfg.Recovery.OtpMaxSends,
	}
}

func (c *ChallengeCache) challengeKey(phone string) string {
	return challengePrefix + phone
}

func (c *ChallengeCache) RequestChallenge(ctx context.Context, phone, otpHash string) (int, error) {
	key := c.challengeKey(phone)

	result, err := c.client.Eval(ctx, requestChallengeScript, []string{key},
		otpHash, c.maxSends, int(c.otpTTL.Seconds()))
	if err != nil {
		util.Error("Failed to create otp challenge",
			zap.String("phone", util.MaskPhone(phone)),
			zap.Error(err))
		return 0, fmt.Errorf("failed to create otp challenge: %w", err)
	}

	sendCount, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected result format from challenge script")
	}
	if sendCount < 0 {
		return 0, models.ErrSendLimitReached
	}

	util.Debug("Otp challenge stored",
		zap.String("phone", util.MaskPhone(phone)),
		zap.Int64("send_count", sendCount))

	return int(sendCount), nil
}

func (c *ChallengeCache) ActiveChallenge(ctx context.Context, phone string) (*models.OtpChallenge, error) {
	key := c.challengeKey(phone)

	fields, err := c.client.HGetAll(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load otp challenge: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	challenge := &models.OtpChallenge{
		Phone:       phone,
		OTPHash:     fields[fieldOTPHash],
		SendCount:   parseCounter(fields[fieldSendCount]),
		Attempts:    parseCounter(fields[fieldAttempts]),
		PinAttempts: parseCounter(fields[fieldPinAttempts]),
	}

	ttl, err := c.client.TTL(ctx, key)
	if err == nil && ttl > 0 {
		challenge.ExpiresAt = time.Now().Add(ttl)
	}

	return challenge, nil
}

func (c *ChallengeCache) RecordFailedVerify(ctx context.Context, phone string) (int, error) {
	return c.incrementCounter(ctx, phone, fieldAttempts)
}

func (c *ChallengeCache) RecordFailedPin(ctx context.Context, phone string) (int, error) {
	return c.incrementCounter(ctx, phone, fieldPinAttempts)
}

// Discard drops the challenge outright. Used once a recovery completes
// so leftover state cannot be replayed.
func (c *ChallengeCache) Discard(ctx context.Context, phone string) error {
	if err := c.client.Del(ctx, c.challengeKey(phone)); err != nil {
		return fmt.Errorf("failed to discard otp challenge: %w", err)
	}
	return nil
}

func (c *ChallengeCache) incrementCounter(ctx context.Context, phone, field string) (int, error) {
	key := c.challengeKey(phone)

	result, err := c.client.Eval(ctx, incrementIfExistsScript, []string{key}, field)
	if err != nil {
		util.Error("Failed to increment challenge counter",
			zap.String("phone", util.MaskPhone(phone)),
			zap.String("field", field),
			zap.Error(err))
		return 0, fmt.Errorf("failed to increment challenge counter: %w", err)
	}

	count, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected result format from counter script")
	}

	return int(count), nil
}

func parseCounter(raw string) int {
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
