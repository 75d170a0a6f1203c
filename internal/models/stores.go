package models

import (
	"context"
	"errors"
	"time"
)

// ErrSendLimitReached is returned by ChallengeStore.RequestChallenge when the
// active challenge has exhausted its send budget; no state is mutated.
var ErrSendLimitReached = errors.New("otp send limit reached")

// AccountStore is the persistent account repository. Absent rows are
// (nil, nil), not an error: "no such phone" is a normal branch of the
// recovery flow and must not look different from a store failure.
type AccountStore interface {
	GetByPhoneHash(ctx context.Context, phoneHash string) (*Account, error)
	Create(ctx context.Context, account *Account) error
	// SetRecoveryLock opens a lock window on the account and updates the
	// in-memory struct to match.
	SetRecoveryLock(ctx context.Context, account *Account, until time.Time) error
	// ApplyRecovery atomically rebinds the account to newExternalID,
	// preserving the previous identity, clearing any lock and bumping the
	// recovery counter.
	ApplyRecovery(ctx context.Context, account *Account, newExternalID int64, at time.Time) error
}

// TokenStore manages single-use recovery tokens.
type TokenStore interface {
	// Issue returns the raw token exactly once; only its digest is persisted.
	Issue(ctx context.Context, targetID, issuerID int64) (string, error)
	// Resolve returns nil for anything that is not a usable token: unknown,
	// expired and consumed are indistinguishable to the caller.
	Resolve(ctx context.Context, rawToken string) (*RecoveryToken, error)
	// Consume idempotently marks the token used.
	Consume(ctx context.Context, rawToken string) error
}

// ChallengeStore holds the per-phone one-time-code lifecycle. All counter
// mutations are atomic single-store operations; concurrent verifies for the
// same phone must not lose updates.
type ChallengeStore interface {
	RequestChallenge(ctx context.Context, phone, otpHash string) (sendCount int, err error)
	ActiveChallenge(ctx context.Context, phone string) (*OtpChallenge, error)
	// RecordFailedVerify / RecordFailedPin return the post-increment counter,
	// or 0 when no active challenge remains.
	RecordFailedVerify(ctx context.Context, phone string) (int, error)
	RecordFailedPin(ctx context.Context, phone string) (int, error)
	// Discard drops the challenge once the flow is finished with it.
	Discard(ctx context.Context, phone string) error
}

// AuditRecorder appends to the audit trail. Callers treat failures as
// best-effort: the recovery decision never depends on audit delivery.
type AuditRecorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}
