package models

import "time"

// Account is an identity-bound user record. The phone number is the unique
// recovery anchor; lookups go through its sha256 hash while the raw E.164
// value is stored envelope-encrypted.
type Account struct {
	AccountBucket  int        `db:"account_bucket"`
	AccountID      string     `db:"account_id"` // UUID
	PhoneHash      string     `db:"phone_hash"` // sha256(E.164), unique
	PhoneEncrypted []byte     `db:"phone_encrypted"`
	PhoneKeyID     string     `db:"phone_key_id"`
	ExternalID     int64      `db:"external_id"`      // currently-bound messaging identity
	PrevExternalID *int64     `db:"prev_external_id"` // kept for audit after a recovery
	PINHash        string     `db:"pin_hash"`
	RecoveredFlag  bool       `db:"recovered_flag"`
	RecoveredAt    *time.Time `db:"recovered_at"`
	RecoveredCount int        `db:"recovered_count"`
	// RecoveryLockedUntil in the past is equivalent to unlocked; at most one
	// lock window is active at a time.
	RecoveryLockedUntil *time.Time `db:"recovery_locked_until"`
	CreatedAt           time.Time  `db:"created_at"`
	UpdatedAt           *time.Time `db:"updated_at"`
}

// LockedAt reports whether the account's recovery lock is active at now.
func (a *Account) LockedAt(now time.Time) bool {
	return a.RecoveryLockedUntil != nil && a.RecoveryLockedUntil.After(now)
}
