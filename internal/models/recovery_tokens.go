package models

import "time"

// RecoveryToken is a single-use capability to recover the account that will
// be bound to TargetID. Only the sha256 digest of the raw token is persisted;
// the raw value is returned exactly once at issue time. Rows are never
// deleted (audit retention).
type RecoveryToken struct {
	TokenHash string     `db:"token_hash"` // lookup key
	TargetID  int64      `db:"target_id"`  // identity the recovery rebinds to
	IssuerID  int64      `db:"issuer_id"`  // administrative identity that issued it
	ExpiresAt time.Time  `db:"expires_at"`
	UsedAt    *time.Time `db:"used_at"` // set exactly once, on success or lockout
	CreatedAt time.Time  `db:"created_at"`
}

// UsableAt reports whether the token can still drive a recovery at now.
func (t *RecoveryToken) UsableAt(now time.Time) bool {
	return t.UsedAt == nil && now.Before(t.ExpiresAt)
}
