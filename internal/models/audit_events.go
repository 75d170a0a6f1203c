package models

import "time"

// Audit event types emitted by the recovery flow and the flood controller.
const (
	AuditRecoveryLockedAttempt  = "recovery_locked_attempt"
	AuditRecoveryPhoneNotFound  = "recovery_phone_not_found"
	AuditRecoveryLocked         = "recovery_locked"
	AuditRecoverPinFail         = "recover_pin_fail"
	AuditRecoverySuccess        = "recovery_success"
	AuditFloodSuspected         = "flood_suspected"
	AuditFloodBlocked           = "flood_blocked"
	AuditFloodHardBlockStub     = "flood_hard_block_stub"
	AuditRecoveryTokenIssued    = "recovery_token_issued"
)

// AuditEvent is an append-only trail row. PhoneMasked carries at most the
// last four digits of a phone number; full numbers never enter the trail.
type AuditEvent struct {
	EventBucket int               `db:"event_bucket"`
	EventID     string            `db:"event_id"` // UUID
	EventType   string            `db:"event_type"`
	EventTime   time.Time         `db:"event_time"`
	ExternalID  int64             `db:"external_id"`
	PhoneMasked string            `db:"phone_masked"`
	Meta        map[string]string `db:"meta"`
}
