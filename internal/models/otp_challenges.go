package models

import "time"

// OtpChallenge is the live one-time-code state for a phone number. At most
// one active challenge exists per phone; re-requesting a code refreshes the
// same record. Attempts and PinAttempts are independent counters that both
// gate against configured maxima.
type OtpChallenge struct {
	Phone       string    `db:"phone_e164"`
	OTPHash     string    `db:"otp_hash"`
	SendCount   int       `db:"send_count"`
	Attempts    int       `db:"attempts"`     // failed code verifications
	PinAttempts int       `db:"pin_attempts"` // failed PIN verifications
	ExpiresAt   time.Time `db:"expires_at"`
}
