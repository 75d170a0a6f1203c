package util

import "strings"

// MaskPhone reduces an E.164 number to its last four digits. Audit rows and
// log lines must never carry a full phone number.
func MaskPhone(phoneE164 string) string {
	if len(phoneE164) < 4 {
		return "****"
	}
	return "****" + phoneE164[len(phoneE164)-4:]
}

// SanitizeInput trims whitespace from user-supplied fields before they reach
// validation.
func SanitizeInput(s string) string {
	return strings.TrimSpace(s)
}
