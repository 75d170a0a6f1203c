// Package phone normalizes user-supplied phone numbers to E.164.
package phone

import (
	"strings"
)

// DefaultCountryCode is applied to national-format numbers that carry no
// international prefix.
const DefaultCountryCode = "7"

// Normalize canonicalizes a phone number into E.164 ("+" followed by 10-15
// digits). It returns "" when the input cannot be parsed; callers treat that
// the same as any other validation failure and must not report which check
// failed.
func Normalize(raw string) string {
	s := stripSeparators(raw)
	if s == "" {
		return ""
	}

	switch {
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	case strings.HasPrefix(s, "00"):
		s = s[2:]
	case strings.HasPrefix(s, "8") && len(s) == 11 && DefaultCountryCode == "7":
		// Russian national trunk prefix.
		s = DefaultCountryCode + s[1:]
	case len(s) == 10:
		s = DefaultCountryCode + s
	}

	if !isDigits(s) {
		return ""
	}
	if len(s) < 10 || len(s) > 15 {
		return ""
	}
	// E.164 forbids a leading zero in the country code.
	if s[0] == '0' {
		return ""
	}

	return "+" + s
}

// Valid reports whether raw parses to an E.164 number.
func Valid(raw string) bool {
	return Normalize(raw) != ""
}

func stripSeparators(raw string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
			// separator, drop
		default:
			return ""
		}
	}
	return b.String()
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
