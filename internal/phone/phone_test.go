package phone

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"already e164", "+15551234567", "+15551234567"},
		{"spaces and dashes", "+1 555-123-4567", "+15551234567"},
		{"parens", "+7 (912) 345-67-89", "+79123456789"},
		{"double zero prefix", "0015551234567", "+15551234567"},
		{"russian trunk prefix", "89123456789", "+79123456789"},
		{"bare national ten digits", "9123456789", "+79123456789"},
		{"empty", "", ""},
		{"letters", "+1555CALLNOW", ""},
		{"too short", "+123", ""},
		{"too long", "+1234567890123456", ""},
		{"leading zero country code", "+0123456789", ""},
		{"plus mid-string", "1+5551234567", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestValid(t *testing.T) {
	require.True(t, Valid("+15551234567"))
	require.False(t, Valid("garbage"))
}
