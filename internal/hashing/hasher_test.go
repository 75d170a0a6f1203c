package hashing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"recovery-service/internal/config"
)

func testHasher(t *testing.T) *Hasher {
	t.Helper()
	cfg := &config.Config{}
	cfg.Hashing.Argon2MemoryCost = 8 * 1024
	cfg.Hashing.Argon2TimeCost = 1
	cfg.Hashing.Argon2Parallelism = 1
	cfg.Hashing.PinPepper = "test-pepper"
	cfg.Hashing.TokenHashSecret = "test-secret"
	return NewHasher(cfg)
}

func TestHashAndVerifyPIN(t *testing.T) {
	h := testHasher(t)

	encoded, err := h.HashPIN("482916")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(encoded, "$argon2id$"))

	require.True(t, h.VerifyPIN("482916", encoded))
	require.False(t, h.VerifyPIN("482917", encoded))
}

func TestVerifyMalformedHashReturnsFalse(t *testing.T) {
	h := testHasher(t)

	for _, bad := range []string{
		"",
		"not-a-hash",
		"$argon2id$v=19$m=8192,t=1,p=1$xx",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$aGFzaA",
	} {
		require.False(t, h.VerifyPIN("123456", bad), "hash %q should verify false", bad)
		require.False(t, h.VerifyOTP("123456", bad))
	}
}

func TestHashOTPRoundTrip(t *testing.T) {
	h := testHasher(t)

	code, err := GenerateOTP()
	require.NoError(t, err)
	require.Len(t, code, 6)
	require.GreaterOrEqual(t, code[0], byte('1'))

	encoded, err := h.HashOTP(code)
	require.NoError(t, err)
	require.True(t, h.VerifyOTP(code, encoded))
	require.False(t, h.VerifyOTP("000000", encoded))
}

func TestHashTokenIsKeyedAndStable(t *testing.T) {
	h := testHasher(t)

	d1 := h.HashToken("raw-token")
	d2 := h.HashToken("raw-token")
	require.Equal(t, d1, d2)
	require.Len(t, d1, 64)

	unkeyed := testHasher(t)
	unkeyed.tokenHashSecret = ""
	require.NotEqual(t, d1, unkeyed.HashToken("raw-token"))
}

func TestRandomTokenLengthAndUniqueness(t *testing.T) {
	a, err := RandomToken(32)
	require.NoError(t, err)
	b, err := RandomToken(32)
	require.NoError(t, err)

	require.Len(t, a, 64)
	require.NotEqual(t, a, b)
}

func TestHashPhoneIsStableAcrossInstances(t *testing.T) {
	// Phone digests key lookups, so they must not depend on any secret
	h1 := testHasher(t)
	h2 := testHasher(t)
	h2.tokenHashSecret = "other"

	d := h1.HashPhone("+15551234567")
	require.Len(t, d, 64)
	require.Equal(t, d, h2.HashPhone("+15551234567"))
	require.NotEqual(t, d, h1.HashPhone("+15551234568"))
}

func TestSecureCompare(t *testing.T) {
	require.True(t, SecureCompare("123456", "123456"))
	require.False(t, SecureCompare("123456", "123457"))
	require.False(t, SecureCompare("123456", "12345"))
	require.True(t, SecureCompare("", ""))
}
