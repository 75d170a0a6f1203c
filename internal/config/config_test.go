package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"localhost:9042"}, cfg.Scylla.Nodes)
	assert.Equal(t, "audit_events", cfg.Clickhouse.AuditTable)
	assert.Equal(t, "recovery-audit", cfg.Elasticsearch.AuditIndex)
	assert.Equal(t, 64, cfg.Bucketing.AccountBuckets)
	assert.Equal(t, 16, cfg.Bucketing.EventBuckets)

	assert.Equal(t, 30*time.Minute, cfg.Recovery.TokenTTL)
	assert.Equal(t, 2, cfg.Recovery.OtpMaxAttempts)
	assert.Equal(t, 2, cfg.Recovery.OtpMaxSends)
	assert.Equal(t, 3, cfg.Recovery.PinMaxAttempts)
	assert.Equal(t, 24*time.Hour, cfg.Recovery.LockDuration)
	assert.Equal(t, 900*time.Millisecond, cfg.Recovery.DelayMin)
	assert.Equal(t, 1300*time.Millisecond, cfg.Recovery.DelayMax)

	assert.True(t, cfg.Flood.Enabled)
	assert.False(t, cfg.Flood.HardBlockEnabled)
	assert.Equal(t, 60, cfg.RateLimit.GeneralLimit)
	assert.Equal(t, 20, cfg.RateLimit.RecoveryLimit)
	assert.Equal(t, "mock", cfg.Sms.Provider)
}

func TestLoadConfigClampsLimits(t *testing.T) {
	t.Setenv("RECOVERY_TOKEN_TTL_MIN", "1000")
	t.Setenv("OTP_MAX_ATTEMPTS", "0")
	t.Setenv("PIN_MAX_ATTEMPTS", "99")
	t.Setenv("RECOVERY_LOCK_HOURS", "0")
	t.Setenv("OTP_TTL_MIN", "1")

	cfg := LoadConfig()

	assert.Equal(t, 120*time.Minute, cfg.Recovery.TokenTTL)
	assert.Equal(t, 1, cfg.Recovery.OtpMaxAttempts)
	assert.Equal(t, 5, cfg.Recovery.PinMaxAttempts)
	assert.Equal(t, time.Hour, cfg.Recovery.LockDuration)
	assert.Equal(t, 5*time.Minute, cfg.Recovery.OtpTTL)
}

func TestLoadConfigDelayWindowNeverInverts(t *testing.T) {
	t.Setenv("RECOVERY_DELAY_MIN", "2s")
	t.Setenv("RECOVERY_DELAY_MAX", "500ms")

	cfg := LoadConfig()

	assert.Equal(t, 2*time.Second, cfg.Recovery.DelayMin)
	assert.Equal(t, 2*time.Second, cfg.Recovery.DelayMax)
}

func TestLoadConfigSplitsNodeLists(t *testing.T) {
	t.Setenv("SCYLLA_NODES", "node1:9042, node2:9042 ,,node3:9042")

	cfg := LoadConfig()
	assert.Equal(t, []string{"node1:9042", "node2:9042", "node3:9042"}, cfg.Scylla.Nodes)
}

func TestLoadConfigMalformedValuesFallBack(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-number")
	t.Setenv("SERVER_ENABLE_TLS", "maybe")
	t.Setenv("RATE_LIMIT_WINDOW", "soon")

	cfg := LoadConfig()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.False(t, cfg.Server.EnableTLS)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
}

func TestSmsProviderNormalization(t *testing.T) {
	t.Setenv("SMS_PROVIDER", "REAL")
	cfg := LoadConfig()
	assert.Equal(t, "real", cfg.Sms.Provider)

	t.Setenv("SMS_PROVIDER", "twilio")
	cfg = LoadConfig()
	assert.Equal(t, "mock", cfg.Sms.Provider)
}

func TestSafeMasksSecrets(t *testing.T) {
	t.Setenv("TOKEN_HASH_SECRET", "super-secret-value")
	t.Setenv("PIN_PEPPER", "short")

	cfg := LoadConfig()
	safe := cfg.Safe()

	require.Contains(t, safe, "token_hash_secret")
	assert.Equal(t, "supe***alue", safe["token_hash_secret"])
	assert.Equal(t, "***", safe["pin_pepper"])
	assert.NotContains(t, safe["token_hash_secret"], "secret")
}
