package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration, loaded once at startup from the
// environment (optionally seeded from a .env file).
type Config struct {
	Environment   string
	Logging       LoggingConfig
	Server        ServerConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Clickhouse    ClickhouseConfig
	Elasticsearch ElasticsearchConfig
	KMS           KMSConfig
	Hashing       HashingConfig
	Bucketing     BucketingConfig
	Recovery      RecoveryConfig
	Flood         FloodConfig
	RateLimit     RateLimitConfig
	Sms           SmsConfig
}

type LoggingConfig struct {
	Level  string
	Format string
}

type ServerConfig struct {
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	AutoCertDir  string
	Domain       string
	Email        string
	CertFile     string
	KeyFile      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Brokers       []string
	OperatorTopic string
}

type ClickhouseConfig struct {
	URL        string
	Database   string
	Username   string
	Password   string
	AuditTable string
}

type ElasticsearchConfig struct {
	URL        string
	Username   string
	Password   string
	AuditIndex string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
	// TokenHashSecret is mixed into recovery-token digests. Tokens are
	// high-entropy already, so the secret only hardens against a leaked
	// token table.
	TokenHashSecret string
	PinPepper       string
}

type BucketingConfig struct {
	AccountBuckets int
	EventBuckets   int
}

// RecoveryConfig drives the step-up recovery state machine. Defaults and
// clamps mirror the operational limits the product shipped with.
type RecoveryConfig struct {
	TokenTTL       time.Duration
	OtpTTL         time.Duration
	OtpMaxAttempts int
	OtpMaxSends    int
	PinMaxAttempts int
	LockDuration   time.Duration
	DelayMin       time.Duration
	DelayMax       time.Duration
}

type FloodConfig struct {
	Enabled          bool
	HardBlockEnabled bool
	WindowSec        int
	MaxEvents        int
	BlockMin         int
}

type RateLimitConfig struct {
	Window        time.Duration
	GeneralLimit  int
	RecoveryLimit int
}

type SmsConfig struct {
	Provider string // "mock" or "real"
}

// LoadConfig reads configuration from the environment. A missing .env file
// is not an error.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Server: ServerConfig{
			Port:         getEnvInt("SERVER_PORT", 8080),
			TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:     getEnvBool("SERVER_AUTO_CERT", false),
			AutoCertDir:  getEnv("SERVER_AUTO_CERT_DIR", "/var/lib/recovery-service/autocert"),
			Domain:       getEnv("SERVER_DOMAIN", ""),
			Email:        getEnv("SERVER_ACME_EMAIL", ""),
			CertFile:     getEnv("SERVER_CERT_FILE", ""),
			KeyFile:      getEnv("SERVER_KEY_FILE", ""),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
		},
		Scylla: ScyllaConfig{
			Nodes:    splitAndTrim(getEnv("SCYLLA_NODES", "localhost:9042")),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "recovery"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Brokers:       splitAndTrim(getEnv("KAFKA_BROKERS", "localhost:9092")),
			OperatorTopic: getEnv("KAFKA_OPERATOR_TOPIC", "recovery.operator-alerts"),
		},
		Clickhouse: ClickhouseConfig{
			URL:        getEnv("CLICKHOUSE_URL", "http://localhost:9000"),
			Database:   getEnv("CLICKHOUSE_DATABASE", "recovery"),
			Username:   getEnv("CLICKHOUSE_USERNAME", "default"),
			Password:   getEnv("CLICKHOUSE_PASSWORD", ""),
			AuditTable: getEnv("CLICKHOUSE_AUDIT_TABLE", "audit_events"),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:        getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username:   getEnv("ELASTICSEARCH_USERNAME", ""),
			Password:   getEnv("ELASTICSEARCH_PASSWORD", ""),
			AuditIndex: getEnv("ELASTICSEARCH_AUDIT_INDEX", "recovery-audit"),
		},
		KMS: KMSConfig{
			Enabled: getEnvBool("KMS_ENABLED", false),
			KeyID:   getEnv("KMS_KEY_ID", ""),
			Region:  getEnv("AWS_REGION", "eu-central-1"),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:  getEnvInt("ARGON2_MEMORY_COST", 64*1024),
			Argon2TimeCost:    getEnvInt("ARGON2_TIME_COST", 3),
			Argon2Parallelism: getEnvInt("ARGON2_PARALLELISM", 2),
			TokenHashSecret:   getEnv("TOKEN_HASH_SECRET", ""),
			PinPepper:         getEnv("PIN_PEPPER", ""),
		},
		Bucketing: BucketingConfig{
			AccountBuckets: getEnvInt("ACCOUNT_BUCKETS", 64),
			EventBuckets:   getEnvInt("EVENT_BUCKETS", 16),
		},
		Recovery: RecoveryConfig{
			TokenTTL:       time.Duration(clamp(getEnvInt("RECOVERY_TOKEN_TTL_MIN", 30), 5, 120)) * time.Minute,
			OtpTTL:         time.Duration(atLeast(getEnvInt("OTP_TTL_MIN", 10), 5)) * time.Minute,
			OtpMaxAttempts: clamp(getEnvInt("OTP_MAX_ATTEMPTS", 2), 1, 5),
			OtpMaxSends:    clamp(getEnvInt("OTP_MAX_SENDS", 2), 1, 5),
			PinMaxAttempts: clamp(getEnvInt("PIN_MAX_ATTEMPTS", 3), 1, 5),
			LockDuration:   time.Duration(clamp(getEnvInt("RECOVERY_LOCK_HOURS", 24), 1, 168)) * time.Hour,
			DelayMin:       getEnvDuration("RECOVERY_DELAY_MIN", 900*time.Millisecond),
			DelayMax:       getEnvDuration("RECOVERY_DELAY_MAX", 1300*time.Millisecond),
		},
		Flood: FloodConfig{
			Enabled:          getEnvBool("FLOOD_PROTECTION_ENABLED", true),
			HardBlockEnabled: getEnvBool("FLOOD_HARD_BLOCK_ENABLED", false),
			WindowSec:        clamp(getEnvInt("FLOOD_WINDOW_SEC", 2), 1, 60),
			MaxEvents:        clamp(getEnvInt("FLOOD_MAX_EVENTS", 5), 2, 50),
			BlockMin:         clamp(getEnvInt("FLOOD_BLOCK_MIN", 30), 1, 1440),
		},
		RateLimit: RateLimitConfig{
			Window:        getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
			GeneralLimit:  getEnvInt("RATE_LIMIT_GENERAL", 60),
			RecoveryLimit: getEnvInt("RATE_LIMIT_RECOVERY", 20),
		},
		Sms: SmsConfig{
			Provider: normalizeSmsProvider(getEnv("SMS_PROVIDER", "mock")),
		},
	}

	if cfg.Recovery.DelayMax < cfg.Recovery.DelayMin {
		cfg.Recovery.DelayMax = cfg.Recovery.DelayMin
	}

	return cfg
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// Safe returns a loggable view of the config with secrets masked.
func (c *Config) Safe() map[string]string {
	return map[string]string{
		"environment":       c.Environment,
		"redis_url":         c.Redis.URL,
		"scylla_nodes":      strings.Join(c.Scylla.Nodes, ","),
		"kafka_brokers":     strings.Join(c.Kafka.Brokers, ","),
		"clickhouse_url":    c.Clickhouse.URL,
		"elasticsearch_url": c.Elasticsearch.URL,
		"token_hash_secret": maskSecret(c.Hashing.TokenHashSecret),
		"pin_pepper":        maskSecret(c.Hashing.PinPepper),
		"sms_provider":      c.Sms.Provider,
	}
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) > 8 {
		return s[:4] + "***" + s[len(s)-4:]
	}
	return "***"
}

func normalizeSmsProvider(p string) string {
	if strings.ToLower(p) == "real" {
		return "real"
	}
	return "mock"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func atLeast(v, lo int) int {
	if v < lo {
		return lo
	}
	return v
}
