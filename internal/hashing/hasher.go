package hashing

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/argon2"

	"recovery-service/internal/config"
)

var ErrInvalidHash = errors.New("invalid hash format")

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Hasher provides the one-way secret operations used across the recovery
// flow: memory-hard hashing for PINs and one-time codes, a fast keyed digest
// for recovery tokens, and constant-time comparison.
type Hasher struct {
	params          Argon2Params
	pinPepper       string
	tokenHashSecret string
}

func NewHasher(cfg *config.Config) *Hasher {
	return &Hasher{
		params: Argon2Params{
			Memory:      uint32(cfg.Hashing.Argon2MemoryCost),
			Iterations:  uint32(cfg.Hashing.Argon2TimeCost),
			Parallelism: uint8(cfg.Hashing.Argon2Parallelism),
			SaltLength:  16,
			KeyLength:   32,
		},
		pinPepper:       cfg.Hashing.PinPepper,
		tokenHashSecret: cfg.Hashing.TokenHashSecret,
	}
}

// HashPIN hashes a PIN with argon2id. The pepper is appended before hashing
// so a leaked database alone is not enough to mount an offline attack.
func (h *Hasher) HashPIN(pin string) (string, error) {
	return h.hash(pin + h.pinPepper)
}

// VerifyPIN reports whether pin matches encoded. Malformed hashes verify as
// false, never as an error.
func (h *Hasher) VerifyPIN(pin, encoded string) bool {
	return h.verify(pin+h.pinPepper, encoded)
}

// HashOTP hashes a one-time code with argon2id.
func (h *Hasher) HashOTP(otp string) (string, error) {
	return h.hash(otp)
}

// VerifyOTP reports whether otp matches encoded.
func (h *Hasher) VerifyOTP(otp, encoded string) bool {
	return h.verify(otp, encoded)
}

// HashToken returns the hex sha256 digest of a recovery token, keyed with
// the server-side secret when configured. Tokens are high-entropy random
// values, so a fast hash is sufficient; the digest is the only form ever
// persisted or looked up.
func (h *Hasher) HashToken(rawToken string) string {
	payload := rawToken
	if h.tokenHashSecret != "" {
		payload = rawToken + h.tokenHashSecret
	}
	digest := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(digest[:])
}

// HashPhone returns the hex sha256 digest of an E.164 phone number, the
// lookup key for account rows. Deterministic and unkeyed so the same
// phone always maps to the same row.
func (h *Hasher) HashPhone(e164 string) string {
	digest := sha256.Sum256([]byte(e164))
	return hex.EncodeToString(digest[:])
}

// RandomToken returns a hex-encoded random value of n bytes from the
// system CSPRNG.
func RandomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// GenerateOTP returns a six-digit numeric code in [100000, 999999] drawn
// from the system CSPRNG.
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("failed to generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

// SecureCompare compares two strings in constant time when lengths match.
// Length mismatch returns false immediately; length is not secret here.
func SecureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (h *Hasher) hash(data string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(data), salt,
		h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.Memory, h.params.Iterations, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key))
	return encoded, nil
}

func (h *Hasher) verify(data, encoded string) bool {
	params, salt, key, err := decodeHash(encoded)
	if err != nil {
		return false
	}

	computed := argon2.IDKey([]byte(data), salt,
		params.Iterations, params.Memory, params.Parallelism, uint32(len(key)))

	return subtle.ConstantTimeCompare(computed, key) == 1
}

func decodeHash(encoded string) (Argon2Params, []byte, []byte, error) {
	var params Argon2Params

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return params, nil, nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return params, nil, nil, ErrInvalidHash
	}
	if version != argon2.Version {
		return params, nil, nil, ErrInvalidHash
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d",
		&params.Memory, &params.Iterations, &params.Parallelism); err != nil {
		return params, nil, nil, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return params, nil, nil, ErrInvalidHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return params, nil, nil, ErrInvalidHash
	}

	return params, salt, key, nil
}
