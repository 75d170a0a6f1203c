package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recovery-service/internal/audit"
	"recovery-service/internal/config"
	"recovery-service/internal/encryption"
	"recovery-service/internal/hashing"
	"recovery-service/internal/models"
	"recovery-service/internal/notify"
	"recovery-service/internal/service"
	"recovery-service/internal/util"
)

// Minimal in-memory stores backing real services for route-level tests.

type stubAccounts struct {
	byHash map[string]*models.Account
}

func (s *stubAccounts) GetByPhoneHash(ctx context.Context, phoneHash string) (*models.Account, error) {
	return s.byHash[phoneHash], nil
}

func (s *stubAccounts) Create(ctx context.Context, account *models.Account) error {
	account.AccountID = fmt.Sprintf("acc-%d", len(s.byHash)+1)
	s.byHash[account.PhoneHash] = account
	return nil
}

func (s *stubAccounts) SetRecoveryLock(ctx context.Context, account *models.Account, until time.Time) error {
	u := until
	account.RecoveryLockedUntil = &u
	return nil
}

func (s *stubAccounts) ApplyRecovery(ctx context.Context, account *models.Account, newExternalID int64, at time.Time) error {
	prev := account.ExternalID
	account.PrevExternalID = &prev
	account.ExternalID = newExternalID
	account.RecoveredFlag = true
	account.RecoveryLockedUntil = nil
	return nil
}

type stubTokens struct {
	byRaw map[string]*models.RecoveryToken
}

func (s *stubTokens) Issue(ctx context.Context, targetID, issuerID int64) (string, error) {
	raw, err := hashing.RandomToken(16)
	if err != nil {
		return "", err
	}
	s.byRaw[raw] = &models.RecoveryToken{
		TokenHash: raw,
		TargetID:  targetID,
		IssuerID:  issuerID,
		ExpiresAt: time.Now().Add(30 * time.Minute),
	}
	return raw, nil
}

func (s *stubTokens) Resolve(ctx context.Context, rawToken string) (*models.RecoveryToken, error) {
	t, ok := s.byRaw[rawToken]
	if !ok || !t.UsableAt(time.Now()) {
		return nil, nil
	}
	return t, nil
}

func (s *stubTokens) Consume(ctx context.Context, rawToken string) error {
	if t, ok := s.byRaw[rawToken]; ok && t.UsedAt == nil {
		now := time.Now()
		t.UsedAt = &now
	}
	return nil
}

type stubChallenges struct {
	byPhone map[string]*models.OtpChallenge
}

func (s *stubChallenges) RequestChallenge(ctx context.Context, phone, otpHash string) (int, error) {
	if ch, ok := s.byPhone[phone]; ok {
		if ch.SendCount >= 2 {
			return 0, models.ErrSendLimitReached
		}
		ch.OTPHash = otpHash
		ch.SendCount++
		return ch.SendCount, nil
	}
	s.byPhone[phone] = &models.OtpChallenge{
		Phone:     phone,
		OTPHash:   otpHash,
		SendCount: 1,
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}
	return 1, nil
}

func (s *stubChallenges) ActiveChallenge(ctx context.Context, phone string) (*models.OtpChallenge, error) {
	return s.byPhone[phone], nil
}

func (s *stubChallenges) RecordFailedVerify(ctx context.Context, phone string) (int, error) {
	ch := s.byPhone[phone]
	if ch == nil {
		return 0, nil
	}
	ch.Attempts++
	return ch.Attempts, nil
}

func (s *stubChallenges) RecordFailedPin(ctx context.Context, phone string) (int, error) {
	ch := s.byPhone[phone]
	if ch == nil {
		return 0, nil
	}
	ch.PinAttempts++
	return ch.PinAttempts, nil
}

func (s *stubChallenges) Discard(ctx context.Context, phone string) error {
	delete(s.byPhone, phone)
	return nil
}

type codeCatcher struct {
	lastCode string
}

func (c *codeCatcher) Name() string { return "test" }

func (c *codeCatcher) SendCode(ctx context.Context, phone, code string) error {
	c.lastCode = code
	return nil
}

type apiFixture struct {
	router *chi.Mux
	sms    *codeCatcher
	tokens *stubTokens
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	cfg := &config.Config{
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  1024,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
		},
		Recovery: config.RecoveryConfig{
			OtpMaxAttempts: 2,
			OtpMaxSends:    2,
			PinMaxAttempts: 3,
			LockDuration:   24 * time.Hour,
		},
		Flood: config.FloodConfig{
			Enabled:   true,
			WindowSec: 60,
			MaxEvents: 20,
			BlockMin:  30,
		},
		RateLimit: config.RateLimitConfig{
			Window:        time.Minute,
			GeneralLimit:  100,
			RecoveryLimit: 100,
		},
	}

	hasher := hashing.NewHasher(cfg)
	recorder := audit.NewLogRecorder()
	sms := &codeCatcher{}
	operator := notify.NewLogOperatorNotifier()

	accounts := &stubAccounts{byHash: make(map[string]*models.Account)}
	tokens := &stubTokens{byRaw: make(map[string]*models.RecoveryToken)}
	challenges := &stubChallenges{byPhone: make(map[string]*models.OtpChallenge)}

	recovery := service.NewRecoveryService(cfg, accounts, tokens, challenges,
		recorder, hasher, sms, operator)
	admin := service.NewAdminService(accounts, tokens, recorder, hasher,
		encryption.NewEncryptionManager(cfg, nil))
	flood := service.NewFloodController(cfg, recorder)
	t.Cleanup(flood.Close)
	limiter := service.NewRateLimiter(cfg)
	t.Cleanup(limiter.Close)

	h := NewRecoveryHandler(recovery, admin, flood, limiter, util.Get())
	router := chi.NewRouter()
	h.RegisterRoutes(router)

	return &apiFixture{router: router, sms: sms, tokens: tokens}
}

func (fx *apiFixture) do(t *testing.T, method, path string, body map[string]interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	return rec
}

func (fx *apiFixture) decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

var userHeaders = map[string]string{"X-External-ID": "42"}
var adminHeaders = map[string]string{"X-Admin-ID": "7"}

func (fx *apiFixture) registerAccount(t *testing.T, phone string) {
	t.Helper()
	rec := fx.do(t, http.MethodPost, "/admin/accounts", map[string]interface{}{
		"phone":       phone,
		"pin":         "4321",
		"external_id": 100,
	}, adminHeaders)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (fx *apiFixture) issueToken(t *testing.T) string {
	t.Helper()
	rec := fx.do(t, http.MethodPost, "/admin/tokens", map[string]interface{}{
		"target_id": 200,
	}, adminHeaders)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := fx.decode(t, rec)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	token, ok := data["token"].(string)
	require.True(t, ok)
	require.NotEmpty(t, token)
	return token
}

func TestRecoveryRoutesRequireIdentity(t *testing.T) {
	fx := newAPIFixture(t)

	for _, hdrs := range []map[string]string{nil, {"X-External-ID": "abc"}, {"X-External-ID": "-1"}} {
		rec := fx.do(t, http.MethodPost, "/recovery/request-code", map[string]interface{}{}, hdrs)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "identity_required", fx.decode(t, rec).Error)
	}
}

func TestAdminRoutesRequireAdminIdentity(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(t, http.MethodPost, "/admin/tokens", map[string]interface{}{"target_id": 1}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequestCodeNeutralReply(t *testing.T) {
	fx := newAPIFixture(t)
	fx.registerAccount(t, "+15551234567")
	token := fx.issueToken(t)

	// Registered and unregistered phones get the identical envelope
	for _, phone := range []string{"+15551234567", "+15559876543"} {
		rec := fx.do(t, http.MethodPost, "/recovery/request-code", map[string]interface{}{
			"token": token,
			"phone": phone,
		}, userHeaders)
		assert.Equal(t, http.StatusOK, rec.Code)

		resp := fx.decode(t, rec)
		assert.True(t, resp.Success)
		assert.Equal(t, service.NeutralCodeReply, resp.Message)
	}
}

func TestFlowErrorStatusMapping(t *testing.T) {
	fx := newAPIFixture(t)
	fx.registerAccount(t, "+15551234567")

	rec := fx.do(t, http.MethodPost, "/recovery/request-code", map[string]interface{}{
		"token": "bogus",
		"phone": "+15551234567",
	}, userHeaders)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "token_invalid", fx.decode(t, rec).Error)

	token := fx.issueToken(t)
	rec = fx.do(t, http.MethodPost, "/recovery/verify-code", map[string]interface{}{
		"token": token,
		"phone": "+15551234567",
		"code":  "000000",
	}, userHeaders)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "wrong_code", fx.decode(t, rec).Error)
}

func TestSendLimitMapsToTooManyRequests(t *testing.T) {
	fx := newAPIFixture(t)
	fx.registerAccount(t, "+15551234567")
	token := fx.issueToken(t)

	body := map[string]interface{}{"token": token, "phone": "+15551234567"}
	for i := 0; i < 2; i++ {
		rec := fx.do(t, http.MethodPost, "/recovery/request-code", body, userHeaders)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := fx.do(t, http.MethodPost, "/recovery/request-code", body, userHeaders)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "send_limit", fx.decode(t, rec).Error)
}

func TestLockoutMapsToLockedStatus(t *testing.T) {
	fx := newAPIFixture(t)
	fx.registerAccount(t, "+15551234567")
	token := fx.issueToken(t)

	body := map[string]interface{}{"token": token, "phone": "+15551234567"}
	rec := fx.do(t, http.MethodPost, "/recovery/request-code", body, userHeaders)
	require.Equal(t, http.StatusOK, rec.Code)

	verify := map[string]interface{}{"token": token, "phone": "+15551234567", "code": "000000"}
	rec = fx.do(t, http.MethodPost, "/recovery/verify-code", verify, userHeaders)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = fx.do(t, http.MethodPost, "/recovery/verify-code", verify, userHeaders)
	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.Equal(t, "attempts_exceeded", fx.decode(t, rec).Error)
}

func TestFullFlowOverHTTP(t *testing.T) {
	fx := newAPIFixture(t)
	fx.registerAccount(t, "+15551234567")
	token := fx.issueToken(t)

	body := map[string]interface{}{"token": token, "phone": "+15551234567"}
	rec := fx.do(t, http.MethodPost, "/recovery/request-code", body, userHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, fx.sms.lastCode)

	rec = fx.do(t, http.MethodPost, "/recovery/verify-code", map[string]interface{}{
		"token": token, "phone": "+15551234567", "code": fx.sms.lastCode,
	}, userHeaders)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = fx.do(t, http.MethodPost, "/recovery/verify-pin", map[string]interface{}{
		"token": token, "phone": "+15551234567", "pin": "4321",
	}, userHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, fx.decode(t, rec).Success)

	// The token is single use
	rec = fx.do(t, http.MethodPost, "/recovery/request-code", body, userHeaders)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDuplicateAccountConflict(t *testing.T) {
	fx := newAPIFixture(t)
	fx.registerAccount(t, "+15551234567")

	rec := fx.do(t, http.MethodPost, "/admin/accounts", map[string]interface{}{
		"phone":       "+15551234567",
		"pin":         "9999",
		"external_id": 101,
	}, adminHeaders)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "account_exists", fx.decode(t, rec).Error)
}
