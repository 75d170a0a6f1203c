package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"recovery-service/internal/config"
	"recovery-service/internal/hashing"
	"recovery-service/internal/models"
	"recovery-service/internal/notify"
	"recovery-service/internal/phone"
	"recovery-service/internal/util"
)

// Terminal outcomes of the recovery flow. Several internal causes map to
// the same code on purpose: callers must not learn which check failed.
var (
	// ErrTokenInvalid covers unknown, expired and consumed tokens, and an
	// unparsable phone at the request-code step.
	ErrTokenInvalid     = errors.New("token_invalid")
	ErrRecoveryLocked   = errors.New("recovery_locked")
	ErrAttemptsExceeded = errors.New("attempts_exceeded")
	ErrSendLimit        = errors.New("send_limit")
	ErrWrongCode        = errors.New("wrong_code")
	ErrWrongPin         = errors.New("wrong_pin")
	ErrPhoneNotFound    = errors.New("phone_not_found")
)

// NeutralCodeReply is returned verbatim on every successful request-code
// call, whether or not the phone is registered.
const NeutralCodeReply = "If the details are correct, a code has been sent."

// RecoveryService drives the request-code, verify-code, verify-pin state
// machine. It holds no session state: every call re-derives its position
// from the token, challenge and account records, so a recovery that spans
// minutes survives restarts.
type RecoveryService struct {
	accounts   models.AccountStore
	tokens     models.TokenStore
	challenges models.ChallengeStore
	recorder   models.AuditRecorder
	hasher     *hashing.Hasher
	sms        notify.SmsProvider
	operator   notify.OperatorNotifier

	otpMaxAttempts int
	pinMaxAttempts int
	lockDuration   time.Duration
	delayMin       time.Duration
	delayMax       time.Duration

	// Overridable in tests
	now   func() time.Time
	delay func(ctx context.Context)
}

func NewRecoveryService(
	cfg *config.Config,
	accounts models.AccountStore,
	tokens models.TokenStore,
	challenges models.ChallengeStore,
	recorder models.AuditRecorder,
	hasher *hashing.Hasher,
	sms notify.SmsProvider,
	operator notify.OperatorNotifier,
) *RecoveryService {
	s := &RecoveryService{
		accounts:       accounts,
		tokens:         tokens,
		challenges:     challenges,
		recorder:       recorder,
		hasher:         hasher,
		sms:            sms,
		operator:       operator,
		otpMaxAttempts: cfg.Recovery.OtpMaxAttempts,
		pinMaxAttempts: cfg.Recovery.PinMaxAttempts,
		lockDuration:   cfg.Recovery.LockDuration,
		delayMin:       cfg.Recovery.DelayMin,
		delayMax:       cfg.Recovery.DelayMax,
		now:            time.Now,
	}
	s.delay = s.randomDelay
	return s
}

// randomDelay sleeps a uniform random duration from the configured window
// so hit and miss paths share one latency profile. It must never run while
// holding a lock on shared state.
func (s *RecoveryService) randomDelay(ctx context.Context) {
	d := s.delayMin
	if window := s.delayMax - s.delayMin; window > 0 {
		d += time.Duration(rand.Int64N(int64(window)))
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// RequestCode starts a recovery: it validates the token, creates or
// refreshes the code challenge and dispatches the code. The response is
// identical for registered and unknown phones.
func (s *RecoveryService) RequestCode(ctx context.Context, rawToken, rawPhone string) error {
	token, err := s.tokens.Resolve(ctx, rawToken)
	if err != nil {
		return fmt.Errorf("resolve token: %w", err)
	}
	if token == nil {
		return ErrTokenInvalid
	}

	e164 := phone.Normalize(rawPhone)
	if e164 == "" {
		// Same code as an unknown token: which validation failed is not
		// the caller's business
		return ErrTokenInvalid
	}
	masked := util.MaskPhone(e164)

	account, err := s.accounts.GetByPhoneHash(ctx, s.hasher.HashPhone(e164))
	if err != nil {
		return fmt.Errorf("lookup account: %w", err)
	}
	if account != nil && account.LockedAt(s.now()) {
		s.audit(ctx, models.AuditRecoveryLockedAttempt, token.TargetID, masked, nil)
		s.delay(ctx)
		return ErrRecoveryLocked
	}

	code, err := hashing.GenerateOTP()
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	codeHash, err := s.hasher.HashOTP(code)
	if err != nil {
		return fmt.Errorf("hash code: %w", err)
	}

	sendCount, err := s.challenges.RequestChallenge(ctx, e164, codeHash)
	if err != nil {
		if errors.Is(err, models.ErrSendLimitReached) {
			return ErrSendLimit
		}
		return fmt.Errorf("request challenge: %w", err)
	}

	if account != nil {
		if err := s.sms.SendCode(ctx, e164, code); err != nil {
			util.Error("Code delivery failed",
				zap.String("phone", masked),
				zap.Error(err))
		}
	} else {
		s.audit(ctx, models.AuditRecoveryPhoneNotFound, token.TargetID, masked, nil)
		s.operator.Notify(ctx, notify.OperatorNotice{
			Kind:        "recovery_phone_not_found",
			Text:        fmt.Sprintf("recovery code requested for unknown phone, target_id=%d", token.TargetID),
			PhoneMasked: masked,
		})
	}

	util.Debug("Recovery code requested",
		zap.String("phone", masked),
		zap.Int("send_count", sendCount))

	s.delay(ctx)
	return nil
}

// VerifyCode checks a submitted one-time code. Success keeps the token
// valid for the PIN step; exhausting the attempt budget locks the account
// and consumes the token.
func (s *RecoveryService) VerifyCode(ctx context.Context, rawToken, rawPhone, code string) error {
	token, err := s.tokens.Resolve(ctx, rawToken)
	if err != nil {
		return fmt.Errorf("resolve token: %w", err)
	}
	if token == nil {
		return ErrTokenInvalid
	}

	e164 := phone.Normalize(rawPhone)
	if e164 == "" {
		e164 = rawPhone
	}
	masked := util.MaskPhone(e164)

	account, err := s.accounts.GetByPhoneHash(ctx, s.hasher.HashPhone(e164))
	if err != nil {
		return fmt.Errorf("lookup account: %w", err)
	}
	if account != nil && account.LockedAt(s.now()) {
		// Reported as attempts_exceeded so the caller cannot tell an
		// active lock from a just-exhausted budget
		s.audit(ctx, models.AuditRecoveryLockedAttempt, token.TargetID, masked, nil)
		s.delay(ctx)
		return ErrAttemptsExceeded
	}

	challenge, err := s.challenges.ActiveChallenge(ctx, e164)
	if err != nil {
		return fmt.Errorf("load challenge: %w", err)
	}
	if challenge == nil {
		s.delay(ctx)
		return ErrWrongCode
	}

	if challenge.Attempts >= s.otpMaxAttempts {
		s.lockAccount(ctx, account, token, rawToken, masked, "otp_attempts")
		return ErrAttemptsExceeded
	}

	if !s.hasher.VerifyOTP(code, challenge.OTPHash) {
		attempts, err := s.challenges.RecordFailedVerify(ctx, e164)
		if err != nil {
			return fmt.Errorf("record failed verify: %w", err)
		}
		if attempts >= s.otpMaxAttempts {
			s.lockAccount(ctx, account, token, rawToken, masked, "otp_attempts")
			return ErrAttemptsExceeded
		}
		s.delay(ctx)
		return ErrWrongCode
	}

	return nil
}

// VerifyPinAndRecover is the terminal step: a correct PIN rebinds the
// account to the token's target identity. This is the only path that
// changes the binding or clears a lock early.
func (s *RecoveryService) VerifyPinAndRecover(ctx context.Context, rawToken, rawPhone, pin string) error {
	token, err := s.tokens.Resolve(ctx, rawToken)
	if err != nil {
		return fmt.Errorf("resolve token: %w", err)
	}
	if token == nil {
		return ErrTokenInvalid
	}

	e164 := phone.Normalize(rawPhone)
	if e164 == "" {
		e164 = rawPhone
	}
	masked := util.MaskPhone(e164)

	account, err := s.accounts.GetByPhoneHash(ctx, s.hasher.HashPhone(e164))
	if err != nil {
		return fmt.Errorf("lookup account: %w", err)
	}
	if account == nil {
		s.delay(ctx)
		return ErrPhoneNotFound
	}

	if account.LockedAt(s.now()) {
		s.audit(ctx, models.AuditRecoveryLockedAttempt, token.TargetID, masked, nil)
		s.delay(ctx)
		return ErrRecoveryLocked
	}

	challenge, err := s.challenges.ActiveChallenge(ctx, e164)
	if err != nil {
		return fmt.Errorf("load challenge: %w", err)
	}
	if challenge == nil {
		// No live challenge means the code step never succeeded within
		// its TTL; the session is dead
		s.delay(ctx)
		return ErrTokenInvalid
	}

	if !s.hasher.VerifyPIN(pin, account.PINHash) {
		s.audit(ctx, models.AuditRecoverPinFail, token.TargetID, masked, nil)

		pinAttempts, err := s.challenges.RecordFailedPin(ctx, e164)
		if err != nil {
			return fmt.Errorf("record failed pin: %w", err)
		}
		if pinAttempts >= s.pinMaxAttempts {
			s.lockAccount(ctx, account, token, rawToken, masked, "pin_attempts")
			return ErrAttemptsExceeded
		}
		s.delay(ctx)
		return ErrWrongPin
	}

	oldExternalID := account.ExternalID
	if err := s.accounts.ApplyRecovery(ctx, account, token.TargetID, s.now()); err != nil {
		return fmt.Errorf("apply recovery: %w", err)
	}
	if err := s.tokens.Consume(ctx, rawToken); err != nil {
		util.Error("Token not consumed after successful recovery", zap.Error(err))
	}
	if err := s.challenges.Discard(ctx, e164); err != nil {
		util.Warn("Challenge not discarded after recovery", zap.Error(err))
	}

	s.audit(ctx, models.AuditRecoverySuccess, token.TargetID, masked, map[string]string{
		"old_external_id": fmt.Sprintf("%d", oldExternalID),
		"new_external_id": fmt.Sprintf("%d", token.TargetID),
	})
	s.operator.Notify(ctx, notify.OperatorNotice{
		Kind:        "recovery_success",
		Text:        fmt.Sprintf("recovery succeeded, external identity %d -> %d", oldExternalID, token.TargetID),
		PhoneMasked: masked,
	})

	return nil
}

// lockAccount is the shared lockout transition: lock window on the
// account, token consumed, audit plus operator notice. When no account
// exists for the phone there is nothing to lock and the token survives,
// matching the request-code branch that never sent a code.
func (s *RecoveryService) lockAccount(ctx context.Context, account *models.Account, token *models.RecoveryToken, rawToken, masked, reason string) {
	if account == nil {
		return
	}

	until := s.now().Add(s.lockDuration)

	// Lock first: a lock without a consumed token fails closed, the
	// reverse does not
	if err := s.accounts.SetRecoveryLock(ctx, account, until); err != nil {
		util.Error("Failed to set recovery lock",
			zap.String("account_id", account.AccountID),
			zap.Error(err))
		return
	}
	if err := s.tokens.Consume(ctx, rawToken); err != nil {
		util.Error("Token not consumed on lockout, will retry on next use", zap.Error(err))
	}

	s.audit(ctx, models.AuditRecoveryLocked, token.TargetID, masked, map[string]string{
		"reason": reason,
	})
	s.operator.Notify(ctx, notify.OperatorNotice{
		Kind:        "recovery_locked",
		Text:        fmt.Sprintf("recovery locked (%s), target_id=%d", reason, token.TargetID),
		PhoneMasked: masked,
	})
}

func (s *RecoveryService) audit(ctx context.Context, eventType string, externalID int64, masked string, meta map[string]string) {
	event := &models.AuditEvent{
		EventType:   eventType,
		EventTime:   s.now().UTC(),
		ExternalID:  externalID,
		PhoneMasked: masked,
		Meta:        meta,
	}
	if err := s.recorder.Record(ctx, event); err != nil {
		util.Warn("Audit event not recorded",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}
