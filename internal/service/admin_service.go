package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"recovery-service/internal/encryption"
	"recovery-service/internal/hashing"
	"recovery-service/internal/models"
	"recovery-service/internal/phone"
	"recovery-service/internal/util"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrAccountExists = errors.New("account already exists")
)

// AdminService covers the administrative surface: issuing recovery tokens
// and provisioning accounts. Both are privileged operations; the caller
// identity arrives as issuerID and goes into the audit trail.
type AdminService struct {
	accounts  models.AccountStore
	tokens    models.TokenStore
	recorder  models.AuditRecorder
	hasher    *hashing.Hasher
	encryptor *encryption.EncryptionManager
}

func NewAdminService(
	accounts models.AccountStore,
	tokens models.TokenStore,
	recorder models.AuditRecorder,
	hasher *hashing.Hasher,
	encryptor *encryption.EncryptionManager,
) *AdminService {
	return &AdminService{
		accounts:  accounts,
		tokens:    tokens,
		recorder:  recorder,
		hasher:    hasher,
		encryptor: encryptor,
	}
}

// IssueToken mints a recovery token bound to targetID. The returned raw
// value exists only in this response; afterwards only its digest remains.
func (s *AdminService) IssueToken(ctx context.Context, targetID, issuerID int64) (string, error) {
	if targetID <= 0 {
		return "", fmt.Errorf("%w: target identity required", ErrInvalidInput)
	}

	raw, err := s.tokens.Issue(ctx, targetID, issuerID)
	if err != nil {
		return "", err
	}

	event := &models.AuditEvent{
		EventType:  models.AuditRecoveryTokenIssued,
		ExternalID: targetID,
		Meta: map[string]string{
			"issuer_id": fmt.Sprintf("%d", issuerID),
		},
	}
	if err := s.recorder.Record(ctx, event); err != nil {
		util.Warn("Token issue audit not recorded", zap.Error(err))
	}

	return raw, nil
}

// RegisterAccount provisions an account bound to a phone number, PIN and
// external identity. The phone is stored envelope-encrypted, keyed by its
// digest.
func (s *AdminService) RegisterAccount(ctx context.Context, rawPhone, pin string, externalID int64) (*models.Account, error) {
	e164 := phone.Normalize(rawPhone)
	if e164 == "" {
		return nil, fmt.Errorf("%w: unparsable phone", ErrInvalidInput)
	}
	if pin == "" || externalID <= 0 {
		return nil, fmt.Errorf("%w: pin and external identity required", ErrInvalidInput)
	}

	phoneHash := s.hasher.HashPhone(e164)

	existing, err := s.accounts.GetByPhoneHash(ctx, phoneHash)
	if err != nil {
		return nil, fmt.Errorf("lookup account: %w", err)
	}
	if existing != nil {
		return nil, ErrAccountExists
	}

	pinHash, err := s.hasher.HashPIN(pin)
	if err != nil {
		return nil, fmt.Errorf("hash pin: %w", err)
	}

	encryptedPhone, keyID, err := s.encryptor.EncryptPhone(ctx, e164)
	if err != nil {
		return nil, fmt.Errorf("encrypt phone: %w", err)
	}

	account := &models.Account{
		PhoneHash:      phoneHash,
		PhoneEncrypted: encryptedPhone,
		PhoneKeyID:     keyID,
		ExternalID:     externalID,
		PINHash:        pinHash,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, err
	}

	util.Info("Account registered",
		zap.String("account_id", account.AccountID),
		zap.String("phone", util.MaskPhone(e164)),
		zap.Int64("external_id", externalID))

	return account, nil
}
