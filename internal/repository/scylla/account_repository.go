package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"recovery-service/internal/bucketing"
	"recovery-service/internal/models"
	"recovery-service/internal/util"
)

// AccountRepository persists accounts across two tables: the bucketed
// accounts table and the phone_to_account lookup index.
type AccountRepository struct {
	client   *ScyllaClient
	bucketer *bucketing.BucketingManager
}

func NewAccountRepository(client *ScyllaClient, bucketer *bucketing.BucketingManager, logger *zap.Logger) *AccountRepository {
	return &AccountRepository{
		client:   client,
		bucketer: bucketer,
	}
}

func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	if account.AccountID == "" {
		account.AccountID = uuid.New().String()
	}
	account.AccountBucket = r.bucketer.AccountBucket(account.PhoneHash)

	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = &now

	batch := r.client.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)

	batch.Query(r.client.Prepared.CreateAccount.Statement(),
		account.AccountBucket, account.AccountID, account.PhoneHash,
		account.PhoneEncrypted, account.PhoneKeyID, account.ExternalID,
		account.PrevExternalID, account.PINHash, account.RecoveredFlag,
		account.RecoveredAt, account.RecoveredCount, account.RecoveryLockedUntil,
		account.CreatedAt, account.UpdatedAt)

	batch.Query(r.client.Prepared.CreatePhoneMapping.Statement(),
		account.PhoneHash, account.AccountBucket, account.AccountID, account.CreatedAt)

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to create account",
			zap.String("account_id", account.AccountID),
			zap.Error(err))
		return fmt.Errorf("failed to create account: %w", err)
	}

	util.Info("Account created",
		zap.String("account_id", account.AccountID),
		zap.Int("account_bucket", account.AccountBucket))

	return nil
}

func (r *AccountRepository) GetByPhoneHash(ctx context.Context, phoneHash string) (*models.Account, error) {
	var bucket int
	var accountID string

	locator := r.client.Prepared.GetAccountLocator.Bind(phoneHash).WithContext(ctx)
	if err := r.client.ScanWithRetry(locator, &bucket, &accountID); err != nil {
		if err == gocql.ErrNotFound {
			return nil, nil
		}
		util.Error("Failed to resolve phone mapping", zap.Error(err))
		return nil, fmt.Errorf("failed to resolve phone mapping: %w", err)
	}

	account := &models.Account{}
	var recoveredAt, lockedUntil, updatedAt time.Time
	var prevExternalID int64

	query := r.client.Prepared.GetAccountByID.Bind(bucket, accountID).WithContext(ctx)
	err := r.client.ScanWithRetry(query,
		&account.AccountBucket, &account.AccountID, &account.PhoneHash,
		&account.PhoneEncrypted, &account.PhoneKeyID, &account.ExternalID,
		&prevExternalID, &account.PINHash, &account.RecoveredFlag,
		&recoveredAt, &account.RecoveredCount, &lockedUntil,
		&account.CreatedAt, &updatedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			// Dangling index row; treat as absent
			util.Warn("Phone mapping points at missing account",
				zap.String("account_id", accountID))
			return nil, nil
		}
		util.Error("Failed to get account",
			zap.String("account_id", accountID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	if prevExternalID != 0 {
		account.PrevExternalID = &prevExternalID
	}
	if !recoveredAt.IsZero() {
		t := recoveredAt
		account.RecoveredAt = &t
	}
	if !lockedUntil.IsZero() {
		t := lockedUntil
		account.RecoveryLockedUntil = &t
	}
	if !updatedAt.IsZero() {
		t := updatedAt
		account.UpdatedAt = &t
	}

	return account, nil
}

func (r *AccountRepository) SetRecoveryLock(ctx context.Context, account *models.Account, until time.Time) error {
	now := time.Now().UTC()

	query := r.client.Prepared.SetRecoveryLock.
		Bind(until, now, account.AccountBucket, account.AccountID).
		WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		util.Error("Failed to set recovery lock",
			zap.String("account_id", account.AccountID),
			zap.Error(err))
		return fmt.Errorf("failed to set recovery lock: %w", err)
	}

	u := until
	account.RecoveryLockedUntil = &u
	account.UpdatedAt = &now

	util.Info("Recovery lock set",
		zap.String("account_id", account.AccountID),
		zap.Time("locked_until", until))

	return nil
}

func (r *AccountRepository) ApplyRecovery(ctx context.Context, account *models.Account, newExternalID int64, at time.Time) error {
	prev := account.ExternalID
	count := account.RecoveredCount + 1
	now := at.UTC()

	query := r.client.Prepared.ApplyRecovery.
		Bind(newExternalID, prev, true, now, count, nil, now,
			account.AccountBucket, account.AccountID).
		WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		util.Error("Failed to apply recovery",
			zap.String("account_id", account.AccountID),
			zap.Error(err))
		return fmt.Errorf("failed to apply recovery: %w", err)
	}

	account.PrevExternalID = &prev
	account.ExternalID = newExternalID
	account.RecoveredFlag = true
	account.RecoveredAt = &now
	account.RecoveredCount = count
	account.RecoveryLockedUntil = nil
	account.UpdatedAt = &now

	util.Info("Recovery applied",
		zap.String("account_id", account.AccountID),
		zap.Int64("external_id", newExternalID),
		zap.Int("recovered_count", count))

	return nil
}
