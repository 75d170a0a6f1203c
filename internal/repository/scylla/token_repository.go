package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"recovery-service/internal/config"
	"recovery-service/internal/hashing"
	"recovery-service/internal/models"
	"recovery-service/internal/util"
)

const rawTokenBytes = 32

// TokenRepository persists single-use recovery tokens. Rows are written
// once and marked used once; nothing here deletes them.
type TokenRepository struct {
	client   *ScyllaClient
	hasher   *hashing.Hasher
	tokenTTL time.Duration
}

func NewTokenRepository(client *ScyllaClient, hasher *hashing.Hasher, cfg *config.Config, logger *zap.Logger) *TokenRepository {
	return &TokenRepository{
		client:   client,
		hasher:   hasher,
		tokenTTL: cfg.Recovery.TokenTTL,
	}
}

func (r *TokenRepository) Issue(ctx context.Context, targetID, issuerID int64) (string, error) {
	raw, err := hashing.RandomToken(rawTokenBytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	now := time.Now().UTC()
	expiresAt := now.Add(r.tokenTTL)

	query := r.client.Prepared.InsertRecoveryToken.
		Bind(r.hasher.HashToken(raw), targetID, issuerID, expiresAt, nil, now).
		WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 3); err != nil {
		util.Error("Failed to persist recovery token",
			zap.Int64("target_id", targetID),
			zap.Error(err))
		return "", fmt.Errorf("failed to persist recovery token: %w", err)
	}

	util.Info("Recovery token issued",
		zap.Int64("target_id", targetID),
		zap.Int64("issuer_id", issuerID),
		zap.Time("expires_at", expiresAt))

	return raw, nil
}

func (r *TokenRepository) Resolve(ctx context.Context, rawToken string) (*models.RecoveryToken, error) {
	token := &models.RecoveryToken{}
	var usedAt time.Time

	query := r.client.Prepared.GetRecoveryToken.
		Bind(r.hasher.HashToken(rawToken)).
		WithContext(ctx)

	err := r.client.ScanWithRetry(query,
		&token.TokenHash, &token.TargetID, &token.IssuerID,
		&token.ExpiresAt, &usedAt, &token.CreatedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, nil
		}
		util.Error("Failed to resolve recovery token", zap.Error(err))
		return nil, fmt.Errorf("failed to resolve recovery token: %w", err)
	}

	if !usedAt.IsZero() {
		t := usedAt
		token.UsedAt = &t
	}

	if !token.UsableAt(time.Now().UTC()) {
		return nil, nil
	}

	return token, nil
}

func (r *TokenRepository) Consume(ctx context.Context, rawToken string) error {
	now := time.Now().UTC()

	query := r.client.Prepared.MarkTokenUsed.
		Bind(now, r.hasher.HashToken(rawToken)).
		WithContext(ctx)

	var prevUsedAt time.Time
	applied, err := query.ScanCAS(&prevUsedAt)
	if err != nil && err != gocql.ErrNotFound {
		util.Error("Failed to consume recovery token", zap.Error(err))
		return fmt.Errorf("failed to consume recovery token: %w", err)
	}

	// Already-used tokens stay used; consuming twice is a no-op
	if !applied {
		util.Debug("Recovery token already consumed")
	}

	return nil
}
