package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"recovery-service/internal/config"
	"recovery-service/internal/util"
)

// PreparedStatements holds prepared statements used by the repositories.
type PreparedStatements struct {
	CreateAccount       *gocql.Query
	CreatePhoneMapping  *gocql.Query
	GetAccountLocator   *gocql.Query
	GetAccountByID      *gocql.Query
	SetRecoveryLock     *gocql.Query
	ApplyRecovery       *gocql.Query
	InsertRecoveryToken *gocql.Query
	GetRecoveryToken    *gocql.Query
	MarkTokenUsed       *gocql.Query
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.MaxRoutingKeyInfo = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if !cfg.IsDevelopment() {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 "/root/certs/ca.pem",
			CertPath:               "/root/certs/server.pem",
			KeyPath:                "/root/certs/server.key",
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.prepareStatements(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	util.Info("ScyllaDB client initialized with prepared statements",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func (s *ScyllaClient) prepareStatements() error {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return nil
	}

	prepared := &PreparedStatements{}

	prepared.CreateAccount = s.Session.Query(`
        INSERT INTO accounts (
            account_bucket, account_id, phone_hash, phone_encrypted, phone_key_id,
            external_id, prev_external_id, pin_hash, recovered_flag, recovered_at,
            recovered_count, recovery_locked_until, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	prepared.CreatePhoneMapping = s.Session.Query(`
        INSERT INTO phone_to_account (phone_hash, account_bucket, account_id, created_at)
        VALUES (?, ?, ?, ?)`)

	prepared.GetAccountLocator = s.Session.Query(`
        SELECT account_bucket, account_id FROM phone_to_account WHERE phone_hash = ?`)

	prepared.GetAccountByID = s.Session.Query(`
        SELECT account_bucket, account_id, phone_hash, phone_encrypted, phone_key_id,
            external_id, prev_external_id, pin_hash, recovered_flag, recovered_at,
            recovered_count, recovery_locked_until, created_at, updated_at
        FROM accounts WHERE account_bucket = ? AND account_id = ?`)

	prepared.SetRecoveryLock = s.Session.Query(`
        UPDATE accounts SET recovery_locked_until = ?, updated_at = ?
        WHERE account_bucket = ? AND account_id = ?`)

	prepared.ApplyRecovery = s.Session.Query(`
        UPDATE accounts SET external_id = ?, prev_external_id = ?, recovered_flag = ?,
            recovered_at = ?, recovered_count = ?, recovery_locked_until = ?, updated_at = ?
        WHERE account_bucket = ? AND account_id = ?`)

	prepared.InsertRecoveryToken = s.Session.Query(`
        INSERT INTO recovery_tokens (token_hash, target_id, issuer_id, expires_at, used_at, created_at)
        VALUES (?, ?, ?, ?, ?, ?)`)

	prepared.GetRecoveryToken = s.Session.Query(`
        SELECT token_hash, target_id, issuer_id, expires_at, used_at, created_at
        FROM recovery_tokens WHERE token_hash = ?`)

	prepared.MarkTokenUsed = s.Session.Query(`
        UPDATE recovery_tokens SET used_at = ? WHERE token_hash = ? IF used_at = null`)

	s.Prepared = prepared
	s.isPrepared = true

	util.Info("ScyllaDB prepared statements created successfully")
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...)
}

func (s *ScyllaClient) Batch(typ gocql.BatchType) *gocql.Batch {
	return s.Session.NewBatch(typ)
}

func (s *ScyllaClient) ExecuteBatch(batch *gocql.Batch) error {
	return s.Session.ExecuteBatch(batch)
}

func (s *ScyllaClient) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < maxRetries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if err := query.Scan(dest...); err != nil {
			lastErr = err
			if i < 2 {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}
