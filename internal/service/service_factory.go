package service

import (
	"go.uber.org/zap"

	"recovery-service/internal/config"
	"recovery-service/internal/encryption"
	"recovery-service/internal/hashing"
	"recovery-service/internal/models"
	"recovery-service/internal/notify"
)

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	cfg        *config.Config
	accounts   models.AccountStore
	tokens     models.TokenStore
	challenges models.ChallengeStore
	recorder   models.AuditRecorder
	hasher     *hashing.Hasher
	encryptor  *encryption.EncryptionManager
	sms        notify.SmsProvider
	operator   notify.OperatorNotifier
	logger     *zap.Logger

	recoveryService *RecoveryService
	adminService    *AdminService
	floodController *FloodController
	rateLimiter     *RateLimiter
}

func NewServiceFactory(
	cfg *config.Config,
	accounts models.AccountStore,
	tokens models.TokenStore,
	challenges models.ChallengeStore,
	recorder models.AuditRecorder,
	hasher *hashing.Hasher,
	encryptor *encryption.EncryptionManager,
	sms notify.SmsProvider,
	operator notify.OperatorNotifier,
	logger *zap.Logger,
) *ServiceFactory {
	return &ServiceFactory{
		cfg:        cfg,
		accounts:   accounts,
		tokens:     tokens,
		challenges: challenges,
		recorder:   recorder,
		hasher:     hasher,
		encryptor:  encryptor,
		sms:        sms,
		operator:   operator,
		logger:     logger,
	}
}

// RecoveryService returns the recovery orchestrator (singleton)
func (f *ServiceFactory) RecoveryService() *RecoveryService {
	if f.recoveryService == nil {
		f.recoveryService = NewRecoveryService(
			f.cfg, f.accounts, f.tokens, f.challenges,
			f.recorder, f.hasher, f.sms, f.operator,
		)
	}
	return f.recoveryService
}

// AdminService returns the administrative service (singleton)
func (f *ServiceFactory) AdminService() *AdminService {
	if f.adminService == nil {
		f.adminService = NewAdminService(
			f.accounts, f.tokens, f.recorder, f.hasher, f.encryptor,
		)
	}
	return f.adminService
}

// FloodController returns the flood gate (singleton)
func (f *ServiceFactory) FloodController() *FloodController {
	if f.floodController == nil {
		f.floodController = NewFloodController(f.cfg, f.recorder)
	}
	return f.floodController
}

// RateLimiter returns the rate limit gate (singleton)
func (f *ServiceFactory) RateLimiter() *RateLimiter {
	if f.rateLimiter == nil {
		f.rateLimiter = NewRateLimiter(f.cfg)
	}
	return f.rateLimiter
}

// Cleanup stops background workers owned by the services
func (f *ServiceFactory) Cleanup() {
	if f.floodController != nil {
		f.floodController.Close()
	}
	if f.rateLimiter != nil {
		f.rateLimiter.Close()
	}
}
