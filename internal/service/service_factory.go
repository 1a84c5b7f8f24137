package service

import (
	"account-security-service/internal/audit"
	"account-security-service/internal/config"
	"account-security-service/internal/encryption"
	"account-security-service/internal/hashing"
	"account-security-service/internal/repository/scylla"
	"account-security-service/internal/totp"
)

// ServiceFactory lazily constructs the coordinator singletons from their
// shared collaborators.
type ServiceFactory struct {
	users      scylla.UserRepository
	tokens     scylla.TokenRepository
	hasher     *hashing.Hasher
	totpMgr    *totp.Manager
	encryption *encryption.Manager
	limiter    AttemptLimiter
	sink       audit.Sink
	cfg        *config.Config

	passwordReset *PasswordResetService
	mfa           *MfaService
}

func NewServiceFactory(
	users scylla.UserRepository,
	tokens scylla.TokenRepository,
	hasher *hashing.Hasher,
	totpMgr *totp.Manager,
	encryptionMgr *encryption.Manager,
	limiter AttemptLimiter,
	sink audit.Sink,
	cfg *config.Config,
) *ServiceFactory {
	return &ServiceFactory{
		users:      users,
		tokens:     tokens,
		hasher:     hasher,
		totpMgr:    totpMgr,
		encryption: encryptionMgr,
		limiter:    limiter,
		sink:       sink,
		cfg:        cfg,
	}
}

// PasswordResetService returns the password reset coordinator (singleton).
func (f *ServiceFactory) PasswordResetService() *PasswordResetService {
	if f.passwordReset == nil {
		f.passwordReset = NewPasswordResetService(
			f.users, f.tokens, f.hasher, f.limiter, f.sink, f.cfg.Reset)
	}
	return f.passwordReset
}

// MfaService returns the MFA coordinator (singleton).
func (f *ServiceFactory) MfaService() *MfaService {
	if f.mfa == nil {
		f.mfa = NewMfaService(
			f.users, f.totpMgr, f.encryption, f.limiter, f.sink, f.cfg.MFA)
	}
	return f.mfa
}
