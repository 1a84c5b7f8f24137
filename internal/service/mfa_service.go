package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"account-security-service/internal/audit"
	"account-security-service/internal/config"
	"account-security-service/internal/encryption"
	"account-security-service/internal/models"
	redisrepo "account-security-service/internal/repository/redis"
	"account-security-service/internal/repository/scylla"
	"account-security-service/internal/totp"
	"account-security-service/internal/util"
)

const recoveryCodeLength = 8

// MfaSetup is the material handed to the user exactly once during
// enrollment: the base32 secret for manual entry, the otpauth URI, and a
// rendered QR image of that URI.
type MfaSetup struct {
	Secret          string
	ProvisioningURI string
	QRImage         []byte
}

// MfaService drives TOTP enrollment and verification. An account moves
// disabled -> secret pending -> enabled, and only a valid code from the
// pending secret completes the last step.
type MfaService struct {
	users      scylla.UserRepository
	totp       *totp.Manager
	encryption *encryption.Manager
	limiter    AttemptLimiter
	sink       audit.Sink
	cfg        config.MFAConfig

	now func() time.Time
}

func NewMfaService(
	users scylla.UserRepository,
	totpManager *totp.Manager,
	encryptionManager *encryption.Manager,
	limiter AttemptLimiter,
	sink audit.Sink,
	cfg config.MFAConfig,
) *MfaService {
	return &MfaService{
		users:      users,
		totp:       totpManager,
		encryption: encryptionManager,
		limiter:    limiter,
		sink:       sink,
		cfg:        cfg,
		now:        time.Now,
	}
}

// BeginSetup generates a fresh secret for the account and stores it
// encrypted, in the pending state. Calling it again before verification
// replaces the pending secret; calling it once MFA is on fails with
// ErrMFAAlreadyEnabled.
func (s *MfaService) BeginSetup(ctx context.Context, userID string) (*MfaSetup, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}

	secret, uri, err := s.totp.GenerateSecret(user.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to generate totp secret: %w", err)
	}

	// Render before persisting so an image failure leaves no state behind.
	qr, err := s.totp.QRImage(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to render provisioning image: %w", err)
	}

	envelope, err := s.encryption.EncryptSecret(ctx, []byte(secret))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt totp secret: %w", err)
	}

	applied, err := s.users.SetPendingMFASecret(ctx, userID,
		envelope.Ciphertext, envelope.EncryptedDEK, envelope.KeyID)
	if err != nil {
		return nil, fmt.Errorf("failed to store pending secret: %w", err)
	}
	if !applied {
		// Lost a race with a concurrent enable on the same account.
		return nil, ErrMFAAlreadyEnabled
	}

	util.Info("MFA setup started", zap.String("user_id", userID))
	s.sink.Record(models.EventMFASetupStarted, models.SubjectUser, userID, "mfa enrollment started")

	return &MfaSetup{
		Secret:          secret,
		ProvisioningURI: uri,
		QRImage:         qr,
	}, nil
}

// VerifyAndEnable turns MFA on once the user proves possession of the
// pending secret. A wrong code reports ok=false and leaves the account in
// the pending state, so the user can simply try again.
func (s *MfaService) VerifyAndEnable(ctx context.Context, userID, code string) (bool, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return false, err
	}
	if user.MFAEnabled {
		return false, ErrMFAAlreadyEnabled
	}
	if !user.HasPendingMFASecret() {
		return false, ErrMFASetupNotStarted
	}

	ok, err := s.checkCode(ctx, user, code)
	if err != nil || !ok {
		return false, err
	}

	applied, err := s.users.EnableMFA(ctx, userID, user.MFASecret)
	if err != nil {
		return false, fmt.Errorf("failed to enable mfa: %w", err)
	}
	if !applied {
		// The pending secret changed under us; the code the user entered
		// no longer belongs to the stored secret.
		return false, ErrMFAStateConflict
	}

	util.Info("MFA enabled", zap.String("user_id", userID))
	s.sink.Record(models.EventMFAEnabled, models.SubjectUser, userID, "mfa enabled")

	return true, nil
}

// VerifyCode checks a code against the account's confirmed secret. It is
// the second-factor step of a login and never mutates MFA state.
func (s *MfaService) VerifyCode(ctx context.Context, userID, code string) (bool, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return false, err
	}
	if !user.MFAEnabled {
		return false, ErrMFANotEnabled
	}
	return s.checkCode(ctx, user, code)
}

// Disable turns MFA off and discards the stored secret. It demands a
// currently valid code so a session thief cannot strip the second factor.
func (s *MfaService) Disable(ctx context.Context, userID, code string) error {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if !user.MFAEnabled {
		return ErrMFANotEnabled
	}

	ok, err := s.checkCode(ctx, user, code)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCode
	}

	applied, err := s.users.DisableMFA(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to disable mfa: %w", err)
	}
	if !applied {
		return ErrMFANotEnabled
	}

	util.Info("MFA disabled", zap.String("user_id", userID))
	s.sink.Record(models.EventMFADisabled, models.SubjectUser, userID, "mfa disabled")

	return nil
}

// IsEnabled reports whether the account has a confirmed second factor.
func (s *MfaService) IsEnabled(ctx context.Context, userID string) (bool, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return user.MFAEnabled, nil
}

// GenerateRecoveryCodes issues a batch of single-use fallback codes for
// an MFA-enabled account. The caller is responsible for hashing and
// storing them; this service only mints.
func (s *MfaService) GenerateRecoveryCodes(ctx context.Context, userID string) ([]string, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.MFAEnabled {
		return nil, ErrMFANotEnabled
	}

	codes, err := totp.GenerateRecoveryCodes(s.cfg.RecoveryCodeCount, recoveryCodeLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate recovery codes: %w", err)
	}

	util.Info("Recovery codes issued",
		zap.String("user_id", userID),
		zap.Int("count", len(codes)))
	s.sink.Record(models.EventRecoveryCodesIssued, models.SubjectUser, userID, "recovery codes issued")

	return codes, nil
}

// checkCode decrypts the stored secret and validates the submitted code,
// recording failures against the attempt limiter.
func (s *MfaService) checkCode(ctx context.Context, user *models.User, code string) (bool, error) {
	limited, err := s.limiter.IsLimited(ctx, redisrepo.ScopeTOTPVerify, user.UserID, s.cfg.MaxAttempts)
	if err != nil {
		return false, fmt.Errorf("failed to check attempt limit: %w", err)
	}
	if limited {
		return false, ErrTooManyAttempts
	}

	secret, err := s.encryption.DecryptSecret(ctx, &encryption.SecretEnvelope{
		Ciphertext:   user.MFASecret,
		EncryptedDEK: user.MFASecretDEK,
		KeyID:        user.MFASecretKeyID,
	})
	if err != nil {
		return false, fmt.Errorf("failed to decrypt totp secret: %w", err)
	}

	if !s.totp.Validate(code, string(secret), s.now()) {
		if _, err := s.limiter.RecordFailure(ctx, redisrepo.ScopeTOTPVerify, user.UserID, s.cfg.AttemptWindow); err != nil {
			util.Warn("Failed to record attempt", zap.Error(err))
		}
		s.sink.Record(models.EventMFAVerifyFailed, models.SubjectUser, user.UserID, "invalid totp code")
		return false, nil
	}

	if err := s.limiter.Reset(ctx, redisrepo.ScopeTOTPVerify, user.UserID); err != nil {
		util.Warn("Failed to clear attempt counter", zap.Error(err))
	}
	return true, nil
}

func (s *MfaService) loadUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return user, nil
}
