package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"account-security-service/internal/audit"
	"account-security-service/internal/config"
	"account-security-service/internal/hashing"
	"account-security-service/internal/models"
	redisrepo "account-security-service/internal/repository/redis"
	"account-security-service/internal/repository/scylla"
	"account-security-service/internal/util"
)

// resetTokenBytes is the entropy of a reset token before encoding.
const resetTokenBytes = 32

// PasswordResetService issues and redeems single-use password reset
// tokens. Only the SHA-256 hash of a token is ever persisted; the
// plaintext exists once, in the return value of RequestReset.
type PasswordResetService struct {
	users   scylla.UserRepository
	tokens  scylla.TokenRepository
	hasher  *hashing.Hasher
	limiter AttemptLimiter
	sink    audit.Sink
	cfg     config.ResetConfig

	now func() time.Time
}

func NewPasswordResetService(
	users scylla.UserRepository,
	tokens scylla.TokenRepository,
	hasher *hashing.Hasher,
	limiter AttemptLimiter,
	sink audit.Sink,
	cfg config.ResetConfig,
) *PasswordResetService {
	return &PasswordResetService{
		users:   users,
		tokens:  tokens,
		hasher:  hasher,
		limiter: limiter,
		sink:    sink,
		cfg:     cfg,
		now:     time.Now,
	}
}

// RequestReset issues a fresh reset token for the account behind email.
// Any previously issued tokens for that account stop being valid in the
// same step. For an unknown address it reports ok=false with no error so
// the transport layer can answer identically in both cases.
func (s *PasswordResetService) RequestReset(ctx context.Context, email string) (string, bool, error) {
	normalized := util.NormalizeEmail(email)

	user, err := s.users.GetUserByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			util.Debug("Reset requested for unknown address")
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to resolve account: %w", err)
	}

	plaintext, tokenHash, err := newResetToken()
	if err != nil {
		return "", false, fmt.Errorf("failed to generate reset token: %w", err)
	}

	now := s.now().UTC()
	record := &models.ResetToken{
		TokenHash: tokenHash,
		UserID:    user.UserID,
		TenantID:  user.TenantID,
		ExpiresAt: now.Add(s.cfg.TokenTTL),
		CreatedAt: now,
	}

	invalidated, err := s.tokens.ReplaceTokensForUser(ctx, record)
	if err != nil {
		return "", false, fmt.Errorf("failed to store reset token: %w", err)
	}

	util.Info("Password reset token issued",
		zap.String("user_id", user.UserID),
		zap.Int("invalidated", invalidated))
	s.sink.Record(models.EventPasswordResetRequested, models.SubjectUser, user.UserID,
		"password reset token issued")

	return plaintext, true, nil
}

// ResetPassword redeems the token and installs the new credential. A bad,
// expired or already-redeemed token reports ok=false without an error.
// Invited accounts become active once the reset completes, since proving
// control of the mailbox also verifies the address.
func (s *PasswordResetService) ResetPassword(ctx context.Context, token, newPassword string) (bool, error) {
	tokenHash := hashToken(token)

	limited, err := s.limiter.IsLimited(ctx, redisrepo.ScopeResetConfirm, tokenHash, s.cfg.MaxAttempts)
	if err != nil {
		return false, fmt.Errorf("failed to check attempt limit: %w", err)
	}
	if limited {
		return false, ErrTooManyAttempts
	}

	record, err := s.tokens.GetTokenByHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			return s.rejectToken(ctx, tokenHash, "unknown reset token presented")
		}
		return false, fmt.Errorf("failed to look up reset token: %w", err)
	}

	now := s.now().UTC()
	if !record.Valid(now) {
		return s.rejectToken(ctx, tokenHash, "stale reset token presented")
	}

	// Encode before redeeming so a hashing failure cannot burn the token.
	encoded, err := s.hasher.Encode(newPassword)
	if err != nil {
		return false, fmt.Errorf("failed to encode credential: %w", err)
	}

	// The redeem marker is flipped first. If two requests race, exactly
	// one passes this point; the loser sees applied=false.
	applied, err := s.tokens.RedeemToken(ctx, tokenHash, now)
	if err != nil {
		return false, fmt.Errorf("failed to redeem reset token: %w", err)
	}
	if !applied {
		return s.rejectToken(ctx, tokenHash, "reset token already redeemed")
	}

	user, err := s.users.GetUserByID(ctx, record.UserID)
	if err != nil {
		return false, fmt.Errorf("failed to load account for reset: %w", err)
	}

	activate := user.Status == models.StatusInvited
	if err := s.users.UpdatePassword(ctx, user.UserID, encoded, activate, now); err != nil {
		return false, fmt.Errorf("failed to update credential: %w", err)
	}

	if err := s.limiter.Reset(ctx, redisrepo.ScopeResetConfirm, tokenHash); err != nil {
		util.Warn("Failed to clear attempt counter", zap.Error(err))
	}

	util.Info("Password reset completed",
		zap.String("user_id", user.UserID),
		zap.Bool("activated", activate))
	s.sink.Record(models.EventPasswordResetCompleted, models.SubjectUser, user.UserID,
		"password reset completed")

	return true, nil
}

// ValidateToken reports whether the token would currently be accepted,
// without consuming it. UIs use this to fail fast before showing the
// new-password form.
func (s *PasswordResetService) ValidateToken(ctx context.Context, token string) (bool, error) {
	record, err := s.tokens.GetTokenByHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to look up reset token: %w", err)
	}
	return record.Valid(s.now().UTC()), nil
}

// ResolveUser maps a currently valid token to the account it was issued
// for. It reports ok=false for any token that would not redeem.
func (s *PasswordResetService) ResolveUser(ctx context.Context, token string) (string, bool, error) {
	record, err := s.tokens.GetTokenByHash(ctx, hashToken(token))
	if err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to look up reset token: %w", err)
	}
	if !record.Valid(s.now().UTC()) {
		return "", false, nil
	}
	return record.UserID, true, nil
}

// PurgeExpired removes tokens whose lifetime has passed and returns how
// many were deleted. Redeemed-but-unexpired rows are kept until expiry as
// an audit trail.
func (s *PasswordResetService) PurgeExpired(ctx context.Context) (int, error) {
	deleted, err := s.tokens.DeleteExpiredBefore(ctx, s.now().UTC())
	if err != nil {
		return deleted, fmt.Errorf("failed to purge expired tokens: %w", err)
	}
	return deleted, nil
}

func (s *PasswordResetService) rejectToken(ctx context.Context, tokenHash, reason string) (bool, error) {
	if _, err := s.limiter.RecordFailure(ctx, redisrepo.ScopeResetConfirm, tokenHash, s.cfg.AttemptWindow); err != nil {
		util.Warn("Failed to record attempt", zap.Error(err))
	}
	s.sink.Record(models.EventPasswordResetFailed, models.SubjectToken, tokenHash, reason)
	return false, nil
}

// newResetToken returns a URL-safe plaintext token and the hex SHA-256
// digest it is stored under.
func newResetToken() (plaintext, tokenHash string, err error) {
	buf := make([]byte, resetTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	plaintext = base64.RawURLEncoding.EncodeToString(buf)
	return plaintext, hashToken(plaintext), nil
}

// hashToken derives the storage key for a token. Lookups compare digests,
// never plaintext, so timing reveals nothing about stored tokens.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
