package scylla

import (
	"context"
	"time"

	"account-security-service/internal/models"
)

// UserRepository is the user directory consumed by the coordinators.
type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	// UpdatePassword replaces the credential and, when activate is set,
	// promotes an invited account to active with a verified email.
	UpdatePassword(ctx context.Context, userID, encodedHash string, activate bool, at time.Time) error

	// SetPendingMFASecret stores an encrypted, not-yet-confirmed TOTP
	// secret. Applied only while MFA is disabled.
	SetPendingMFASecret(ctx context.Context, userID string, secret []byte, encryptedDEK, keyID string) (bool, error)

	// EnableMFA flips the enabled flag, conditioned on the stored secret
	// still being the one that was verified.
	EnableMFA(ctx context.Context, userID string, expectedSecret []byte) (bool, error)

	// DisableMFA clears the secret and the enabled flag, conditioned on
	// MFA currently being enabled.
	DisableMFA(ctx context.Context, userID string) (bool, error)

	HealthCheck(ctx context.Context) error
}

// TokenRepository is the reset-token store consumed by the password-reset
// coordinator. Tokens are keyed by their SHA-256 hash.
type TokenRepository interface {
	SaveToken(ctx context.Context, token *models.ResetToken) error
	GetTokenByHash(ctx context.Context, tokenHash string) (*models.ResetToken, error)

	// RedeemToken marks a token redeemed if and only if it has not been
	// redeemed already; the returned bool reports whether this call won.
	RedeemToken(ctx context.Context, tokenHash string, at time.Time) (bool, error)

	// ReplaceTokensForUser deletes every existing token for the user and
	// inserts the new one in a single logged batch, so a reader never sees
	// the old and the new token valid at the same time.
	ReplaceTokensForUser(ctx context.Context, token *models.ResetToken) (int, error)

	DeleteTokensForUser(ctx context.Context, userID string) (int, error)
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error)
}
