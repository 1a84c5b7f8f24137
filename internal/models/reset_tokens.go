package models

import "time"

// ResetToken is the persisted form of a password-reset token. Only the
// SHA-256 hash of the plaintext token is ever stored; the plaintext is
// returned to the caller exactly once at issuance.
type ResetToken struct {
	TokenHash  string     `db:"token_hash"`
	UserID     string     `db:"user_id"`
	TenantID   string     `db:"tenant_id"`
	ExpiresAt  time.Time  `db:"expires_at"`
	RedeemedAt *time.Time `db:"redeemed_at"`
	CreatedAt  time.Time  `db:"created_at"`
}

// Valid reports whether the token can still be redeemed at the given time.
func (t *ResetToken) Valid(now time.Time) bool {
	return t.RedeemedAt == nil && now.Before(t.ExpiresAt)
}
