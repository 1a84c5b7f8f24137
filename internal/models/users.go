package models

import "time"

// Account status values. Invited users have no usable credential until a
// password reset completes.
const (
	StatusInvited = "invited"
	StatusActive  = "active"
	StatusBlocked = "blocked"
)

type User struct {
	UserBucket      int        `db:"user_bucket"`
	UserID          string     `db:"user_id"`
	TenantID        string     `db:"tenant_id"`
	Email           string     `db:"email"`
	PasswordHash    string     `db:"password_hash"`
	Status          string     `db:"status"`
	EmailVerified   bool       `db:"email_verified"`
	MFAEnabled      bool       `db:"mfa_enabled"`
	MFASecret       []byte     `db:"mfa_secret"`
	MFASecretKeyID  string     `db:"mfa_secret_key_id"`
	MFASecretDEK    string     `db:"mfa_secret_dek"`
	PasswordSetAt   *time.Time `db:"password_set_at"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       *time.Time `db:"updated_at"`
}

// HasPendingMFASecret reports whether a TOTP secret exists that has not yet
// been confirmed by a verified code.
func (u *User) HasPendingMFASecret() bool {
	return !u.MFAEnabled && len(u.MFASecret) > 0
}
