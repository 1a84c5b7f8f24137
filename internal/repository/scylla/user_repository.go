package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"account-security-service/internal/bucketing"
	"account-security-service/internal/models"
	"account-security-service/internal/util"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

const userColumns = `user_bucket, user_id, tenant_id, email, password_hash, status,
	email_verified, mfa_enabled, mfa_secret, mfa_secret_key_id, mfa_secret_dek,
	password_set_at, created_at, updated_at`

type userRepository struct {
	client    *ScyllaClient
	bucketing *bucketing.BucketingManager
}

func NewUserRepository(client *ScyllaClient, bucketingMgr *bucketing.BucketingManager) UserRepository {
	return &userRepository{
		client:    client,
		bucketing: bucketingMgr,
	}
}

func (r *userRepository) CreateUser(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UserBucket = r.bucketing.UserBucket(user.UserID)
	user.Email = util.NormalizeEmail(user.Email)

	batch := r.client.Batch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.UserBucket, user.UserID, user.TenantID, user.Email, user.PasswordHash,
		user.Status, user.EmailVerified, user.MFAEnabled, user.MFASecret,
		user.MFASecretKeyID, user.MFASecretDEK, user.PasswordSetAt,
		user.CreatedAt, user.UpdatedAt)
	batch.Query(`
		INSERT INTO users_by_email (email, user_id, created_at)
		VALUES (?, ?, ?)`,
		user.Email, user.UserID, user.CreatedAt)

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to create user",
			zap.String("user_id", user.UserID),
			zap.Error(err))
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

func (r *userRepository) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	bucket := r.bucketing.UserBucket(userID)

	query := r.client.Query(`
		SELECT `+userColumns+`
		FROM users WHERE user_bucket = ? AND user_id = ?`,
		bucket, userID).WithContext(ctx)

	user, err := scanUser(query)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrNotFound
		}
		util.Error("Failed to get user by id",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}

	return user, nil
}

func (r *userRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	normalized := util.NormalizeEmail(email)

	var userID string
	err := r.client.Query(`
		SELECT user_id FROM users_by_email WHERE email = ?`,
		normalized).WithContext(ctx).Scan(&userID)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up user by email: %w", err)
	}

	return r.GetUserByID(ctx, userID)
}

func (r *userRepository) UpdatePassword(ctx context.Context, userID, encodedHash string, activate bool, at time.Time) error {
	bucket := r.bucketing.UserBucket(userID)

	var query *gocql.Query
	if activate {
		query = r.client.Query(`
			UPDATE users
			SET password_hash = ?, password_set_at = ?, status = ?, email_verified = true, updated_at = ?
			WHERE user_bucket = ? AND user_id = ?`,
			encodedHash, at, models.StatusActive, at, bucket, userID)
	} else {
		query = r.client.Query(`
			UPDATE users
			SET password_hash = ?, password_set_at = ?, updated_at = ?
			WHERE user_bucket = ? AND user_id = ?`,
			encodedHash, at, at, bucket, userID)
	}

	if err := r.client.ExecuteWithRetry(query.WithContext(ctx), 2); err != nil {
		util.Error("Failed to update password",
			zap.String("user_id", userID),
			zap.Error(err))
		return fmt.Errorf("failed to update password: %w", err)
	}

	return nil
}

func (r *userRepository) SetPendingMFASecret(ctx context.Context, userID string, secret []byte, encryptedDEK, keyID string) (bool, error) {
	bucket := r.bucketing.UserBucket(userID)

	applied, err := r.applyCAS(ctx, `
		UPDATE users
		SET mfa_secret = ?, mfa_secret_dek = ?, mfa_secret_key_id = ?, updated_at = ?
		WHERE user_bucket = ? AND user_id = ?
		IF mfa_enabled = false`,
		secret, encryptedDEK, keyID, time.Now().UTC(), bucket, userID)
	if err != nil {
		return false, fmt.Errorf("failed to set pending mfa secret: %w", err)
	}

	return applied, nil
}

func (r *userRepository) EnableMFA(ctx context.Context, userID string, expectedSecret []byte) (bool, error) {
	bucket := r.bucketing.UserBucket(userID)

	applied, err := r.applyCAS(ctx, `
		UPDATE users
		SET mfa_enabled = true, updated_at = ?
		WHERE user_bucket = ? AND user_id = ?
		IF mfa_enabled = false AND mfa_secret = ?`,
		time.Now().UTC(), bucket, userID, expectedSecret)
	if err != nil {
		return false, fmt.Errorf("failed to enable mfa: %w", err)
	}

	return applied, nil
}

func (r *userRepository) DisableMFA(ctx context.Context, userID string) (bool, error) {
	bucket := r.bucketing.UserBucket(userID)

	applied, err := r.applyCAS(ctx, `
		UPDATE users
		SET mfa_enabled = false, mfa_secret = null, mfa_secret_dek = null, mfa_secret_key_id = null, updated_at = ?
		WHERE user_bucket = ? AND user_id = ?
		IF mfa_enabled = true`,
		time.Now().UTC(), bucket, userID)
	if err != nil {
		return false, fmt.Errorf("failed to disable mfa: %w", err)
	}

	return applied, nil
}

func (r *userRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck(ctx)
}

// applyCAS runs a lightweight transaction and reports whether the
// condition held. LWT queries are never retried.
func (r *userRepository) applyCAS(ctx context.Context, stmt string, values ...interface{}) (bool, error) {
	previous := make(map[string]interface{})
	applied, err := r.client.Query(stmt, values...).WithContext(ctx).MapScanCAS(previous)
	if err != nil {
		return false, err
	}
	return applied, nil
}

func scanUser(query *gocql.Query) (*models.User, error) {
	user := &models.User{}
	err := query.Scan(
		&user.UserBucket, &user.UserID, &user.TenantID, &user.Email,
		&user.PasswordHash, &user.Status, &user.EmailVerified,
		&user.MFAEnabled, &user.MFASecret, &user.MFASecretKeyID,
		&user.MFASecretDEK, &user.PasswordSetAt, &user.CreatedAt,
		&user.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return user, nil
}
