package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"account-security-service/internal/models"
	"account-security-service/internal/util"
)

type tokenRepository struct {
	client *ScyllaClient
}

func NewTokenRepository(client *ScyllaClient) TokenRepository {
	return &tokenRepository{client: client}
}

func (r *tokenRepository) SaveToken(ctx context.Context, token *models.ResetToken) error {
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}

	batch := r.client.Batch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`
		INSERT INTO reset_tokens (token_hash, user_id, tenant_id, expires_at, redeemed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		token.TokenHash, token.UserID, token.TenantID, token.ExpiresAt,
		token.RedeemedAt, token.CreatedAt)
	batch.Query(`
		INSERT INTO reset_tokens_by_user (user_id, token_hash, created_at)
		VALUES (?, ?, ?)`,
		token.UserID, token.TokenHash, token.CreatedAt)

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to save reset token",
			zap.String("user_id", token.UserID),
			zap.Error(err))
		return fmt.Errorf("failed to save reset token: %w", err)
	}

	return nil
}

func (r *tokenRepository) ReplaceTokensForUser(ctx context.Context, token *models.ResetToken) (int, error) {
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}

	iter := r.client.Query(`
		SELECT token_hash FROM reset_tokens_by_user WHERE user_id = ?`,
		token.UserID).WithContext(ctx).Iter()

	batch := r.client.Batch(gocql.LoggedBatch).WithContext(ctx)

	var oldHash string
	invalidated := 0
	for iter.Scan(&oldHash) {
		batch.Query(`DELETE FROM reset_tokens WHERE token_hash = ?`, oldHash)
		batch.Query(`DELETE FROM reset_tokens_by_user WHERE user_id = ? AND token_hash = ?`, token.UserID, oldHash)
		invalidated++
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("failed to list tokens for user: %w", err)
	}

	batch.Query(`
		INSERT INTO reset_tokens (token_hash, user_id, tenant_id, expires_at, redeemed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		token.TokenHash, token.UserID, token.TenantID, token.ExpiresAt,
		token.RedeemedAt, token.CreatedAt)
	batch.Query(`
		INSERT INTO reset_tokens_by_user (user_id, token_hash, created_at)
		VALUES (?, ?, ?)`,
		token.UserID, token.TokenHash, token.CreatedAt)

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to replace reset tokens",
			zap.String("user_id", token.UserID),
			zap.Error(err))
		return 0, fmt.Errorf("failed to replace reset tokens: %w", err)
	}

	return invalidated, nil
}

func (r *tokenRepository) GetTokenByHash(ctx context.Context, tokenHash string) (*models.ResetToken, error) {
	token := &models.ResetToken{}

	query := r.client.Query(`
		SELECT token_hash, user_id, tenant_id, expires_at, redeemed_at, created_at
		FROM reset_tokens WHERE token_hash = ?`,
		tokenHash).WithContext(ctx)

	err := r.client.ScanWithRetry(query,
		&token.TokenHash, &token.UserID, &token.TenantID,
		&token.ExpiresAt, &token.RedeemedAt, &token.CreatedAt)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrNotFound
		}
		util.Error("Failed to get reset token", zap.Error(err))
		return nil, fmt.Errorf("failed to get reset token: %w", err)
	}

	return token, nil
}

// RedeemToken uses a lightweight transaction so exactly one concurrent
// redeemer wins; a second redemption of the same token never applies.
func (r *tokenRepository) RedeemToken(ctx context.Context, tokenHash string, at time.Time) (bool, error) {
	previous := make(map[string]interface{})
	applied, err := r.client.Query(`
		UPDATE reset_tokens SET redeemed_at = ?
		WHERE token_hash = ?
		IF redeemed_at = null`,
		at, tokenHash).WithContext(ctx).MapScanCAS(previous)
	if err != nil {
		util.Error("Failed to redeem reset token", zap.Error(err))
		return false, fmt.Errorf("failed to redeem reset token: %w", err)
	}

	return applied, nil
}

func (r *tokenRepository) DeleteTokensForUser(ctx context.Context, userID string) (int, error) {
	iter := r.client.Query(`
		SELECT token_hash FROM reset_tokens_by_user WHERE user_id = ?`,
		userID).WithContext(ctx).Iter()

	var tokenHash string
	deleted := 0

	batch := r.client.Batch(gocql.UnloggedBatch).WithContext(ctx)
	for iter.Scan(&tokenHash) {
		batch.Query(`DELETE FROM reset_tokens WHERE token_hash = ?`, tokenHash)
		batch.Query(`DELETE FROM reset_tokens_by_user WHERE user_id = ? AND token_hash = ?`, userID, tokenHash)
		deleted++
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("failed to list tokens for user: %w", err)
	}

	if deleted == 0 {
		return 0, nil
	}

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to delete tokens for user",
			zap.String("user_id", userID),
			zap.Error(err))
		return 0, fmt.Errorf("failed to delete tokens for user: %w", err)
	}

	return deleted, nil
}

// DeleteExpiredBefore sweeps expired records in batches. It only touches
// rows that are already invalid, so it is safe to run concurrently with
// user-facing operations.
func (r *tokenRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	iter := r.client.Query(`
		SELECT token_hash, user_id FROM reset_tokens
		WHERE expires_at < ? ALLOW FILTERING`,
		cutoff.UTC()).WithContext(ctx).Iter()

	var tokenHash, userID string
	deletedCount := 0

	batch := r.client.Batch(gocql.UnloggedBatch).WithContext(ctx)
	batchSize := 0

	for iter.Scan(&tokenHash, &userID) {
		batch.Query(`DELETE FROM reset_tokens WHERE token_hash = ?`, tokenHash)
		batch.Query(`DELETE FROM reset_tokens_by_user WHERE user_id = ? AND token_hash = ?`, userID, tokenHash)
		batchSize++

		if batchSize >= 100 {
			if err := r.client.ExecuteBatch(batch); err != nil {
				util.Error("Failed to execute batch delete for expired tokens", zap.Error(err))
				iter.Close()
				return deletedCount, fmt.Errorf("failed to delete expired tokens: %w", err)
			}
			deletedCount += batchSize
			batch = r.client.Batch(gocql.UnloggedBatch).WithContext(ctx)
			batchSize = 0
		}
	}

	if batchSize > 0 {
		if err := r.client.ExecuteBatch(batch); err != nil {
			util.Error("Failed to execute final batch delete for expired tokens", zap.Error(err))
			iter.Close()
			return deletedCount, fmt.Errorf("failed to delete expired tokens: %w", err)
		}
		deletedCount += batchSize
	}

	if err := iter.Close(); err != nil {
		return deletedCount, fmt.Errorf("failed to sweep expired tokens: %w", err)
	}

	if deletedCount > 0 {
		util.Info("Expired reset tokens deleted",
			zap.Int("deleted_count", deletedCount))
	}

	return deletedCount, nil
}
