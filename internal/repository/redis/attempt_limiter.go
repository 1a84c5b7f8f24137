package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"account-security-service/internal/client"
	"account-security-service/internal/util"
)

const attemptPrefix = "attempts:"

// Limiter scopes. Counters are kept per scope per subject so TOTP failures
// never throttle password-reset confirmations and vice versa.
const (
	ScopeResetConfirm = "reset_confirm"
	ScopeTOTPVerify   = "totp_verify"
)

// AttemptLimiter counts verification failures in Redis with a sliding
// expiry so brute-force attempts lock out instead of burning through the
// code space.
type AttemptLimiter struct {
	client *client.RedisClient
}

func NewAttemptLimiter(redisClient *client.RedisClient) *AttemptLimiter {
	return &AttemptLimiter{client: redisClient}
}

// RecordFailure increments the failure counter and refreshes its window.
func (l *AttemptLimiter) RecordFailure(ctx context.Context, scope, subject string, window time.Duration) (int64, error) {
	key := attemptKey(scope, subject)

	count, err := l.client.IncrWithExpire(ctx, key, window)
	if err != nil {
		util.Error("Failed to record attempt failure",
			zap.String("scope", scope),
			zap.Error(err))
		return 0, fmt.Errorf("failed to record attempt failure: %w", err)
	}

	return count, nil
}

// IsLimited reports whether the subject has exhausted its attempts.
func (l *AttemptLimiter) IsLimited(ctx context.Context, scope, subject string, max int) (bool, error) {
	key := attemptKey(scope, subject)

	raw, err := l.client.Get(ctx, key)
	if err != nil {
		// Missing key means no recorded failures
		return false, nil
	}

	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, fmt.Errorf("corrupt attempt counter for %s: %w", key, err)
	}

	return count >= int64(max), nil
}

// Reset clears the counter after a successful verification.
func (l *AttemptLimiter) Reset(ctx context.Context, scope, subject string) error {
	if err := l.client.Del(ctx, attemptKey(scope, subject)); err != nil {
		return fmt.Errorf("failed to reset attempt counter: %w", err)
	}
	return nil
}

func attemptKey(scope, subject string) string {
	return attemptPrefix + scope + ":" + subject
}
