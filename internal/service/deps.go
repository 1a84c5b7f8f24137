package service

import (
	"context"
	"time"
)

// AttemptLimiter throttles repeated credential failures. The Redis-backed
// implementation lives in internal/repository/redis.
type AttemptLimiter interface {
	RecordFailure(ctx context.Context, scope, subject string, window time.Duration) (int64, error)
	IsLimited(ctx context.Context, scope, subject string, max int) (bool, error)
	Reset(ctx context.Context, scope, subject string) error
}
