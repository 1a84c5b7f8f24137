package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"account-security-service/internal/util"
)

// PurgeScheduler periodically sweeps expired reset tokens out of storage.
type PurgeScheduler struct {
	resets   *PasswordResetService
	interval time.Duration
}

func NewPurgeScheduler(resets *PasswordResetService, interval time.Duration) *PurgeScheduler {
	return &PurgeScheduler{resets: resets, interval: interval}
}

// Run blocks until ctx is cancelled, purging once per interval. A failed
// sweep is logged and retried on the next tick.
func (p *PurgeScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	util.Info("Token purge scheduler started",
		zap.Duration("interval", p.interval))

	for {
		select {
		case <-ctx.Done():
			util.Info("Token purge scheduler stopped")
			return
		case <-ticker.C:
			deleted, err := p.resets.PurgeExpired(ctx)
			if err != nil {
				util.Error("Token purge failed", zap.Error(err))
				continue
			}
			if deleted > 0 {
				util.Info("Token purge completed", zap.Int("deleted", deleted))
			}
		}
	}
}
