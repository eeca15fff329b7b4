package idempotency

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Janitor periodically purges expired records.
type Janitor struct {
	Store     Store
	Interval  time.Duration
	BatchSize int
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Run purges until ctx is cancelled. A non-positive interval disables the loop.
func (j Janitor) Run(ctx context.Context) {
	if j.Store == nil || j.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep runs a single purge pass and returns the number of removed records.
func (j Janitor) Sweep(ctx context.Context) int {
	clock := j.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := j.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	removed, err := j.Store.Purge(ctx, clock().UTC(), j.BatchSize)
	if err != nil {
		logger.Warn("idempotency.cleanup.failed", zap.Error(err))
		return removed
	}
	if removed > 0 {
		logger.Debug("idempotency.cleanup", zap.Int("removed", removed))
	}
	return removed
}
