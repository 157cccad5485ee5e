package worker

import (
	"context"
	"fmt"
	"time"

	"carpihogar-assistant/internal/util"

	"go.uber.org/zap"
)

const sweepLockKey = "retention-sweep"

// RetentionStore deletes expired purchase records in batches
type RetentionStore interface {
	DeleteStaleTokens(ctx context.Context, cutoff time.Time, limit int) (int64, error)
	DeleteOrphanTemporaryOrders(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// Locker is a distributed lock
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
}

// SweepResult counts the rows removed by one sweep
type SweepResult struct {
	Tokens     int64
	TempOrders int64
	Skipped    bool
}

// RetentionSweeper removes old tokens and abandoned temp orders. Only one
// replica sweeps at a time.
type RetentionSweeper struct {
	store     RetentionStore
	locker    Locker
	retention time.Duration
	interval  time.Duration
	batchSize int
	now       func() time.Time
	logger    *zap.Logger
}

// NewRetentionSweeper creates a sweeper that keeps records for retentionDays
func NewRetentionSweeper(store RetentionStore, locker Locker, retentionDays int, interval time.Duration, batchSize int) *RetentionSweeper {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &RetentionSweeper{
		store:     store,
		locker:    locker,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		interval:  interval,
		batchSize: batchSize,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
}

// Start sweeps on every tick until ctx is cancelled
func (s *RetentionSweeper) Start(ctx context.Context) error {
	s.logger.Info("Starting retention sweeper",
		zap.Duration("interval", s.interval),
		zap.Duration("retention", s.retention))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping retention sweeper")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("Retention sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce deletes every eligible row, batch by batch
func (s *RetentionSweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	ctx, span := util.StartSpan(ctx, "RetentionSweeper.SweepOnce")
	defer span.End()

	var result SweepResult
	token, ok, err := s.locker.AcquireLock(ctx, sweepLockKey, s.interval)
	if err != nil {
		return result, fmt.Errorf("failed to acquire sweep lock: %w", err)
	}
	if !ok {
		s.logger.Debug("Sweep already running elsewhere")
		result.Skipped = true
		return result, nil
	}
	defer func() {
		if err := s.locker.ReleaseLock(context.Background(), sweepLockKey, token); err != nil {
			s.logger.Warn("Failed to release sweep lock", zap.Error(err))
		}
	}()

	cutoff := s.now().Add(-s.retention)

	// tokens go first so their temp orders become orphans in the same run
	if result.Tokens, err = s.drain(ctx, "purchase_tokens", cutoff, s.store.DeleteStaleTokens); err != nil {
		return result, err
	}
	if result.TempOrders, err = s.drain(ctx, "order_temps", cutoff, s.store.DeleteOrphanTemporaryOrders); err != nil {
		return result, err
	}

	s.logger.Info("Retention sweep finished",
		zap.Int64("tokens", result.Tokens),
		zap.Int64("temp_orders", result.TempOrders))
	return result, nil
}

func (s *RetentionSweeper) drain(
	ctx context.Context,
	table string,
	cutoff time.Time,
	del func(context.Context, time.Time, int) (int64, error),
) (int64, error) {
	var total int64
	for {
		n, err := del(ctx, cutoff, s.batchSize)
		if err != nil {
			return total, fmt.Errorf("failed to sweep %s: %w", table, err)
		}
		total += n
		util.SweepDeletedTotal.WithLabelValues(table).Add(float64(n))
		if n < int64(s.batchSize) {
			return total, nil
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
}
