package driver

import (
	"context"
	"log/slog"
	"time"
)

const (
	// DefaultSweepInterval is how often the sweeper checks for expired signal waits.
	DefaultSweepInterval = 5 * time.Minute
	minSweepInterval     = 10 * time.Second
	maxSweepInterval     = 24 * time.Hour

	// DefaultMaxTimeoutBatchSize caps how many instances one sweep cancels.
	DefaultMaxTimeoutBatchSize = 100

	queryErrorBackoff = time.Minute
)

// TimeoutSweeper periodically cancels instances whose signal wait has
// expired. It holds no state beyond its own timer; all durable state lives
// in the StateRepository.
type TimeoutSweeper[C any] struct {
	driver       *PersistentDriver[C]
	repo         StateRepository
	logger       *slog.Logger
	interval     time.Duration
	maxBatchSize int
}

// NewTimeoutSweeper builds a sweeper over driver, clamping interval to
// [10s, 24h] and falling back to DefaultSweepInterval/DefaultMaxTimeoutBatchSize
// when zero.
func NewTimeoutSweeper[C any](driver *PersistentDriver[C], repo StateRepository, logger *slog.Logger, interval time.Duration, maxBatchSize int) *TimeoutSweeper[C] {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if interval < minSweepInterval {
		interval = minSweepInterval
	}
	if interval > maxSweepInterval {
		interval = maxSweepInterval
	}
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxTimeoutBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TimeoutSweeper[C]{driver: driver, repo: repo, logger: logger, interval: interval, maxBatchSize: maxBatchSize}
}

// Run blocks, sweeping every interval until ctx is cancelled. A query
// error backs off for one minute before the next attempt rather than
// spinning at the configured interval; a per-instance cancel error is
// logged and does not abort the rest of the batch.
func (s *TimeoutSweeper[C]) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.sweepOnce(ctx) {
				select {
				case <-ctx.Done():
					return
				case <-time.After(queryErrorBackoff):
				}
			}
		}
	}
}

// sweepOnce runs a single sweep, returning false if the query itself
// failed (the caller backs off before the next tick).
func (s *TimeoutSweeper[C]) sweepOnce(ctx context.Context) bool {
	expired, err := s.repo.QueryWaitingWithTimeout(ctx, time.Now(), s.maxBatchSize)
	if err != nil {
		s.logger.Error("timeout sweeper: query failed", slog.Any("error", err))
		return false
	}
	for _, inst := range expired {
		reason := "Timed out waiting for signal: " + inst.WaitingForSignal
		if _, err := s.driver.Cancel(ctx, inst.InstanceID, reason); err != nil {
			s.logger.Error("timeout sweeper: cancel failed",
				slog.String("instance_id", inst.InstanceID), slog.Any("error", err))
		}
	}
	return true
}
