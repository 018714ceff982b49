package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const defaultSweepInterval = time.Hour

// Worker runs the gift card expiry sweep on a fixed interval. Expiry is
// lazy everywhere else: reads and redemptions check the validity window
// themselves, so the sweep only has to keep the stored status column and
// the reporting aggregates honest.
type Worker struct {
	sweeper  Sweeper
	logger   *zap.Logger
	interval time.Duration
	done     chan struct{}
}

// NewWorker creates a new scheduler worker. An optional interval overrides
// the hourly default.
func NewWorker(sweeper Sweeper, logger *zap.Logger, interval ...time.Duration) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}

	sweepEvery := defaultSweepInterval
	if len(interval) > 0 && interval[0] > 0 {
		sweepEvery = interval[0]
	}

	return &Worker{
		sweeper:  sweeper,
		logger:   logger,
		interval: sweepEvery,
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop in a goroutine. One sweep runs immediately
// so a restart never leaves stale cards waiting a full interval.
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

func (w *Worker) run(ctx context.Context) {
	w.runSweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.runSweep(ctx)
		case <-w.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) runSweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	count, err := w.sweeper.ExpireOldCards(sweepCtx)
	if err != nil {
		w.logger.Error("expiry sweep failed", zap.Error(err))
		return
	}
	if count > 0 {
		w.logger.Info("expiry sweep finished", zap.Int64("expired", count))
	}
}

// Stop signals the sweep loop to exit. Safe to call once.
func (w *Worker) Stop() {
	close(w.done)
}
