package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RottingSweepJobName is the scheduler name of the rotting sweep
const RottingSweepJobName = "rotting_sweep"

// DefaultRottingSweepTimeout bounds one sweep when no timeout is configured
const DefaultRottingSweepTimeout = 5 * time.Minute

// RottingSweeper evaluates rotting opportunities.
// Declared here so the job does not depend on the service package.
type RottingSweeper interface {
	Sweep(ctx context.Context) (rotting int, notified int, err error)
}

// RottingSweepJob periodically flags opportunities that have gone stale
type RottingSweepJob struct {
	sweeper RottingSweeper
	logger  *zap.Logger
	timeout time.Duration
}

func NewRottingSweepJob(sweeper RottingSweeper, logger *zap.Logger, timeout time.Duration) *RottingSweepJob {
	if timeout <= 0 {
		timeout = DefaultRottingSweepTimeout
	}
	return &RottingSweepJob{
		sweeper: sweeper,
		logger:  logger,
		timeout: timeout,
	}
}

// Run executes one sweep. Called by the scheduler; errors are logged, never returned.
func (j *RottingSweepJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	start := time.Now()
	rotting, notified, err := j.sweeper.Sweep(ctx)
	if err != nil {
		j.logger.Error("rotting sweep failed",
			zap.Error(err),
			zap.Duration("duration", time.Since(start)))
		return
	}

	j.logger.Info("rotting sweep job completed",
		zap.Int("rotting", rotting),
		zap.Int("notified", notified),
		zap.Duration("duration", time.Since(start)))
}
