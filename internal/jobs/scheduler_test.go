package jobs_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/straye-as/pipeline-engine/internal/jobs"
)

type fakeSweeper struct {
	calls atomic.Int32
	err   error
}

func (f *fakeSweeper) Sweep(ctx context.Context) (int, int, error) {
	f.calls.Add(1)
	if _, ok := ctx.Deadline(); !ok {
		return 0, 0, errors.New("sweep context has no deadline")
	}
	return 3, 1, f.err
}

func TestScheduler_AddAndRemoveJobs(t *testing.T) {
	s := jobs.NewScheduler(zap.NewNop())

	require.NoError(t, s.AddJob("b", "0 */5 * * * *", func() {}))
	require.NoError(t, s.AddJob("a", "@every 1h", func() {}))
	assert.Equal(t, []string{"a", "b"}, s.JobNames())

	err := s.AddJob("a", "@every 1h", func() {})
	assert.Error(t, err, "duplicate names are rejected")

	err = s.AddJob("c", "not a cron expression", func() {})
	assert.Error(t, err)

	require.NoError(t, s.RemoveJob("a"))
	assert.Equal(t, []string{"b"}, s.JobNames())
	assert.Error(t, s.RemoveJob("a"))
}

func TestScheduler_RegisterRottingSweep(t *testing.T) {
	s := jobs.NewScheduler(zap.NewNop())
	job := jobs.NewRottingSweepJob(&fakeSweeper{}, zap.NewNop(), 0)

	require.NoError(t, s.RegisterRottingSweep("0 0 * * * *", job))
	assert.Equal(t, []string{jobs.RottingSweepJobName}, s.JobNames())
}

func TestRottingSweepJob_Run(t *testing.T) {
	t.Run("runs one sweep with a deadline", func(t *testing.T) {
		sweeper := &fakeSweeper{}
		jobs.NewRottingSweepJob(sweeper, zap.NewNop(), 0).Run()
		assert.Equal(t, int32(1), sweeper.calls.Load())
	})

	t.Run("sweep errors are logged, not raised", func(t *testing.T) {
		sweeper := &fakeSweeper{err: errors.New("database unavailable")}
		assert.NotPanics(t, jobs.NewRottingSweepJob(sweeper, zap.NewNop(), 0).Run)
		assert.Equal(t, int32(1), sweeper.calls.Load())
	})
}
