package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubCleaner struct {
	olderThan time.Duration
	err       error
}

func (s *stubCleaner) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	s.olderThan = olderThan
	if s.err != nil {
		return 0, s.err
	}
	return 2, nil
}

func TestIdempotencyCleanupJob(t *testing.T) {
	cleaner := &stubCleaner{}
	job := NewIdempotencyCleanupJob(cleaner, 0, nil, nil)
	task := NewIdempotencyCleanupTask()
	require.Equal(t, TaskIdempotencyCleanup, task.Type())

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, DefaultIdempotencyRetention, cleaner.olderThan)

	metrics, reg := testMetrics(t)
	cleaner.err = errors.New("timeout")
	job = NewIdempotencyCleanupJob(cleaner, time.Hour, nil, metrics)
	require.ErrorIs(t, job.Handle(context.Background(), task), cleaner.err)
	require.Equal(t, time.Hour, cleaner.olderThan)
	require.Equal(t, 1.0, counterValue(t, reg, "konzern_jobs_failures_total", map[string]string{"job": TaskIdempotencyCleanup}))

	require.Error(t, NewIdempotencyCleanupJob(nil, 0, nil, nil).Handle(context.Background(), task))
}
