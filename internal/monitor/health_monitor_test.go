package monitor

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"academy-lock/internal/domain"
	"academy-lock/internal/infra/memory"
	"academy-lock/internal/metrics"
	"academy-lock/internal/usecase"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingSampler struct {
	active  atomic.Int64
	samples atomic.Int32
}

func (s *countingSampler) ActiveLockCount() int64 {
	s.samples.Add(1)
	return s.active.Load()
}

func (s *countingSampler) LockStatistics(_ context.Context, key string) domain.LockStatistics {
	return domain.LockStatistics{Key: key}
}

func TestCheckLockHealth(t *testing.T) {
	manager := usecase.NewLockManager(memory.NewLockStore(), usecase.DefaultManagerOptions(), discardLogger())
	ctx := context.Background()

	mon, err := NewHealthMonitor(manager, "", []string{"batch:create:CohortA"}, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, "Lock Health: 0 active locks", mon.Summary())

	lease, ok := manager.Acquire(ctx, "batch:create:CohortA", time.Minute)
	require.True(t, ok)
	_, ok = manager.Acquire(ctx, "other", time.Minute)
	require.True(t, ok)

	snap := mon.CheckLockHealth(ctx)
	assert.EqualValues(t, 2, snap.ActiveLocks)
	require.Len(t, snap.Watched, 1)
	assert.EqualValues(t, 1, snap.Watched[0].TotalAcquisitions)
	assert.True(t, snap.Watched[0].Locked)
	assert.Equal(t, snap, mon.Last())

	assert.Equal(t, "Lock Health: 2 active locks", mon.Summary())
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.LocksActive))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.WatchedAcquisitions.WithLabelValues("batch:create:CohortA")))

	require.True(t, manager.Release(ctx, lease))
	assert.Equal(t, "Lock Health: 1 active locks", mon.Summary())
}

func TestNewHealthMonitor_InvalidSchedule(t *testing.T) {
	_, err := NewHealthMonitor(&countingSampler{}, "whenever", nil, discardLogger())
	assert.Error(t, err)
}

func TestStart_RunsOnScheduleUntilCanceled(t *testing.T) {
	sampler := &countingSampler{}
	sampler.active.Store(3)

	mon, err := NewHealthMonitor(sampler, "@every 1s", nil, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mon.Start(ctx) }()

	assert.Eventually(t, func() bool {
		return mon.Last().ActiveLocks == 3
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
	assert.Positive(t, sampler.samples.Load())
}
