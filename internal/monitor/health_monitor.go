// internal/monitor/health_monitor.go
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"academy-lock/internal/domain"
	"academy-lock/internal/metrics"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultSchedule samples lock health twice a minute.
const DefaultSchedule = "@every 30s"

// LockSampler is the read-only surface of the lock manager used for sampling.
type LockSampler interface {
	ActiveLockCount() int64
	LockStatistics(ctx context.Context, key string) domain.LockStatistics
}

// Snapshot is the result of one health check.
type Snapshot struct {
	ActiveLocks int64                   `json:"active_locks"`
	Watched     []domain.LockStatistics `json:"watched,omitempty"`
}

// HealthMonitor periodically samples the lock manager. It has no say in
// locking decisions.
type HealthMonitor struct {
	cron      *cron.Cron
	sampler   LockSampler
	schedule  string
	watchKeys []string
	logger    *slog.Logger
	tracer    trace.Tracer

	mu   sync.RWMutex
	last Snapshot
}

// NewHealthMonitor registers the periodic check on schedule; an empty schedule
// selects DefaultSchedule.
func NewHealthMonitor(sampler LockSampler, schedule string, watchKeys []string, logger *slog.Logger) (*HealthMonitor, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	m := &HealthMonitor{
		cron:      cron.New(cron.WithSeconds()),
		sampler:   sampler,
		schedule:  schedule,
		watchKeys: watchKeys,
		logger:    logger.With("component", "lock-health-monitor"),
		tracer:    otel.Tracer("academy-lock-monitor"),
	}
	if _, err := m.cron.AddFunc(schedule, m.run); err != nil {
		return nil, fmt.Errorf("invalid monitor schedule %q: %w", schedule, err)
	}
	return m, nil
}

// Start runs the scheduler until ctx is done, then waits for a running check.
func (m *HealthMonitor) Start(ctx context.Context) error {
	m.logger.Info("lock health monitor started", "schedule", m.schedule, "watch_keys", m.watchKeys)
	m.cron.Start()
	<-ctx.Done()
	m.logger.Info("lock health monitor stopping...")
	stopCtx := m.cron.Stop()
	<-stopCtx.Done()
	m.logger.Info("lock health monitor stopped")
	return ctx.Err()
}

func (m *HealthMonitor) run() {
	// Start a new trace for this background check.
	ctx, span := m.tracer.Start(context.Background(), "monitor.CheckLockHealth")
	defer span.End()

	snap := m.CheckLockHealth(ctx)
	span.SetAttributes(attribute.Int64("locks.active", snap.ActiveLocks))
}

// CheckLockHealth takes one sample, exports it and remembers it for Summary.
func (m *HealthMonitor) CheckLockHealth(ctx context.Context) Snapshot {
	snap := Snapshot{ActiveLocks: m.sampler.ActiveLockCount()}
	metrics.LocksActive.Set(float64(snap.ActiveLocks))
	if snap.ActiveLocks > 0 {
		m.logger.Debug("active locks", "count", snap.ActiveLocks)
	}

	for _, key := range m.watchKeys {
		stats := m.sampler.LockStatistics(ctx, key)
		metrics.WatchedAcquisitions.WithLabelValues(key).Set(float64(stats.TotalAcquisitions))
		metrics.WatchedTimeouts.WithLabelValues(key).Set(float64(stats.TotalTimeouts))
		m.logger.Debug("watched lock", "key", key,
			"acquisitions", stats.TotalAcquisitions, "timeouts", stats.TotalTimeouts, "locked", stats.Locked)
		snap.Watched = append(snap.Watched, stats)
	}

	m.mu.Lock()
	m.last = snap
	m.mu.Unlock()
	return snap
}

// Last returns the most recent snapshot.
func (m *HealthMonitor) Last() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Summary formats the live active-lock count.
func (m *HealthMonitor) Summary() string {
	return fmt.Sprintf("Lock Health: %d active locks", m.sampler.ActiveLockCount())
}
