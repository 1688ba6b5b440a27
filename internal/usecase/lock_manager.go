package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"academy-lock/internal/config"
	"academy-lock/internal/domain"
	"academy-lock/internal/metrics"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultLease      = 30 * time.Second
	DefaultMaxRetries = 3
	DefaultMaxWait    = 10 * time.Second
	DefaultBaseDelay  = 100 * time.Millisecond
	DefaultOpTimeout  = 2 * time.Second
	DefaultStatsTTL   = 30 * 24 * time.Hour

	// maxBackoffShift keeps baseDelay<<attempt from overflowing.
	maxBackoffShift = 20

	acquisitionsCounter = ":acquisitions"
	timeoutsCounter     = ":timeouts"
)

// ManagerOptions tunes the default acquisition policy. Zero durations fall
// back to the package defaults; MaxRetries is taken as given.
type ManagerOptions struct {
	Lease      time.Duration
	MaxRetries int
	MaxWait    time.Duration
	BaseDelay  time.Duration
	OpTimeout  time.Duration
	StatsTTL   time.Duration
}

func (o ManagerOptions) withDefaults() ManagerOptions {
	if o.Lease <= 0 {
		o.Lease = DefaultLease
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.MaxWait <= 0 {
		o.MaxWait = DefaultMaxWait
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = DefaultOpTimeout
	}
	if o.StatsTTL <= 0 {
		o.StatsTTL = DefaultStatsTTL
	}
	return o
}

// OptionsFromConfig converts the lock section of the service config.
func OptionsFromConfig(c config.LockConfig) ManagerOptions {
	return ManagerOptions{
		Lease:      c.Lease,
		MaxRetries: c.MaxRetries,
		MaxWait:    c.MaxWait,
		BaseDelay:  c.BaseDelay,
		OpTimeout:  c.OpTimeout,
		StatsTTL:   c.StatsTTL,
	}
}

// DefaultManagerOptions returns the stock policy: 30s lease, 3 retries, 10s wait.
func DefaultManagerOptions() ManagerOptions {
	return ManagerOptions{MaxRetries: DefaultMaxRetries}.withDefaults()
}

// LockManager implements retry, backoff and ownership bookkeeping on top of
// a domain.Store. It is safe for concurrent use.
type LockManager struct {
	store  domain.Store
	opts   ManagerOptions
	logger *slog.Logger
	tracer trace.Tracer

	active atomic.Int64

	// Overridden in tests.
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	newToken func() string
}

var _ domain.LockManager = (*LockManager)(nil)

// NewLockManager creates a new LockManager instance.
func NewLockManager(store domain.Store, opts ManagerOptions, logger *slog.Logger) *LockManager {
	return &LockManager{
		store:    store,
		opts:     opts.withDefaults(),
		logger:   logger.With("component", "lock-manager"),
		tracer:   otel.Tracer("academy-lock-usecase"),
		now:      time.Now,
		sleep:    sleepContext,
		newToken: uuid.NewString,
	}
}

// Options returns the effective default policy.
func (m *LockManager) Options() ManagerOptions { return m.opts }

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoff is baseDelay * 2^attempt.
func (m *LockManager) backoff(attempt int) time.Duration {
	if attempt > maxBackoffShift {
		attempt = maxBackoffShift
	}
	return m.opts.BaseDelay << attempt
}

// Acquire takes the lock with the default retry policy.
func (m *LockManager) Acquire(ctx context.Context, key string, lease time.Duration) (*domain.Lease, bool) {
	return m.AcquireWithRetry(ctx, key, lease, m.opts.MaxRetries, m.opts.MaxWait)
}

// AcquireWithRetry tries up to maxRetries+1 times to take key. A store error
// counts as a failed attempt. The whole call, store round-trips included, is
// bounded by maxWait.
func (m *LockManager) AcquireWithRetry(ctx context.Context, key string, lease time.Duration, maxRetries int, maxWait time.Duration) (*domain.Lease, bool) {
	ctx, span := m.tracer.Start(ctx, "lock.AcquireWithRetry", trace.WithAttributes(
		attribute.String("lock.key", key),
	))
	defer span.End()

	if key == "" {
		m.logger.Warn("refusing to acquire lock with empty key")
		span.SetStatus(codes.Error, domain.ErrEmptyKey.Error())
		return nil, false
	}
	if lease <= 0 {
		lease = m.opts.Lease
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if maxWait <= 0 {
		maxWait = m.opts.MaxWait
	}

	token := m.newToken()
	start := m.now()
	defer func() {
		metrics.LockAcquireDuration.Observe(m.now().Sub(start).Seconds())
	}()

	waitCtx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	for attempt := 0; attempt <= maxRetries; attempt++ {
		span.SetAttributes(attribute.Int("lock.attempts", attempt+1))

		if m.tryOnce(waitCtx, key, token, lease, attempt) {
			l := domain.NewLease(key, token, lease, m.now())
			l.MarkTracked()
			m.active.Add(1)
			metrics.LocksActive.Inc()
			metrics.LockAcquireTotal.WithLabelValues(metrics.StatusSuccess).Inc()
			m.incrStat(ctx, key+acquisitionsCounter)
			m.logger.Debug("lock acquired", "key", key, "attempt", attempt, "lease", lease)
			return l, true
		}

		if elapsed := m.now().Sub(start); elapsed > maxWait {
			m.logger.Warn("lock wait budget exceeded", "key", key, "elapsed", elapsed, "max_wait", maxWait)
			break
		}
		if attempt == maxRetries {
			break
		}

		delay := m.backoff(attempt)
		m.logger.Debug("lock busy, backing off", "key", key, "attempt", attempt, "delay", delay)
		if err := m.sleep(waitCtx, delay); err != nil {
			if ctx.Err() != nil {
				metrics.LockAcquireTotal.WithLabelValues(metrics.StatusInterrupted).Inc()
				m.logger.Warn("lock acquisition interrupted", "key", key, "error", ctx.Err())
				span.SetStatus(codes.Error, "interrupted")
				return nil, false
			}
			m.logger.Warn("lock wait budget exceeded", "key", key, "max_wait", maxWait)
			break
		}
	}

	metrics.LockAcquireTotal.WithLabelValues(metrics.StatusTimeout).Inc()
	m.incrStat(ctx, key+timeoutsCounter)
	m.logger.Warn("failed to acquire lock", "key", key, "max_retries", maxRetries, "max_wait", maxWait)
	span.SetStatus(codes.Error, domain.ErrLockNotAcquired.Error())
	return nil, false
}

// tryOnce performs one bounded store round-trip.
func (m *LockManager) tryOnce(ctx context.Context, key, token string, lease time.Duration, attempt int) bool {
	opCtx, cancel := context.WithTimeout(ctx, m.opts.OpTimeout)
	defer cancel()

	ok, err := m.store.TryAcquire(opCtx, key, token, lease)
	switch {
	case err != nil:
		metrics.LockAttemptsTotal.WithLabelValues(metrics.ResultError).Inc()
		m.logger.Error("lock store error during acquire", "key", key, "attempt", attempt, "error", err)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			m.abandon(ctx, key, token)
		}
		return false
	case ok:
		metrics.LockAttemptsTotal.WithLabelValues(metrics.ResultAcquired).Inc()
		return true
	default:
		metrics.LockAttemptsTotal.WithLabelValues(metrics.ResultHeld).Inc()
		return false
	}
}

// abandon drops a key the store may have set for token after the reply was
// cut off. It is best effort; a missed cleanup leaves the key to its TTL.
func (m *LockManager) abandon(ctx context.Context, key, token string) {
	opCtx, cancel := m.detached(ctx)
	defer cancel()

	released, err := m.store.Release(opCtx, key, token)
	switch {
	case err != nil:
		m.logger.Debug("could not clean up after interrupted acquire", "key", key, "error", err)
	case released:
		m.logger.Warn("released lock taken by an interrupted acquire", "key", key)
	}
}

// detached returns a context that survives the caller's cancellation but is
// bounded by the op timeout. Cleanup must run even after the caller gave up.
func (m *LockManager) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), m.opts.OpTimeout)
}

// Release gives the lock back. It never returns an error: a failed release
// leaves the key to expire with its TTL.
func (m *LockManager) Release(ctx context.Context, lease *domain.Lease) bool {
	if lease == nil {
		return false
	}
	ctx, span := m.tracer.Start(ctx, "lock.Release", trace.WithAttributes(
		attribute.String("lock.key", lease.Key),
	))
	defer span.End()

	opCtx, cancel := m.detached(ctx)
	defer cancel()

	ok, err := m.store.Release(opCtx, lease.Key, lease.OwnerToken)
	if err != nil {
		metrics.LockReleaseTotal.WithLabelValues(metrics.StatusError).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "release failed")
		m.logger.Error("failed to release lock, it will expire on its own", "key", lease.Key, "error", err)
		return false
	}

	m.forget(lease)
	if !ok {
		metrics.LockReleaseTotal.WithLabelValues(metrics.StatusNotOwner).Inc()
		m.logger.Warn("lock was no longer owned at release", "key", lease.Key)
		return false
	}
	metrics.LockReleaseTotal.WithLabelValues(metrics.StatusReleased).Inc()
	m.logger.Debug("lock released", "key", lease.Key, "held_for", m.now().Sub(lease.AcquiredAt))
	return true
}

// forget settles the active count once per lease this manager handed out.
func (m *LockManager) forget(lease *domain.Lease) {
	if lease.MarkReleased() && lease.Tracked() {
		m.active.Add(-1)
		metrics.LocksActive.Dec()
	}
}

// ExtendLock resets the remaining TTL to lease.LeaseDuration+additional if
// the lease still owns the key. False means ownership is lost and the caller
// must stop the protected work.
func (m *LockManager) ExtendLock(ctx context.Context, lease *domain.Lease, additional time.Duration) bool {
	if lease == nil || lease.Released() {
		return false
	}
	ctx, span := m.tracer.Start(ctx, "lock.ExtendLock", trace.WithAttributes(
		attribute.String("lock.key", lease.Key),
	))
	defer span.End()

	ttl := lease.LeaseDuration + additional
	if ttl <= 0 {
		ttl = lease.LeaseDuration
	}

	opCtx, cancel := m.detached(ctx)
	defer cancel()

	ok, err := m.store.Extend(opCtx, lease.Key, lease.OwnerToken, ttl)
	if err != nil {
		metrics.LockExtendTotal.WithLabelValues(metrics.StatusError).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "extend failed")
		m.logger.Error("failed to extend lock", "key", lease.Key, "error", err)
		return false
	}
	if !ok {
		metrics.LockExtendTotal.WithLabelValues(metrics.StatusNotOwner).Inc()
		m.logger.Warn("cannot extend lock, ownership lost", "key", lease.Key)
		return false
	}

	lease.MarkExtended(m.now())
	metrics.LockExtendTotal.WithLabelValues(metrics.StatusExtended).Inc()
	m.logger.Debug("lock extended", "key", lease.Key, "ttl", ttl)
	return true
}

// IsLocked reports whether anyone holds key right now. The answer is stale
// on return; never use it to decide whether to acquire.
func (m *LockManager) IsLocked(ctx context.Context, key string) bool {
	opCtx, cancel := context.WithTimeout(ctx, m.opts.OpTimeout)
	defer cancel()

	held, err := m.store.IsHeld(opCtx, key)
	if err != nil {
		m.logger.Error("failed to check lock", "key", key, "error", err)
		return false
	}
	return held
}

// Owner returns the owner token currently stored for key, or "".
func (m *LockManager) Owner(ctx context.Context, key string) string {
	opCtx, cancel := context.WithTimeout(ctx, m.opts.OpTimeout)
	defer cancel()

	owner, _, err := m.store.Owner(opCtx, key)
	if err != nil {
		m.logger.Error("failed to read lock owner", "key", key, "error", err)
		return ""
	}
	return owner
}

// LockStatistics samples the counters and current state of key.
func (m *LockManager) LockStatistics(ctx context.Context, key string) domain.LockStatistics {
	ctx, span := m.tracer.Start(ctx, "lock.LockStatistics", trace.WithAttributes(
		attribute.String("lock.key", key),
	))
	defer span.End()

	stats := domain.LockStatistics{Key: key}
	stats.TotalAcquisitions = m.counter(ctx, key+acquisitionsCounter)
	stats.TotalTimeouts = m.counter(ctx, key+timeoutsCounter)
	stats.CurrentOwner = m.Owner(ctx, key)
	stats.Locked = stats.CurrentOwner != ""
	return stats
}

// ActiveLockCount is the number of leases acquired and not yet released by
// this process.
func (m *LockManager) ActiveLockCount() int64 {
	return m.active.Load()
}

// Ping checks the store connection.
func (m *LockManager) Ping(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, m.opts.OpTimeout)
	defer cancel()
	return m.store.Ping(opCtx)
}

func (m *LockManager) incrStat(ctx context.Context, name string) {
	opCtx, cancel := m.detached(ctx)
	defer cancel()
	if _, err := m.store.Incr(opCtx, name, m.opts.StatsTTL); err != nil {
		m.logger.Debug("failed to record lock statistic", "counter", name, "error", err)
	}
}

func (m *LockManager) counter(ctx context.Context, name string) int64 {
	opCtx, cancel := context.WithTimeout(ctx, m.opts.OpTimeout)
	defer cancel()
	n, err := m.store.Counter(opCtx, name)
	if err != nil {
		m.logger.Debug("failed to read lock statistic", "counter", name, "error", err)
		return 0
	}
	return n
}

// ExecuteWithLock runs op while holding key. See the generic ExecuteWithLock.
func (m *LockManager) ExecuteWithLock(ctx context.Context, key string, lease time.Duration, op func(ctx context.Context) error) error {
	_, err := ExecuteWithLock(ctx, m, key, lease, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// ExecuteWithLock acquires key with the default policy, runs op and releases
// the lock on every exit path, panics included. If the lock cannot be taken op
// never runs and a *domain.LockAcquisitionError is returned.
func ExecuteWithLock[T any](ctx context.Context, m *LockManager, key string, lease time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	return ExecuteWithLockAndExtension(ctx, m, key, lease, func(ctx context.Context, _ *domain.Lease) (T, error) {
		return op(ctx)
	})
}

// ExecuteWithLockAndExtension is ExecuteWithLock for operations that may
// outlive the lease; op receives the lease so it can call ExtendLock.
func ExecuteWithLockAndExtension[T any](ctx context.Context, m *LockManager, key string, lease time.Duration, op func(ctx context.Context, lease *domain.Lease) (T, error)) (T, error) {
	var zero T
	l, ok := m.Acquire(ctx, key, lease)
	if !ok {
		return zero, &domain.LockAcquisitionError{
			Key:     key,
			Message: fmt.Sprintf("could not acquire lock for key: %s", key),
		}
	}
	defer m.Release(ctx, l)

	return op(ctx, l)
}

// IsLockAcquisitionError reports whether err came from a failed acquisition.
func IsLockAcquisitionError(err error) bool {
	var lae *domain.LockAcquisitionError
	return errors.As(err, &lae)
}
