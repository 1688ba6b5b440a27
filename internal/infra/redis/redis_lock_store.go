// internal/infra/redis/redis_lock_store.go
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"academy-lock/internal/domain"

	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultKeyPrefix namespaces every key the store writes.
const DefaultKeyPrefix = "academy:"

// Locks and counters live in disjoint sub-namespaces under the prefix, so no
// lock key can name a counter.
const (
	lockNamespace  = "lock:"
	statsNamespace = "stats:"
)

var (
	acquireScript = goredis.NewScript(`
if redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2], 'NX') then
	return 1
end
return 0`)

	releaseScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0`)

	extendScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0`)
)

// LockStore implements domain.Store on a single Redis keyspace.
type LockStore struct {
	client goredis.UniversalClient
	prefix string
	logger *slog.Logger
	tracer trace.Tracer
}

// NewLockStore wraps client. An empty prefix selects DefaultKeyPrefix.
func NewLockStore(client goredis.UniversalClient, prefix string, logger *slog.Logger) *LockStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &LockStore{
		client: client,
		prefix: prefix,
		logger: logger.With("component", "redis-lock-store"),
		tracer: otel.Tracer("academy-lock-store"),
	}
}

var _ domain.Store = (*LockStore)(nil)

func (s *LockStore) lockKey(key string) string { return s.prefix + lockNamespace + key }

func (s *LockStore) statsKey(name string) string { return s.prefix + statsNamespace + name }

func (s *LockStore) startSpan(ctx context.Context, op, key string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "store.redis."+op, trace.WithAttributes(
		attribute.String("lock.key", key),
	))
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TryAcquire runs SET NX PX in a single script.
func (s *LockStore) TryAcquire(ctx context.Context, key, token string, lease time.Duration) (bool, error) {
	ctx, span := s.startSpan(ctx, "TryAcquire", key)
	defer span.End()

	n, err := acquireScript.Run(ctx, s.client, []string{s.lockKey(key)}, token, millis(lease)).Int64()
	if err != nil {
		fail(span, err)
		return false, fmt.Errorf("redis acquire %s: %w", key, err)
	}
	span.SetAttributes(attribute.Bool("lock.acquired", n == 1))
	return n == 1, nil
}

// Release deletes the key only while it still holds token.
func (s *LockStore) Release(ctx context.Context, key, token string) (bool, error) {
	ctx, span := s.startSpan(ctx, "Release", key)
	defer span.End()

	n, err := releaseScript.Run(ctx, s.client, []string{s.lockKey(key)}, token).Int64()
	if err != nil {
		fail(span, err)
		return false, fmt.Errorf("redis release %s: %w", key, err)
	}
	return n == 1, nil
}

// Extend resets the expiry to ttl only while the key still holds token.
func (s *LockStore) Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ctx, span := s.startSpan(ctx, "Extend", key)
	defer span.End()

	n, err := extendScript.Run(ctx, s.client, []string{s.lockKey(key)}, token, millis(ttl)).Int64()
	if err != nil {
		fail(span, err)
		return false, fmt.Errorf("redis extend %s: %w", key, err)
	}
	return n == 1, nil
}

func (s *LockStore) IsHeld(ctx context.Context, key string) (bool, error) {
	ctx, span := s.startSpan(ctx, "IsHeld", key)
	defer span.End()

	n, err := s.client.Exists(ctx, s.lockKey(key)).Result()
	if err != nil {
		fail(span, err)
		return false, fmt.Errorf("redis exists %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *LockStore) Owner(ctx context.Context, key string) (string, bool, error) {
	ctx, span := s.startSpan(ctx, "Owner", key)
	defer span.End()

	token, err := s.client.Get(ctx, s.lockKey(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		fail(span, err)
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return token, true, nil
}

// Incr bumps a statistics counter and refreshes its expiry in one MULTI/EXEC.
func (s *LockStore) Incr(ctx context.Context, name string, ttl time.Duration) (int64, error) {
	ctx, span := s.startSpan(ctx, "Incr", name)
	defer span.End()

	k := s.statsKey(name)
	var incr *goredis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		if ttl > 0 {
			p.Expire(ctx, k, ttl)
		}
		return nil
	})
	if err != nil {
		fail(span, err)
		return 0, fmt.Errorf("redis incr %s: %w", name, err)
	}
	return incr.Val(), nil
}

func (s *LockStore) Counter(ctx context.Context, name string) (int64, error) {
	ctx, span := s.startSpan(ctx, "Counter", name)
	defer span.End()

	n, err := s.client.Get(ctx, s.statsKey(name)).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		fail(span, err)
		return 0, fmt.Errorf("redis get counter %s: %w", name, err)
	}
	return n, nil
}

func (s *LockStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.logger.Error("redis ping failed", "error", err)
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// millis converts d to whole milliseconds, never below 1.
func millis(d time.Duration) int64 {
	ms := d.Milliseconds()
	if ms < 1 {
		return 1
	}
	return ms
}
