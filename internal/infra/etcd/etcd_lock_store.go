// internal/infra/etcd/etcd_lock_store.go
package etcd

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"academy-lock/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultKeyPrefix 定义了 etcd 中所有键的根路径
	DefaultKeyPrefix = "/academy/"

	// locks and counters never share a directory
	lockNamespace  = "locks/"
	statsNamespace = "stats/"

	// counterCASAttempts bounds the compare-and-swap loop in Incr.
	counterCASAttempts = 5
)

// etcdLockStore 实现了 domain.Store 接口
// Every lock key is attached to its own lease so that expiry is enforced by etcd.
type etcdLockStore struct {
	client *clientv3.Client
	prefix string
	logger *slog.Logger
	tracer trace.Tracer
}

// NewEtcdLockStore 创建一个新的 etcdLockStore 实例
func NewEtcdLockStore(client *clientv3.Client, prefix string, logger *slog.Logger) domain.Store {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &etcdLockStore{
		client: client,
		prefix: prefix,
		logger: logger.With("component", "etcd-lock-store"),
		tracer: otel.Tracer("academy-lock-store"),
	}
}

func (s *etcdLockStore) lockKey(key string) string { return s.prefix + lockNamespace + key }

func (s *etcdLockStore) statsKey(name string) string { return s.prefix + statsNamespace + name }

func (s *etcdLockStore) startSpan(ctx context.Context, op, key string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "store.etcd."+op, trace.WithAttributes(
		attribute.String("lock.key", key),
	))
}

func (s *etcdLockStore) fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// revoke drops a lease on a context detached from the caller's cancellation.
func (s *etcdLockStore) revoke(ctx context.Context, id clientv3.LeaseID) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if _, err := s.client.Revoke(ctx, id); err != nil {
		s.logger.Debug("failed to revoke lease", "lease_id", int64(id), "error", err)
	}
}

func (s *etcdLockStore) TryAcquire(ctx context.Context, key, token string, lease time.Duration) (bool, error) {
	ctx, span := s.startSpan(ctx, "TryAcquire", key)
	defer span.End()

	grant, err := s.client.Grant(ctx, seconds(lease))
	if err != nil {
		s.fail(span, err)
		return false, fmt.Errorf("etcd grant lease for %s: %w", key, err)
	}

	k := s.lockKey(key)
	resp, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(k), "=", 0)).
		Then(clientv3.OpPut(k, token, clientv3.WithLease(grant.ID))).
		Commit()
	if err != nil {
		s.revoke(ctx, grant.ID)
		s.fail(span, err)
		return false, fmt.Errorf("etcd acquire %s: %w", key, err)
	}
	if !resp.Succeeded {
		s.revoke(ctx, grant.ID)
	}
	span.SetAttributes(attribute.Bool("lock.acquired", resp.Succeeded))
	return resp.Succeeded, nil
}

func (s *etcdLockStore) Release(ctx context.Context, key, token string) (bool, error) {
	ctx, span := s.startSpan(ctx, "Release", key)
	defer span.End()

	k := s.lockKey(key)
	resp, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.Value(k), "=", token)).
		Then(clientv3.OpGet(k), clientv3.OpDelete(k)).
		Commit()
	if err != nil {
		s.fail(span, err)
		return false, fmt.Errorf("etcd release %s: %w", key, err)
	}
	if !resp.Succeeded {
		return false, nil
	}
	if id, ok := leaseOf(resp); ok {
		s.revoke(ctx, id)
	}
	return true, nil
}

// Extend moves the key onto a fresh lease of ttl while it still holds token.
func (s *etcdLockStore) Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ctx, span := s.startSpan(ctx, "Extend", key)
	defer span.End()

	grant, err := s.client.Grant(ctx, seconds(ttl))
	if err != nil {
		s.fail(span, err)
		return false, fmt.Errorf("etcd grant lease for %s: %w", key, err)
	}

	k := s.lockKey(key)
	resp, err := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.Value(k), "=", token)).
		Then(clientv3.OpGet(k), clientv3.OpPut(k, token, clientv3.WithLease(grant.ID))).
		Commit()
	if err != nil {
		s.revoke(ctx, grant.ID)
		s.fail(span, err)
		return false, fmt.Errorf("etcd extend %s: %w", key, err)
	}
	if !resp.Succeeded {
		s.revoke(ctx, grant.ID)
		return false, nil
	}
	if old, ok := leaseOf(resp); ok && old != grant.ID {
		s.revoke(ctx, old)
	}
	return true, nil
}

func (s *etcdLockStore) IsHeld(ctx context.Context, key string) (bool, error) {
	ctx, span := s.startSpan(ctx, "IsHeld", key)
	defer span.End()

	resp, err := s.client.Get(ctx, s.lockKey(key), clientv3.WithCountOnly())
	if err != nil {
		s.fail(span, err)
		return false, fmt.Errorf("etcd get %s: %w", key, err)
	}
	return resp.Count > 0, nil
}

func (s *etcdLockStore) Owner(ctx context.Context, key string) (string, bool, error) {
	ctx, span := s.startSpan(ctx, "Owner", key)
	defer span.End()

	resp, err := s.client.Get(ctx, s.lockKey(key))
	if err != nil {
		s.fail(span, err)
		return "", false, fmt.Errorf("etcd get %s: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return "", false, nil
	}
	return string(resp.Kvs[0].Value), true, nil
}

// Incr is a compare-and-swap on the counter's mod revision. A successful write
// moves the counter onto a fresh lease of ttl and revokes the lease it was on,
// so each counter holds at most one lease.
func (s *etcdLockStore) Incr(ctx context.Context, name string, ttl time.Duration) (int64, error) {
	ctx, span := s.startSpan(ctx, "Incr", name)
	defer span.End()

	k := s.statsKey(name)
	var (
		opts    []clientv3.OpOption
		granted clientv3.LeaseID
	)
	if ttl > 0 {
		grant, err := s.client.Grant(ctx, seconds(ttl))
		if err != nil {
			s.fail(span, err)
			return 0, fmt.Errorf("etcd grant lease for counter %s: %w", name, err)
		}
		granted = grant.ID
		opts = append(opts, clientv3.WithLease(granted))
	}
	abort := func(err error) (int64, error) {
		if granted != 0 {
			s.revoke(ctx, granted)
		}
		s.fail(span, err)
		return 0, err
	}

	for i := 0; i < counterCASAttempts; i++ {
		cur, err := s.readCounter(ctx, k)
		if err != nil {
			return abort(fmt.Errorf("etcd read counter %s: %w", name, err))
		}
		next := cur.value + 1

		cmp := clientv3.Compare(clientv3.ModRevision(k), "=", cur.modRevision)
		resp, err := s.client.Txn(ctx).
			If(cmp).
			Then(clientv3.OpPut(k, strconv.FormatInt(next, 10), opts...)).
			Commit()
		if err != nil {
			return abort(fmt.Errorf("etcd incr counter %s: %w", name, err))
		}
		if resp.Succeeded {
			if cur.lease != 0 && cur.lease != granted {
				s.revoke(ctx, cur.lease)
			}
			return next, nil
		}
	}

	return abort(fmt.Errorf("etcd incr counter %s: too much contention after %d attempts", name, counterCASAttempts))
}

func (s *etcdLockStore) Counter(ctx context.Context, name string) (int64, error) {
	ctx, span := s.startSpan(ctx, "Counter", name)
	defer span.End()

	cur, err := s.readCounter(ctx, s.statsKey(name))
	if err != nil {
		s.fail(span, err)
		return 0, fmt.Errorf("etcd read counter %s: %w", name, err)
	}
	return cur.value, nil
}

type counterState struct {
	value       int64
	modRevision int64
	lease       clientv3.LeaseID
}

// readCounter returns the zero state when the counter is absent.
func (s *etcdLockStore) readCounter(ctx context.Context, k string) (counterState, error) {
	resp, err := s.client.Get(ctx, k)
	if err != nil {
		return counterState{}, err
	}
	if len(resp.Kvs) == 0 {
		return counterState{}, nil
	}
	kv := resp.Kvs[0]
	n, err := strconv.ParseInt(string(kv.Value), 10, 64)
	if err != nil {
		return counterState{}, fmt.Errorf("corrupted counter value %q: %w", kv.Value, err)
	}
	return counterState{value: n, modRevision: kv.ModRevision, lease: clientv3.LeaseID(kv.Lease)}, nil
}

func (s *etcdLockStore) Ping(ctx context.Context) error {
	if _, err := s.client.Get(ctx, s.prefix, clientv3.WithCountOnly()); err != nil {
		s.logger.Error("etcd ping failed", "error", err)
		return fmt.Errorf("etcd ping: %w", err)
	}
	return nil
}

// leaseOf extracts the lease of the key read by the first op of a txn.
func leaseOf(resp *clientv3.TxnResponse) (clientv3.LeaseID, bool) {
	if len(resp.Responses) == 0 {
		return 0, false
	}
	rng := resp.Responses[0].GetResponseRange()
	if rng == nil || len(rng.Kvs) == 0 || rng.Kvs[0].Lease == 0 {
		return 0, false
	}
	return clientv3.LeaseID(rng.Kvs[0].Lease), true
}

// seconds rounds d up to whole seconds, never below 1.
func seconds(d time.Duration) int64 {
	s := int64(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
