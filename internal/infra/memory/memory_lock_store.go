// Package memory is a single-process domain.Store for local development and
// tests. Locks taken here exclude only goroutines of the same process.
package memory

import (
	"context"
	"sync"
	"time"

	"academy-lock/internal/domain"
)

type entry struct {
	value     string
	count     int64
	expiresAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// LockStore keeps locks and counters in maps guarded by one mutex. Expired
// entries are dropped lazily on access.
type LockStore struct {
	mu       sync.Mutex
	locks    map[string]entry
	counters map[string]entry
	now      func() time.Time
}

var _ domain.Store = (*LockStore)(nil)

func NewLockStore() *LockStore {
	return NewLockStoreWithClock(time.Now)
}

// NewLockStoreWithClock lets tests drive expiry with a fake clock.
func NewLockStoreWithClock(now func() time.Time) *LockStore {
	return &LockStore{
		locks:    make(map[string]entry),
		counters: make(map[string]entry),
		now:      now,
	}
}

// live returns the unexpired lock entry for key. Callers hold s.mu.
func (s *LockStore) live(key string) (entry, bool) {
	e, ok := s.locks[key]
	if !ok {
		return entry{}, false
	}
	if e.expired(s.now()) {
		delete(s.locks, key)
		return entry{}, false
	}
	return e, true
}

func (s *LockStore) TryAcquire(ctx context.Context, key, token string, lease time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, held := s.live(key); held {
		return false, nil
	}
	s.locks[key] = entry{value: token, expiresAt: s.now().Add(lease)}
	return true, nil
}

func (s *LockStore) Release(ctx context.Context, key, token string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, held := s.live(key)
	if !held || e.value != token {
		return false, nil
	}
	delete(s.locks, key)
	return true, nil
}

func (s *LockStore) Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, held := s.live(key)
	if !held || e.value != token {
		return false, nil
	}
	e.expiresAt = s.now().Add(ttl)
	s.locks[key] = e
	return true, nil
}

func (s *LockStore) IsHeld(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, held := s.live(key)
	return held, nil
}

func (s *LockStore) Owner(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, held := s.live(key)
	return e.value, held, nil
}

// TTL reports the remaining lifetime of key, zero if absent.
func (s *LockStore) TTL(key string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, held := s.live(key)
	if !held {
		return 0
	}
	return e.expiresAt.Sub(s.now())
}

func (s *LockStore) Incr(ctx context.Context, name string, ttl time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.counters[name]
	if ok && e.expired(s.now()) {
		e = entry{}
	}
	e.count++
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.counters[name] = e
	return e.count, nil
}

func (s *LockStore) Counter(ctx context.Context, name string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.counters[name]
	if !ok || e.expired(s.now()) {
		return 0, nil
	}
	return e.count, nil
}

func (s *LockStore) Ping(ctx context.Context) error {
	return ctx.Err()
}
