// internal/domain/locker.go
package domain

import (
	"context"
	"errors"
	"time"
)

// ErrLockNotAcquired is returned when a lock cannot be acquired, for example,
// if it's already held by another process and the wait budget ran out.
var ErrLockNotAcquired = errors.New("lock not acquired")

// ErrEmptyKey is returned for blank lock keys.
var ErrEmptyKey = errors.New("lock key cannot be empty")

// LockAcquisitionError is returned by the execute-with-lock helpers and by the
// declarative interceptor when the lock could not be obtained before the
// protected operation ran. Callers should treat it as "resource busy, try
// again shortly".
type LockAcquisitionError struct {
	Key     string
	Message string
}

func (e *LockAcquisitionError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "could not acquire lock: " + e.Key
}

// Is makes errors.Is(err, ErrLockNotAcquired) match.
func (e *LockAcquisitionError) Is(target error) bool {
	return target == ErrLockNotAcquired
}

// LockManager defines the acquisition policy on top of a LockStore.
type LockManager interface {
	// AcquireWithRetry tries to take the lock, backing off exponentially
	// between attempts. It returns (nil, false) when retries or the wait
	// budget are exhausted, or when ctx is canceled while waiting.
	AcquireWithRetry(ctx context.Context, key string, lease time.Duration, maxRetries int, maxWait time.Duration) (*Lease, bool)
	// Release gives the lock back if the lease still owns it.
	Release(ctx context.Context, lease *Lease) bool
	// ExtendLock refreshes the lease expiry. False means ownership is lost.
	ExtendLock(ctx context.Context, lease *Lease, additional time.Duration) bool
	// IsLocked is a diagnostic check and must not be used for correctness.
	IsLocked(ctx context.Context, key string) bool
	LockStatistics(ctx context.Context, key string) LockStatistics
	ActiveLockCount() int64
}
