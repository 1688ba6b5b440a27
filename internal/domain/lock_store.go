package domain

import (
	"context"
	"errors"
	"time"
)

// ErrUnsupportedDriver is returned when the configured store driver is unknown.
var ErrUnsupportedDriver = errors.New("unsupported lock store driver")

// LockStore translates lock semantics into atomic store primitives.
//
// Implementations never retry; every network or store failure is returned as
// the error of that single call.
type LockStore interface {
	// TryAcquire sets key to token with the given expiry only if key is absent.
	TryAcquire(ctx context.Context, key, token string, lease time.Duration) (bool, error)
	// Release deletes key only if it still holds token.
	Release(ctx context.Context, key, token string) (bool, error)
	// Extend resets the expiry of key to ttl only if it still holds token.
	Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// IsHeld reports whether key exists. The answer may be stale on return.
	IsHeld(ctx context.Context, key string) (bool, error)
	// Owner returns the token currently stored for key.
	Owner(ctx context.Context, key string) (string, bool, error)
}

// CounterStore keeps best-effort statistics counters.
type CounterStore interface {
	// Incr increments the named counter and (re)sets its expiry.
	Incr(ctx context.Context, name string, ttl time.Duration) (int64, error)
	// Counter returns the current value, zero if the counter does not exist.
	Counter(ctx context.Context, name string) (int64, error)
}

// Pinger checks store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Store is everything the lock manager needs from a backend.
type Store interface {
	LockStore
	CounterStore
	Pinger
}
