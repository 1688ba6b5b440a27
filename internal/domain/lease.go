package domain

import (
	"sync/atomic"
	"time"
)

// Lease is the in-memory view of an acquired lock. It only exists after a
// successful remote acquisition; the store stays the source of truth for who
// holds the key.
//
// A Lease must not be copied after first use.
type Lease struct {
	Key           string
	OwnerToken    string
	AcquiredAt    time.Time
	LeaseDuration time.Duration

	lastExtendedAt atomic.Int64 // unix nanos
	released       atomic.Bool
	tracked        atomic.Bool
}

// NewLease builds a lease acquired at the given instant.
func NewLease(key, ownerToken string, leaseDuration time.Duration, acquiredAt time.Time) *Lease {
	l := &Lease{
		Key:           key,
		OwnerToken:    ownerToken,
		AcquiredAt:    acquiredAt,
		LeaseDuration: leaseDuration,
	}
	l.lastExtendedAt.Store(acquiredAt.UnixNano())
	return l
}

// LastExtendedAt reports the last successful extension, or AcquiredAt.
func (l *Lease) LastExtendedAt() time.Time {
	return time.Unix(0, l.lastExtendedAt.Load())
}

// MarkExtended records a successful extension.
func (l *Lease) MarkExtended(at time.Time) {
	l.lastExtendedAt.Store(at.UnixNano())
}

// MarkReleased flags the lease as no longer held by this process. It reports
// true only for the first call.
func (l *Lease) MarkReleased() bool {
	return l.released.CompareAndSwap(false, true)
}

// MarkTracked records that the acquiring manager counts this lease as active.
// Leases rebuilt from a printed token are never tracked.
func (l *Lease) MarkTracked() {
	l.tracked.Store(true)
}

// Tracked reports whether the lease is counted in its manager's active total.
func (l *Lease) Tracked() bool {
	return l.tracked.Load()
}

// Released reports whether MarkReleased has been called.
func (l *Lease) Released() bool {
	return l.released.Load()
}
