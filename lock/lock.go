// Package lock defines an optional per-key mutual exclusion used to reduce
// contention on hot pay-to-view keys. Correctness never depends on it: the
// store's atomic unit is the guard.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotObtained is returned when the key is held by someone else.
var ErrNotObtained = errors.New("lock: not obtained")

// Locker obtains short-lived leases on string keys.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Nop is a Locker that always succeeds immediately.
type Nop struct{}

func (Nop) Obtain(context.Context, string, time.Duration) (Lease, error) {
	return nopLease{}, nil
}

type nopLease struct{}

func (nopLease) Release(context.Context) error { return nil }
