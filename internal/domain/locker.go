// internal/domain/locker.go
package domain

import (
	"context"
	"errors"
)

// ErrLockNotAcquired is returned when a lock is already held by another
// instance.
var ErrLockNotAcquired = errors.New("lock not acquired")

// Lock represents an acquired cross-instance lock.
type Lock interface {
	Unlock(ctx context.Context) error
}

// Locker guards work that only one instance should perform at a time, such as
// creating the next period's destination.
type Locker interface {
	// Lock is non-blocking. If the lock is already held it returns
	// ErrLockNotAcquired.
	Lock(ctx context.Context, name string) (Lock, error)
}
