package store

import (
	"context"

	"github.com/percona/percona-dbclone-mongodb/errors"
)

// LockManager hands out exclusive per-database locks.
type LockManager interface {
	// AcquireDatabase blocks until the exclusive lock for db is held.
	AcquireDatabase(ctx context.Context, db string) (DBLock, error)
}

// DBLock is the token for one held exclusive database lock. The holder pairs
// every Release with a Reacquire (or lets a deferred Release end the scope)
// and re-validates node role and catalog state after each reacquisition.
type DBLock interface {
	// Release gives the lock up. No-op if not held.
	Release()

	// Reacquire takes the lock again after a Release.
	Reacquire(ctx context.Context) error

	// Held reports whether the token currently holds the lock.
	Held() bool
}

// TempRelease runs fn with the lock released and reacquires it before
// returning. Remote network calls must never run while the exclusive lock
// is held.
func TempRelease(ctx context.Context, lk DBLock, fn func(context.Context) error) error {
	lk.Release()

	err := fn(ctx)

	rerr := lk.Reacquire(ctx)
	if err != nil {
		return err
	}

	return errors.Wrap(rerr, "reacquire database lock")
}
