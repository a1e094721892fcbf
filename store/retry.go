package store

import (
	"context"

	"github.com/percona/percona-dbclone-mongodb/log"
	"github.com/percona/percona-dbclone-mongodb/metrics"
)

// WriteConflictRetry runs fn until it succeeds or fails with anything other
// than a write-conflict condition. Write conflicts are transient: the whole
// attempt is retried indefinitely and never surfaces to the caller. The
// cancellation check runs before every attempt.
func WriteConflictRetry(ctx context.Context, opName string, ns Namespace, fn func(context.Context) error) error {
	attempt := 0

	for {
		if err := ctx.Err(); err != nil {
			return Interrupted(opName, err)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		if !IsWriteConflict(err) {
			return err
		}

		attempt++
		metrics.IncWriteConflictRetries()
		log.Ctx(ctx).With(log.NS(ns.Database, ns.Collection)).
			Debugf("Caught WriteConflict during %s, attempt %d", opName, attempt)
	}
}
