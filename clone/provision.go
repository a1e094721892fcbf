package clone

import (
	"context"
	"encoding/hex"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/percona/percona-dbclone-mongodb/errors"
	"github.com/percona/percona-dbclone-mongodb/log"
	"github.com/percona/percona-dbclone-mongodb/metrics"
	"github.com/percona/percona-dbclone-mongodb/store"
)

// provisionFailPoint makes createAll fail with a command error after the
// first collection has been handled. Tests use it to exercise recovery from
// a partially provisioned target.
var provisionFailPoint atomic.Bool

// createAll provisions every planned collection on the target, in plan
// order. The caller holds the exclusive database lock. Provisioning is
// fail-fast: the first error aborts and already created collections are
// left in place for the retry path to find.
func createAll(ctx context.Context, db store.Database, entries []*planEntry) error {
	lg := log.Ctx(ctx)

	for i, entry := range entries {
		if i > 0 && provisionFailPoint.Load() {
			return store.NewCondition(store.CodeCommandFailed,
				"failing provisioning due to fail point")
		}

		ns := entry.namespace(db.Name())

		err := store.WriteConflictRetry(ctx, "createCollection", ns, func(ctx context.Context) error {
			return createOne(ctx, db, entry, ns)
		})
		if err != nil {
			return err
		}

		metrics.IncCollectionsProvisioned()
		lg.With(log.NS(ns.Database, ns.Collection)).Debug("Provisioned collection")
	}

	return nil
}

func createOne(ctx context.Context, db store.Database, entry *planEntry, ns store.Namespace) error {
	existing, err := db.LookupCollection(ctx, entry.name)
	if err != nil {
		return errors.Wrapf(err, "lookup %q", ns)
	}

	if existing != nil {
		if !entry.sharded {
			return store.Conditionf(store.CodeNamespaceExists,
				"unsharded collection %q already exists on the target", ns)
		}

		return verifyShardedUUID(existing, entry, ns)
	}

	opts := entry.info.Options
	if entry.sharded {
		// a sharded collection must keep the same UUID on every shard
		opts, err = optionsWithUUID(opts, entry.info.UUID())
		if err != nil {
			return errors.Wrapf(err, "force source UUID for %q", ns)
		}
	}

	_, err = db.CreateCollection(ctx, entry.name, opts, entry.idIndexSpec)
	if err != nil {
		return errors.Wrapf(err, "create %q", ns)
	}

	return nil
}

// verifyShardedUUID treats an already present sharded collection as done
// when its UUID matches the source, and as a hard conflict otherwise.
func verifyShardedUUID(existing store.Collection, entry *planEntry, ns store.Namespace) error {
	sourceUUID := entry.info.UUID()
	if sourceUUID == nil {
		return store.Conditionf(store.CodeInvalidOptions,
			"sharded collection %q has no UUID on the source", ns)
	}

	targetUUID := existing.UUID()
	if targetUUID != nil && targetUUID.Equal(*sourceUUID) {
		return nil
	}

	return store.Conditionf(store.CodeInvalidOptions,
		"sharded collection %q already exists with UUID %s, expected UUID %s",
		ns, uuidHex(targetUUID), uuidHex(sourceUUID))
}

// optionsWithUUID rebuilds the create options with the source UUID appended.
func optionsWithUUID(opts bson.Raw, uuid *bson.Binary) (bson.Raw, error) {
	if uuid == nil {
		return nil, errors.New("source collection has no UUID")
	}

	var doc bson.D
	if len(opts) > 0 {
		err := bson.Unmarshal(opts, &doc)
		if err != nil {
			return nil, errors.Wrap(err, "parse options")
		}
	}

	doc = append(doc, bson.E{Key: "uuid", Value: *uuid})

	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "marshal options")
	}

	return raw, nil
}

func uuidHex(uuid *bson.Binary) string {
	if uuid == nil {
		return "<none>"
	}

	return hex.EncodeToString(uuid.Data)
}
