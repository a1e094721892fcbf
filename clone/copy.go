package clone

import (
	"context"
	"math/rand"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/percona/percona-dbclone-mongodb/config"
	"github.com/percona/percona-dbclone-mongodb/errors"
	"github.com/percona/percona-dbclone-mongodb/log"
	"github.com/percona/percona-dbclone-mongodb/metrics"
	"github.com/percona/percona-dbclone-mongodb/remote"
	"github.com/percona/percona-dbclone-mongodb/store"
)

// documentCopier streams one collection's documents from the source into the
// target while holding the exclusive database lock, yielding it periodically
// so concurrent operations are not starved.
type documentCopier struct {
	node        *store.Node
	skipCorrupt bool

	numSeen  int64
	inserted int64

	lastYieldLog time.Time
	lastSaveLog  time.Time
	sampler      *rand.Rand
}

// copyCollection clones all documents of one collection. The caller holds
// the database lock; the lock is temporarily released while the remote
// cursor is opened, and yielded every few documents during the copy.
func (c *Cloner) copyCollection(ctx context.Context, lock store.DBLock, db string, entry *planEntry) error {
	ns := entry.namespace(db)
	lg := log.Ctx(ctx).With(log.NS(ns.Database, ns.Collection))
	ctx = lg.WithContext(ctx)

	lg.Debug("Copying collection")

	var stream remote.DocumentStream

	err := store.TempRelease(ctx, lock, func(ctx context.Context) error {
		var err error

		stream, err = c.conn.OpenDocumentStream(ctx, ns)

		return errors.Wrapf(err, "open document stream for %q", ns)
	})
	if err != nil {
		return err
	}

	defer func() {
		err := stream.Close(context.WithoutCancel(ctx))
		if err != nil {
			lg.Errorf(err, "Close document stream for %q", ns)
		}
	}()

	now := time.Now()
	w := &documentCopier{
		node:         c.node,
		skipCorrupt:  c.options.SkipCorruptDocuments,
		lastYieldLog: now,
		lastSaveLog:  now,
		sampler:      rand.New(rand.NewSource(now.UnixNano())), //nolint:gosec
	}

	err = w.run(ctx, lock, ns, stream, entry)
	if err != nil {
		return err
	}

	// the last yield may have let a stepdown through
	if c.node.Repl.WritesAreReplicated() && !c.node.Repl.CanAcceptWritesFor(ctx, ns) {
		return store.Conditionf(store.CodeNotWritablePrimary,
			"not primary while cloning collection %q (with filter {})", ns)
	}

	lg.With(log.Count(w.inserted)).Debug("Finished copying collection")

	return nil
}

func (w *documentCopier) run(
	ctx context.Context,
	lock store.DBLock,
	ns store.Namespace,
	stream remote.DocumentStream,
	entry *planEntry,
) error {
	err := w.ensureCanWrite(ctx, ns)
	if err != nil {
		return err
	}

	coll, err := w.ensureCollection(ctx, ns, entry)
	if err != nil {
		return err
	}

	for stream.Next(ctx) {
		if w.numSeen%config.YieldEvery == config.YieldEvery-1 {
			coll, err = w.yield(ctx, lock, ns)
			if err != nil {
				return err
			}
		}

		doc := stream.Document()

		err = doc.Validate()
		if err != nil {
			if w.skipCorrupt {
				// the document itself is never logged
				lg := log.Ctx(ctx).With(log.Size(uint64(len(doc))))
				if id, lerr := doc.LookupErr("_id"); lerr == nil {
					lg = lg.With(log.Str("id", id.String()))
				}
				lg.Warn("Skipping corrupt document during clone")
				metrics.IncDocumentsSkippedCorrupt()

				continue
			}

			return &store.Condition{
				Code:  store.CodeCorruptDocument,
				Msg:   "document to be cloned is corrupt",
				Cause: err,
			}
		}

		w.numSeen++

		err = w.insertDocument(ctx, coll, ns, doc)
		if err != nil {
			return err
		}

		w.maybeLogProgress(ctx)
	}

	err = stream.Err()
	if err != nil {
		return errors.Wrapf(err, "document stream for %q", ns)
	}

	return nil
}

// yield releases the database lock, checks for interruption, reacquires the
// lock, and re-validates everything the release may have invalidated.
func (w *documentCopier) yield(ctx context.Context, lock store.DBLock, ns store.Namespace) (store.Collection, error) {
	w.maybeLogYield(ctx)

	if err := ctx.Err(); err != nil {
		return nil, store.Interrupted("collection clone", err)
	}

	lock.Release()
	metrics.IncLockYields()

	err := lock.Reacquire(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "reacquire database lock for %q", ns.Database)
	}

	if w.node.Repl.WritesAreReplicated() && !w.node.Repl.CanAcceptWritesFor(ctx, ns) {
		return nil, store.Conditionf(store.CodeNotWritablePrimary,
			"cannot write to %q after yielding", ns)
	}

	db, err := w.node.Catalog.GetDatabase(ctx, ns.Database)
	if err != nil {
		return nil, errors.Wrapf(err, "get database %q", ns.Database)
	}
	if db == nil {
		return nil, store.Conditionf(store.CodeDatabaseDropped,
			"database %q was dropped while cloning", ns.Database)
	}

	coll, err := db.LookupCollection(ctx, ns.Collection)
	if err != nil {
		return nil, errors.Wrapf(err, "lookup %q", ns)
	}
	if coll == nil {
		return nil, store.Conditionf(store.CodeCollectionDropped,
			"collection %q was dropped while cloning", ns)
	}

	return coll, nil
}

func (w *documentCopier) insertDocument(
	ctx context.Context,
	coll store.Collection,
	ns store.Namespace,
	doc bson.Raw,
) error {
	return store.WriteConflictRetry(ctx, "cloner insert", ns, func(ctx context.Context) error {
		err := coll.InsertDocument(ctx, doc)
		if err == nil {
			w.inserted++
			metrics.AddDocumentsCopied(1)

			return nil
		}

		// duplicates are expected when resuming an interrupted clone
		if store.IsDuplicateKey(err) {
			metrics.IncDuplicateKeysIgnored()

			return nil
		}

		log.Ctx(ctx).Errorf(err, "Failed to insert document during clone of %q", ns)

		return err
	})
}

// ensureCanWrite verifies this node still accepts writes for the namespace.
func (w *documentCopier) ensureCanWrite(ctx context.Context, ns store.Namespace) error {
	if w.node.Repl.WritesAreReplicated() && !w.node.Repl.CanAcceptWritesFor(ctx, ns) {
		return store.Conditionf(store.CodeNotWritablePrimary,
			"not primary while cloning collection %q", ns)
	}

	return nil
}

// ensureCollection opens the target collection, creating it if an earlier,
// interrupted provisioning attempt never got to it.
func (w *documentCopier) ensureCollection(
	ctx context.Context,
	ns store.Namespace,
	entry *planEntry,
) (store.Collection, error) {
	db, err := w.node.Catalog.OpenDatabase(ctx, ns.Database)
	if err != nil {
		return nil, errors.Wrapf(err, "open database %q", ns.Database)
	}

	coll, err := db.LookupCollection(ctx, ns.Collection)
	if err != nil {
		return nil, errors.Wrapf(err, "lookup %q", ns)
	}
	if coll != nil {
		return coll, nil
	}

	err = store.WriteConflictRetry(ctx, "createCollection", ns, func(ctx context.Context) error {
		coll, err = db.CreateCollection(ctx, ns.Collection, entry.info.Options, entry.idIndexSpec)

		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "create %q", ns)
	}

	return coll, nil
}

// maybeLogYield reports progress at yield points, at most once per interval.
// The timestamp advances only when a record is emitted, so frequent yields
// still accumulate toward the interval.
func (w *documentCopier) maybeLogYield(ctx context.Context) {
	now := time.Now()
	if now.Sub(w.lastYieldLog) < config.ProgressLogInterval {
		return
	}

	w.lastYieldLog = now
	log.Ctx(ctx).With(log.Count(w.numSeen)).Info("Number of documents cloned so far")
}

// maybeLogProgress samples a low-rate progress line between yields.
func (w *documentCopier) maybeLogProgress(ctx context.Context) {
	if w.sampler.Intn(config.YieldEvery) != 0 {
		return
	}

	now := time.Now()
	if now.Sub(w.lastSaveLog) < config.ProgressLogInterval {
		return
	}

	w.lastSaveLog = now
	log.Ctx(ctx).With(log.Count(w.inserted)).Info("Documents copied so far")
}
