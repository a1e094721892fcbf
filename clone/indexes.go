package clone

import (
	"context"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/percona/percona-dbclone-mongodb/errors"
	"github.com/percona/percona-dbclone-mongodb/log"
	"github.com/percona/percona-dbclone-mongodb/metrics"
	"github.com/percona/percona-dbclone-mongodb/remote"
	"github.com/percona/percona-dbclone-mongodb/store"
)

// buildIndexes builds the collection's secondary indexes from the index
// specs fetched during planning. The caller holds the exclusive database
// lock for the whole build. On any failure after init the partially built
// structures are torn down before the error is returned.
func (c *Cloner) buildIndexes(ctx context.Context, db string, entry *planEntry) error {
	ns := entry.namespace(db)
	lg := log.Ctx(ctx).With(log.NS(ns.Database, ns.Collection))
	ctx = lg.WithContext(ctx)

	if c.node.Repl.WritesAreReplicated() && !c.node.Repl.CanAcceptWritesFor(ctx, ns) {
		return store.Conditionf(store.CodeNotWritablePrimary,
			"not primary while copying indexes from %q", ns)
	}

	if len(entry.indexSpecs) == 0 {
		return nil
	}

	coll, err := c.openForIndexBuild(ctx, ns, entry)
	if err != nil {
		return err
	}

	needed, err := coll.RemoveExistingIndexes(ctx, entry.indexSpecs)
	if err != nil {
		return errors.Wrapf(err, "filter existing indexes on %q", ns)
	}

	if len(needed) == 0 {
		lg.Debug("All indexes already exist")

		return nil
	}

	return c.runIndexBuild(ctx, ns, coll, needed)
}

// openForIndexBuild reopens the collection after the document copy, which
// yielded the lock. A missing collection is re-created so the indexes still
// land even when a prior partial clone was cleaned up.
func (c *Cloner) openForIndexBuild(
	ctx context.Context,
	ns store.Namespace,
	entry *planEntry,
) (store.Collection, error) {
	db, err := c.node.Catalog.OpenDatabase(ctx, ns.Database)
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

	idIndex, err := remote.IDIndexSpec(entry.indexSpecs)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve id index for %q", ns)
	}

	err = store.WriteConflictRetry(ctx, "createCollection", ns, func(ctx context.Context) error {
		coll, err = db.CreateCollection(ctx, ns.Collection, entry.info.Options, idIndex)

		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "create %q", ns)
	}

	return coll, nil
}

func (c *Cloner) runIndexBuild(
	ctx context.Context,
	ns store.Namespace,
	coll store.Collection,
	specs []bson.Raw,
) error {
	lg := log.Ctx(ctx)
	builder := coll.NewIndexBuilder()

	twoPhase := c.options.TwoPhaseIndexBuilds && c.node.Repl.WritesAreReplicated()

	var buildUUID uuid.UUID
	var onInit store.OnIndexBuildInitFn

	if twoPhase {
		buildUUID = uuid.New()
		onInit = c.startTwoPhaseBuild(ns, coll, buildUUID)
	}

	built, err := builder.Init(ctx, specs, onInit)
	if err != nil {
		return errors.Wrapf(err, "init index build on %q", ns)
	}

	committed := false

	defer func() {
		if committed {
			return
		}

		builder.Abort(context.WithoutCancel(ctx))
		metrics.IncIndexBuildsAborted()
	}()

	err = builder.InsertAllDocuments(ctx)
	if err != nil {
		return errors.Wrapf(err, "populate indexes on %q", ns)
	}

	err = builder.CheckConstraints(ctx)
	if err != nil {
		return errors.Wrapf(err, "check index constraints on %q", ns)
	}

	notifier := newCommitNotifier(c.node, twoPhase, ns, coll.UUID(), buildUUID, built)

	err = builder.Commit(ctx, notifier.onCreateEach(ctx), notifier.onCommit(ctx))
	if err != nil {
		return errors.Wrapf(err, "commit index build on %q", ns)
	}

	committed = true
	metrics.IncIndexBuildsCommitted()

	if twoPhase {
		err = c.node.Builds.RemoveIndexBuildEntry(ctx, buildUUID)
		if err != nil {
			lg.Errorf(err, "Remove index build entry %s", buildUUID)
		}
	}

	lg.With(log.Count(int64(len(built)))).Debug("Built indexes")

	return nil
}

// startTwoPhaseBuild persists the build record and announces the build start
// before any index structure exists.
func (c *Cloner) startTwoPhaseBuild(
	ns store.Namespace,
	coll store.Collection,
	buildUUID uuid.UUID,
) store.OnIndexBuildInitFn {
	return func(ctx context.Context, specs []bson.Raw) error {
		entry := &store.IndexBuildEntry{
			BuildUUID:      buildUUID,
			CollectionUUID: coll.UUID(),
			CommitQuorum:   0, // secondaries never vote on cloned builds
			IndexNames:     indexNames(specs),
		}

		err := c.node.Builds.AddIndexBuildEntry(ctx, entry)
		if err != nil {
			return errors.Wrapf(err, "persist index build entry %s", buildUUID)
		}

		c.node.Observer.OnStartIndexBuild(ctx, ns, coll.UUID(), buildUUID, specs)

		return nil
	}
}

func indexNames(specs []bson.Raw) []string {
	names := make([]string, 0, len(specs))

	for _, spec := range specs {
		if name, ok := spec.Lookup("name").StringValueOK(); ok {
			names = append(names, name)
		}
	}

	return names
}

// commitNotifier announces index visibility at commit time. The protocol is
// chosen once per build: a single aggregate notification for two-phase
// builds, one notification per index otherwise, and silence when writes are
// not replicated.
type commitNotifier interface {
	onCreateEach(ctx context.Context) func(spec bson.Raw)
	onCommit(ctx context.Context) func()
}

func newCommitNotifier(
	node *store.Node,
	twoPhase bool,
	ns store.Namespace,
	collUUID *bson.Binary,
	buildUUID uuid.UUID,
	specs []bson.Raw,
) commitNotifier {
	if !node.Repl.WritesAreReplicated() {
		return silentNotifier{}
	}

	if twoPhase {
		return &buildCommitNotifier{
			node:      node,
			ns:        ns,
			collUUID:  collUUID,
			buildUUID: buildUUID,
			specs:     specs,
		}
	}

	return &perIndexNotifier{node: node, ns: ns, collUUID: collUUID}
}

type silentNotifier struct{}

func (silentNotifier) onCreateEach(context.Context) func(bson.Raw) { return nil }
func (silentNotifier) onCommit(context.Context) func()             { return nil }

type perIndexNotifier struct {
	node     *store.Node
	ns       store.Namespace
	collUUID *bson.Binary
}

func (n *perIndexNotifier) onCreateEach(ctx context.Context) func(bson.Raw) {
	return func(spec bson.Raw) {
		n.node.Observer.OnCreateIndex(ctx, n.ns, n.collUUID, spec)
	}
}

func (n *perIndexNotifier) onCommit(context.Context) func() { return nil }

type buildCommitNotifier struct {
	node      *store.Node
	ns        store.Namespace
	collUUID  *bson.Binary
	buildUUID uuid.UUID
	specs     []bson.Raw
}

func (n *buildCommitNotifier) onCreateEach(context.Context) func(bson.Raw) { return nil }

func (n *buildCommitNotifier) onCommit(ctx context.Context) func() {
	return func() {
		n.node.Observer.OnCommitIndexBuild(ctx, n.ns, n.collUUID, n.buildUUID, n.specs)
	}
}
