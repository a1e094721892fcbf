package mongostore

import (
	"context"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/percona/percona-dbclone-mongodb/config"
	"github.com/percona/percona-dbclone-mongodb/errors"
	"github.com/percona/percona-dbclone-mongodb/log"
	"github.com/percona/percona-dbclone-mongodb/store"
)

// buildTracker keeps the durable two-phase build records in the clone meta
// database. A record left behind marks a build that died before commit.
type buildTracker struct {
	s *Store
}

func (t *buildTracker) coll() string { return config.IndexBuildsCollection }

func (t *buildTracker) AddIndexBuildEntry(ctx context.Context, entry *store.IndexBuildEntry) error {
	doc := bson.D{
		{Key: "_id", Value: entry.BuildUUID.String()},
		{Key: "collectionUUID", Value: entry.CollectionUUID},
		{Key: "commitQuorum", Value: entry.CommitQuorum},
		{Key: "indexNames", Value: entry.IndexNames},
	}

	_, err := t.s.client.Database(config.CloneMetaDatabase).Collection(t.coll()).
		InsertOne(ctx, doc)

	return errors.Wrap(err, "insert index build entry")
}

func (t *buildTracker) RemoveIndexBuildEntry(ctx context.Context, buildUUID uuid.UUID) error {
	_, err := t.s.client.Database(config.CloneMetaDatabase).Collection(t.coll()).
		DeleteOne(ctx, bson.D{{Key: "_id", Value: buildUUID.String()}})

	return errors.Wrap(err, "delete index build entry")
}

// opObserver surfaces catalog-change notifications as structured log events.
// Inside a server these would be oplog entries; an external clone driver has
// the server replicate its writes natively, so the notifications are
// informational here.
type opObserver struct {
	lg *log.Logger
}

func (o *opObserver) OnStartIndexBuild(
	_ context.Context,
	ns store.Namespace,
	_ *bson.Binary,
	buildUUID uuid.UUID,
	specs []bson.Raw,
) {
	o.lg.With(log.NS(ns.Database, ns.Collection), log.Count(int64(len(specs)))).
		Debug("Index build started: " + buildUUID.String())
}

func (o *opObserver) OnCreateIndex(
	_ context.Context,
	ns store.Namespace,
	_ *bson.Binary,
	spec bson.Raw,
) {
	name, _ := spec.Lookup("name").StringValueOK()
	o.lg.With(log.NS(ns.Database, ns.Collection)).Debug("Index created: " + name)
}

func (o *opObserver) OnCommitIndexBuild(
	_ context.Context,
	ns store.Namespace,
	_ *bson.Binary,
	buildUUID uuid.UUID,
	specs []bson.Raw,
) {
	o.lg.With(log.NS(ns.Database, ns.Collection), log.Count(int64(len(specs)))).
		Debug("Index build committed: " + buildUUID.String())
}
