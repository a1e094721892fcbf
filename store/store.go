// Package store defines the boundary between the clone engine and the local
// node it runs inside: the collection catalog, the database lock manager,
// the replication coordinator, and the index build machinery. The engine
// never touches storage except through these interfaces.
package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Namespace identifies a collection as database.collection.
type Namespace struct {
	Database   string
	Collection string
}

// String returns the fully-qualified namespace.
func (ns Namespace) String() string {
	if ns.Collection == "" {
		return ns.Database
	}

	return ns.Database + "." + ns.Collection
}

// Catalog is the local collection/catalog collaborator. Lookup and create
// operations are keyed by (database, collection) and must be called while
// the exclusive database lock is held.
type Catalog interface {
	// OpenDatabase returns a handle for db, creating the entry if absent.
	OpenDatabase(ctx context.Context, db string) (Database, error)

	// GetDatabase returns a handle for db, or nil if it does not exist.
	GetDatabase(ctx context.Context, db string) (Database, error)
}

// Database is an open local database.
type Database interface {
	Name() string

	// LookupCollection returns the collection, or nil if it does not exist.
	LookupCollection(ctx context.Context, coll string) (Collection, error)

	// CreateCollection creates the collection with default indexes as one
	// short transaction. opts is the raw collection-options document from
	// the source; idIndex is the id index spec to install (nil means the
	// stock default id index).
	CreateCollection(ctx context.Context, coll string, opts, idIndex bson.Raw) (Collection, error)
}

// Collection is an open local collection.
type Collection interface {
	Namespace() Namespace

	// UUID returns the collection UUID, or nil if the node does not track one.
	UUID() *bson.Binary

	// InsertDocument inserts doc as a single-document transaction.
	// A conflicting in-flight transaction surfaces as a write-conflict
	// condition; an existing identical key as a duplicate-key condition.
	InsertDocument(ctx context.Context, doc bson.Raw) error

	// RemoveExistingIndexes returns the subset of specs not already built on
	// this collection, compared structurally rather than by name alone.
	RemoveExistingIndexes(ctx context.Context, specs []bson.Raw) ([]bson.Raw, error)

	// NewIndexBuilder returns a builder for a multi-index build on this
	// collection. One build runs at a time per collection.
	NewIndexBuilder() IndexBuilder
}

// IndexSignature renders the structural identity of an index spec: name, key
// document, and the unique flag. Only specs with equal signatures describe
// the same index; a name collision over a different key is a conflict, not
// a match.
func IndexSignature(spec bson.Raw) string {
	name, _ := spec.Lookup("name").StringValueOK()

	key := ""
	if doc, ok := spec.Lookup("key").DocumentOK(); ok {
		key = doc.String()
	}

	unique, _ := spec.Lookup("unique").BooleanOK()

	return fmt.Sprintf("%s|%s|%t", name, key, unique)
}

// OnIndexBuildInitFn runs during build initialization, before any index
// structure is touched. Returning an error fails the init.
type OnIndexBuildInitFn func(ctx context.Context, specs []bson.Raw) error

// IndexBuilder drives one multi-index build from init to commit or abort.
type IndexBuilder interface {
	// Init registers the target specs and invokes onInit. It returns the
	// normalized spec documents of the indexes that will be built.
	Init(ctx context.Context, specs []bson.Raw, onInit OnIndexBuildInitFn) ([]bson.Raw, error)

	// InsertAllDocuments feeds every document of the collection into the
	// new index structures.
	InsertAllDocuments(ctx context.Context) error

	// CheckConstraints validates uniqueness and other deferred constraints.
	CheckConstraints(ctx context.Context) error

	// Commit makes the built indexes visible as one transaction.
	// onCreateEach runs per committed index; onCommit runs once after all.
	Commit(ctx context.Context, onCreateEach func(spec bson.Raw), onCommit func()) error

	// Abort tears down any partially built index structures. It must
	// succeed as cleanup on every failure path after Init.
	Abort(ctx context.Context)
}

// ReplCoordinator exposes the local node's replication role.
type ReplCoordinator interface {
	// WritesAreReplicated reports whether local writes go through the
	// replication machinery (false for standalone maintenance modes).
	WritesAreReplicated() bool

	// CanAcceptWritesFor reports whether this node is writable primary for
	// the namespace at this instant.
	CanAcceptWritesFor(ctx context.Context, ns Namespace) bool

	// CanAcceptWritesForDatabase is the database-level write-acceptance check.
	CanAcceptWritesForDatabase(ctx context.Context, db string) bool

	// IsSelf reports whether the host:port address resolves to this process.
	IsSelf(ctx context.Context, host string) bool
}

// OpObserver receives catalog-change notifications for replication.
type OpObserver interface {
	OnStartIndexBuild(ctx context.Context, ns Namespace, collUUID *bson.Binary,
		buildUUID uuid.UUID, specs []bson.Raw)

	OnCreateIndex(ctx context.Context, ns Namespace, collUUID *bson.Binary, spec bson.Raw)

	OnCommitIndexBuild(ctx context.Context, ns Namespace, collUUID *bson.Binary,
		buildUUID uuid.UUID, specs []bson.Raw)
}

// IndexBuildEntry is the durable record persisted when a two-phase index
// build starts.
type IndexBuildEntry struct {
	BuildUUID      uuid.UUID    `bson:"buildUUID"`
	CollectionUUID *bson.Binary `bson:"collectionUUID,omitempty"`

	// CommitQuorum of zero disables secondary votes: the primary commits
	// without waiting for acknowledgement.
	CommitQuorum int `bson:"commitQuorum"`

	IndexNames []string `bson:"indexNames"`
}

// IndexBuildTracker persists and removes two-phase build records.
type IndexBuildTracker interface {
	AddIndexBuildEntry(ctx context.Context, entry *IndexBuildEntry) error
	RemoveIndexBuildEntry(ctx context.Context, buildUUID uuid.UUID) error
}

// Node bundles the local-node collaborators one clone invocation runs against.
type Node struct {
	Catalog  Catalog
	Locks    LockManager
	Repl     ReplCoordinator
	Observer OpObserver
	Builds   IndexBuildTracker
}
