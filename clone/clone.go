// Package clone implements whole-database cloning: it provisions the target
// collections, streams every document, and rebuilds the secondary indexes,
// all under an exclusive database lock that is yielded periodically.
package clone

import (
	"context"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/percona/percona-dbclone-mongodb/errors"
	"github.com/percona/percona-dbclone-mongodb/log"
	"github.com/percona/percona-dbclone-mongodb/metrics"
	"github.com/percona/percona-dbclone-mongodb/remote"
	"github.com/percona/percona-dbclone-mongodb/sel"
	"github.com/percona/percona-dbclone-mongodb/store"
	"github.com/percona/percona-dbclone-mongodb/validate"
)

// Options tune a Cloner. The zero value is usable.
type Options struct {
	// SkipCorruptDocuments makes the copier log and skip documents that fail
	// structural validation instead of aborting the clone.
	SkipCorruptDocuments bool

	// TwoPhaseIndexBuilds enables durable build records and aggregate commit
	// notification for secondary index builds.
	TwoPhaseIndexBuilds bool

	// InternalAuth authenticates the source connection as the internal
	// system identity after dialing.
	InternalAuth bool

	// NSFilter selects which source namespaces are cloned. Nil clones all.
	NSFilter sel.NSFilter
}

// Cloner clones databases from a remote source node into the local node.
// A Cloner runs one clone at a time.
type Cloner struct {
	node    *store.Node
	dial    remote.Dialer
	conn    remote.Conn
	options *Options
}

// New returns a Cloner for the local node. opts may be nil.
func New(node *store.Node, dial remote.Dialer, opts *Options) *Cloner {
	if opts == nil {
		opts = &Options{}
	}
	if opts.NSFilter == nil {
		opts.NSFilter = sel.AllowAllFilter
	}

	return &Cloner{
		node:    node,
		dial:    dial,
		options: opts,
	}
}

// Request describes one database clone.
type Request struct {
	// SourceAddress is the host:port (or connection string) of the node to
	// clone from.
	SourceAddress string `json:"sourceAddress" validate:"required"`

	// Database is the database to clone. db_name rejects the characters
	// MongoDB forbids in database names: / \ . space " $
	Database string `json:"database" validate:"required,db_name"`

	// ShardedCollections lists the fully-qualified namespaces that are
	// sharded. Their documents are not copied, but they are provisioned
	// with the source UUID and their indexes are built.
	ShardedCollections []string `json:"shardedCollections" validate:"dive,contains=."`
}

// Result reports what a clone did.
type Result struct {
	// ClonedCollections is the sorted set of fully-qualified namespaces
	// whose documents were copied.
	ClonedCollections []string `json:"clonedCollections"`
}

// CloneDatabase clones req.Database from the source into the local node:
// collections first, then documents, then secondary indexes. It is
// idempotent against partial prior runs and safe to retry. The context
// cancels the clone cooperatively at yield points and between stages.
func (c *Cloner) CloneDatabase(ctx context.Context, req *Request) (*Result, error) {
	lg := log.New("clone").
		With(log.Str("db", req.Database), log.Str("opID", uuid.New().String()))
	ctx = lg.WithContext(ctx)

	err := validate.Struct(req)
	if err != nil {
		return nil, errors.Wrap(err, "invalid clone request")
	}

	err = c.ensureNotSelf(ctx, req.SourceAddress)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	metrics.SetCloneInProgress(true)

	defer func() {
		metrics.SetCloneInProgress(false)
		metrics.SetCloneDuration(time.Since(started))
	}()

	conn, err := c.dial(ctx, req.SourceAddress)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to source %q", req.SourceAddress)
	}

	c.conn = conn

	defer func() {
		err := conn.Close(context.WithoutCancel(ctx))
		if err != nil {
			lg.Errorf(err, "Close source connection")
		}
	}()

	if c.options.InternalAuth {
		err = conn.AuthenticateInternal(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "authenticate on source")
		}
	}

	lock, err := c.node.Locks.AcquireDatabase(ctx, req.Database)
	if err != nil {
		return nil, errors.Wrapf(err, "acquire database lock for %q", req.Database)
	}

	defer func() {
		if lock.Held() {
			lock.Release()
		}
	}()

	entries, err := c.plan(ctx, lock, req)
	if err != nil {
		return nil, err
	}

	// the role may have changed while the lock was released for listing
	if c.node.Repl.WritesAreReplicated() &&
		!c.node.Repl.CanAcceptWritesForDatabase(ctx, req.Database) {
		return nil, store.Conditionf(store.CodeNotWritablePrimary,
			"not primary while cloning database %q (after getting list of collections to clone)",
			req.Database)
	}

	db, err := c.node.Catalog.OpenDatabase(ctx, req.Database)
	if err != nil {
		return nil, errors.Wrapf(err, "open database %q", req.Database)
	}

	err = createAll(ctx, db, entries)
	if err != nil {
		return nil, err
	}

	result := &Result{}

	for _, entry := range entries {
		if entry.sharded {
			// sharded documents move via their own migration machinery
			continue
		}

		err = c.copyCollection(ctx, lock, req.Database, entry)
		if err != nil {
			return nil, err
		}

		result.ClonedCollections = append(result.ClonedCollections, entry.namespace(req.Database).String())
		metrics.IncCollectionsCloned()
	}

	for _, entry := range entries {
		err = c.buildIndexes(ctx, req.Database, entry)
		if err != nil {
			return nil, err
		}
	}

	slices.Sort(result.ClonedCollections)

	lg.With(log.Count(int64(len(result.ClonedCollections))), log.Elapsed(time.Since(started))).
		Info("Cloned database in " + humanize.RelTime(started, time.Now(), "", ""))

	return result, nil
}

// ensureNotSelf rejects cloning a node from itself: this is always an
// operator mistake and would deadlock on the database lock.
func (c *Cloner) ensureNotSelf(ctx context.Context, address string) error {
	hosts, err := remote.Hosts(address)
	if err != nil {
		return errors.Wrapf(err, "parse source address %q", address)
	}

	for _, host := range hosts {
		if c.node.Repl.IsSelf(ctx, host) {
			return store.NewCondition(store.CodeIllegalOperation,
				"can't clone from self (localhost)")
		}
	}

	return nil
}

// plan lists the source collections and their indexes, releasing the lock
// around each remote call, and returns the provisioning plan.
func (c *Cloner) plan(ctx context.Context, lock store.DBLock, req *Request) ([]*planEntry, error) {
	lg := log.Ctx(ctx)

	var infos []remote.CollectionInfo

	err := store.TempRelease(ctx, lock, func(ctx context.Context) error {
		var err error

		infos, err = c.conn.ListCollections(ctx, req.Database)

		return errors.Wrapf(err, "list collections of %q", req.Database)
	})
	if err != nil {
		return nil, err
	}

	selected := make([]remote.CollectionInfo, 0, len(infos))

	for _, info := range infos {
		if !c.options.NSFilter(req.Database, info.Name) {
			lg.With(log.NS(req.Database, info.Name)).Info("Not cloning excluded collection")

			continue
		}

		selected = append(selected, info)
	}

	filtered, err := filterCollections(req.Database, selected, lg)
	if err != nil {
		return nil, err
	}

	entries := buildPlan(req.Database, filtered, sel.MakeNSSet(req.ShardedCollections))

	err = store.TempRelease(ctx, lock, func(ctx context.Context) error {
		for _, entry := range entries {
			ns := entry.namespace(req.Database)

			specs, err := c.conn.ListIndexes(ctx, ns)
			if err != nil {
				return errors.Wrapf(err, "list indexes of %q", ns)
			}

			entry.indexSpecs = specs

			err = resolveIDIndex(entry)
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	lg.With(log.Count(int64(len(entries)))).Debug("Planned collections")

	return entries, nil
}
