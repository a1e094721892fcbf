package clone //nolint:testpackage

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/percona/percona-dbclone-mongodb/remote"
	"github.com/percona/percona-dbclone-mongodb/store"
)

// fakeConn is a test double for the source connection.
type fakeConn struct {
	address string
	infos   []remote.CollectionInfo
	indexes map[string][]bson.Raw
	docs    map[string][]bson.Raw

	authErr        error
	listCollsErr   error
	listIndexesErr error
	streamErr      error

	authCalled bool
	closed     bool
}

func (c *fakeConn) Address() string { return c.address }

func (c *fakeConn) AuthenticateInternal(context.Context) error {
	c.authCalled = true

	return c.authErr
}

func (c *fakeConn) ListCollections(context.Context, string) ([]remote.CollectionInfo, error) {
	if c.listCollsErr != nil {
		return nil, c.listCollsErr
	}

	return c.infos, nil
}

func (c *fakeConn) ListIndexes(_ context.Context, ns store.Namespace) ([]bson.Raw, error) {
	if c.listIndexesErr != nil {
		return nil, c.listIndexesErr
	}

	return c.indexes[ns.Collection], nil
}

func (c *fakeConn) OpenDocumentStream(
	_ context.Context,
	ns store.Namespace,
) (remote.DocumentStream, error) {
	return &fakeStream{docs: c.docs[ns.Collection], err: c.streamErr}, nil
}

func (c *fakeConn) Close(context.Context) error {
	c.closed = true

	return nil
}

func (c *fakeConn) dialer() remote.Dialer {
	return func(context.Context, string) (remote.Conn, error) { return c, nil }
}

// fakeStream replays a fixed document list and then reports err, if set.
type fakeStream struct {
	docs []bson.Raw
	pos  int
	err  error
}

func (s *fakeStream) Next(context.Context) bool {
	if s.pos >= len(s.docs) {
		return false
	}

	s.pos++

	return true
}

func (s *fakeStream) Document() bson.Raw { return s.docs[s.pos-1] }

func (s *fakeStream) Err() error { return s.err }

func (s *fakeStream) Close(context.Context) error { return nil }

// fakeRepl is a test double for the replication coordinator.
type fakeRepl struct {
	replicated bool
	writable   bool
	selfHosts  map[string]bool
}

func (r *fakeRepl) WritesAreReplicated() bool { return r.replicated }

func (r *fakeRepl) CanAcceptWritesFor(context.Context, store.Namespace) bool {
	return r.writable
}

func (r *fakeRepl) CanAcceptWritesForDatabase(context.Context, string) bool {
	return r.writable
}

func (r *fakeRepl) IsSelf(_ context.Context, host string) bool { return r.selfHosts[host] }

// fakeLockMgr hands out in-test database locks and records yields.
type fakeLockMgr struct {
	releases     int
	onRelease    func(n int)
	reacquireErr error
}

func (m *fakeLockMgr) AcquireDatabase(_ context.Context, db string) (store.DBLock, error) {
	return &fakeLock{mgr: m, db: db, held: true}, nil
}

type fakeLock struct {
	mgr  *fakeLockMgr
	db   string
	held bool
}

func (lk *fakeLock) Release() {
	lk.held = false
	lk.mgr.releases++

	if lk.mgr.onRelease != nil {
		lk.mgr.onRelease(lk.mgr.releases)
	}
}

func (lk *fakeLock) Reacquire(context.Context) error {
	if lk.mgr.reacquireErr != nil {
		return lk.mgr.reacquireErr
	}

	lk.held = true

	return nil
}

func (lk *fakeLock) Held() bool { return lk.held }

// fakeCatalog is an in-memory catalog.
type fakeCatalog struct {
	dbs map[string]*fakeDB
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{dbs: make(map[string]*fakeDB)}
}

func (c *fakeCatalog) OpenDatabase(_ context.Context, db string) (store.Database, error) {
	d, ok := c.dbs[db]
	if !ok {
		d = &fakeDB{name: db, colls: make(map[string]*fakeColl)}
		c.dbs[db] = d
	}

	return d, nil
}

func (c *fakeCatalog) GetDatabase(_ context.Context, db string) (store.Database, error) {
	d, ok := c.dbs[db]
	if !ok {
		return nil, nil
	}

	return d, nil
}

func (c *fakeCatalog) drop(db string) { delete(c.dbs, db) }

func (c *fakeCatalog) mustDB(t *testing.T, db string) *fakeDB {
	t.Helper()

	d, ok := c.dbs[db]
	require.True(t, ok, "database %q not found", db)

	return d
}

type fakeDB struct {
	name  string
	colls map[string]*fakeColl
}

func (d *fakeDB) Name() string { return d.name }

func (d *fakeDB) LookupCollection(_ context.Context, coll string) (store.Collection, error) {
	c, ok := d.colls[coll]
	if !ok {
		return nil, nil
	}

	return c, nil
}

func (d *fakeDB) CreateCollection(
	_ context.Context,
	coll string,
	opts, idIndex bson.Raw,
) (store.Collection, error) {
	if _, ok := d.colls[coll]; ok {
		return nil, store.Conditionf(store.CodeNamespaceExists,
			"collection %s.%s already exists", d.name, coll)
	}

	c := &fakeColl{
		ns:      store.Namespace{Database: d.name, Collection: coll},
		opts:    opts,
		idIndex: idIndex,
		ids:     make(map[string]struct{}),
	}

	if len(opts) > 0 {
		if sub, data, ok := opts.Lookup("uuid").BinaryOK(); ok {
			c.uuid = &bson.Binary{Subtype: sub, Data: data}
		}
	}

	d.colls[coll] = c

	return c, nil
}

func (d *fakeDB) put(coll *fakeColl) { d.colls[coll.ns.Collection] = coll }

func (d *fakeDB) drop(coll string) { delete(d.colls, coll) }

type fakeColl struct {
	ns      store.Namespace
	uuid    *bson.Binary
	opts    bson.Raw
	idIndex bson.Raw

	docs []bson.Raw
	ids  map[string]struct{}

	// insertHook, when set, runs before each insert and may inject errors.
	insertHook func(doc bson.Raw) error

	indexes  []bson.Raw
	builders []*fakeBuilder

	// builderSetup, when set, arms each builder the collection hands out.
	builderSetup func(b *fakeBuilder)
}

func (c *fakeColl) Namespace() store.Namespace { return c.ns }

func (c *fakeColl) UUID() *bson.Binary { return c.uuid }

func (c *fakeColl) InsertDocument(_ context.Context, doc bson.Raw) error {
	if c.insertHook != nil {
		err := c.insertHook(doc)
		if err != nil {
			return err
		}
	}

	id := doc.Lookup("_id").String()
	if _, ok := c.ids[id]; ok {
		return store.Conditionf(store.CodeDuplicateKey, "duplicate key %s", id)
	}

	c.ids[id] = struct{}{}
	c.docs = append(c.docs, doc)

	return nil
}

func (c *fakeColl) RemoveExistingIndexes(
	_ context.Context,
	specs []bson.Raw,
) ([]bson.Raw, error) {
	present := make(map[string]struct{}, len(c.indexes))
	for _, spec := range c.indexes {
		present[store.IndexSignature(spec)] = struct{}{}
	}

	needed := make([]bson.Raw, 0, len(specs))

	for _, spec := range specs {
		if _, ok := present[store.IndexSignature(spec)]; !ok {
			needed = append(needed, spec)
		}
	}

	return needed, nil
}

func (c *fakeColl) NewIndexBuilder() store.IndexBuilder {
	b := &fakeBuilder{coll: c}
	if c.builderSetup != nil {
		c.builderSetup(b)
	}

	c.builders = append(c.builders, b)

	return b
}

// fakeBuilder records the index build lifecycle.
type fakeBuilder struct {
	coll *fakeColl

	specs     []bson.Raw
	populated bool
	checked   bool
	committed bool
	aborted   bool

	initErr     error
	populateErr error
	checkErr    error
	commitErr   error
}

func (b *fakeBuilder) Init(
	ctx context.Context,
	specs []bson.Raw,
	onInit store.OnIndexBuildInitFn,
) ([]bson.Raw, error) {
	if b.initErr != nil {
		return nil, b.initErr
	}

	b.specs = specs

	if onInit != nil {
		err := onInit(ctx, specs)
		if err != nil {
			return nil, err
		}
	}

	return specs, nil
}

func (b *fakeBuilder) InsertAllDocuments(context.Context) error {
	if b.populateErr != nil {
		return b.populateErr
	}

	b.populated = true

	return nil
}

func (b *fakeBuilder) CheckConstraints(context.Context) error {
	if b.checkErr != nil {
		return b.checkErr
	}

	b.checked = true

	return nil
}

func (b *fakeBuilder) Commit(_ context.Context, onCreateEach func(bson.Raw), onCommit func()) error {
	if b.commitErr != nil {
		return b.commitErr
	}

	b.committed = true
	b.coll.indexes = append(b.coll.indexes, b.specs...)

	if onCreateEach != nil {
		for _, spec := range b.specs {
			onCreateEach(spec)
		}
	}

	if onCommit != nil {
		onCommit()
	}

	return nil
}

func (b *fakeBuilder) Abort(context.Context) { b.aborted = true }

// fakeObserver records notification events in order.
type fakeObserver struct {
	events []string
}

func (o *fakeObserver) OnStartIndexBuild(
	_ context.Context, ns store.Namespace, _ *bson.Binary, _ uuid.UUID, specs []bson.Raw,
) {
	o.events = append(o.events, "start:"+ns.String())
}

func (o *fakeObserver) OnCreateIndex(
	_ context.Context, ns store.Namespace, _ *bson.Binary, spec bson.Raw,
) {
	name, _ := spec.Lookup("name").StringValueOK()
	o.events = append(o.events, "createIndex:"+ns.String()+":"+name)
}

func (o *fakeObserver) OnCommitIndexBuild(
	_ context.Context, ns store.Namespace, _ *bson.Binary, _ uuid.UUID, specs []bson.Raw,
) {
	o.events = append(o.events, "commit:"+ns.String())
}

// fakeTracker records durable index build entries.
type fakeTracker struct {
	added   []*store.IndexBuildEntry
	removed []uuid.UUID
	addErr  error
}

func (tr *fakeTracker) AddIndexBuildEntry(_ context.Context, entry *store.IndexBuildEntry) error {
	if tr.addErr != nil {
		return tr.addErr
	}

	tr.added = append(tr.added, entry)

	return nil
}

func (tr *fakeTracker) RemoveIndexBuildEntry(_ context.Context, buildUUID uuid.UUID) error {
	tr.removed = append(tr.removed, buildUUID)

	return nil
}

// testNode bundles the fakes behind one store.Node.
type testNode struct {
	catalog  *fakeCatalog
	locks    *fakeLockMgr
	repl     *fakeRepl
	observer *fakeObserver
	tracker  *fakeTracker
}

func newTestNode() *testNode {
	return &testNode{
		catalog:  newFakeCatalog(),
		locks:    &fakeLockMgr{},
		repl:     &fakeRepl{replicated: true, writable: true},
		observer: &fakeObserver{},
		tracker:  &fakeTracker{},
	}
}

func (n *testNode) node() *store.Node {
	return &store.Node{
		Catalog:  n.catalog,
		Locks:    n.locks,
		Repl:     n.repl,
		Observer: n.observer,
		Builds:   n.tracker,
	}
}

func rawDoc(t *testing.T, id any) bson.Raw {
	t.Helper()

	raw, err := bson.Marshal(bson.D{{Key: "_id", Value: id}})
	require.NoError(t, err)

	return raw
}

func rawDocs(t *testing.T, n int) []bson.Raw {
	t.Helper()

	docs := make([]bson.Raw, n)
	for i := range docs {
		docs[i] = rawDoc(t, i)
	}

	return docs
}

func indexSpec(t *testing.T, name string, key bson.D) bson.Raw {
	t.Helper()

	raw, err := bson.Marshal(bson.D{{Key: "v", Value: 2}, {Key: "key", Value: key}, {Key: "name", Value: name}})
	require.NoError(t, err)

	return raw
}

func rawOptions(t *testing.T, opts bson.D) bson.Raw {
	t.Helper()

	raw, err := bson.Marshal(opts)
	require.NoError(t, err)

	return raw
}

func binUUID(b byte) *bson.Binary {
	data := make([]byte, 16)
	data[0] = b

	return &bson.Binary{Subtype: 0x04, Data: data}
}
