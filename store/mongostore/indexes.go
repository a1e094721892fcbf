package mongostore

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/percona/percona-dbclone-mongodb/errors"
	"github.com/percona/percona-dbclone-mongodb/log"
	"github.com/percona/percona-dbclone-mongodb/store"
)

// indexBuilder runs a multi-index build through the createIndexes command.
// The server performs the collection scan and constraint checking inside the
// command, so the population phases are settled at Commit; the command is
// atomic per call, which gives the all-or-nothing abort semantics.
type indexBuilder struct {
	c     *collection
	specs []bson.Raw
	names []string
}

func (b *indexBuilder) Init(
	ctx context.Context,
	specs []bson.Raw,
	onInit store.OnIndexBuildInitFn,
) ([]bson.Raw, error) {
	for _, spec := range specs {
		name, ok := spec.Lookup("name").StringValueOK()
		if !ok {
			return nil, errors.New("index spec has no name")
		}

		if _, ok := spec.Lookup("key").DocumentOK(); !ok {
			return nil, errors.Errorf("index spec %q has no key", name)
		}

		b.names = append(b.names, name)
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

func (b *indexBuilder) InsertAllDocuments(context.Context) error { return nil }

func (b *indexBuilder) CheckConstraints(context.Context) error { return nil }

func (b *indexBuilder) Commit(
	ctx context.Context,
	onCreateEach func(spec bson.Raw),
	onCommit func(),
) error {
	indexes := make(bson.A, len(b.specs))
	for i, spec := range b.specs {
		indexes[i] = spec
	}

	cmd := bson.D{
		{Key: "createIndexes", Value: b.c.ns.Collection},
		{Key: "indexes", Value: indexes},
	}

	if b.c.s.setName != "" {
		// commit locally without waiting for secondary votes
		cmd = append(cmd, bson.E{Key: "commitQuorum", Value: 0})
	}

	err := b.c.s.client.Database(b.c.ns.Database).RunCommand(ctx, cmd).Err()
	if err != nil {
		return errors.Wrap(err, "createIndexes")
	}

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

// Abort drops whatever indexes the failed build may have left behind.
func (b *indexBuilder) Abort(ctx context.Context) {
	lg := log.Ctx(ctx)

	for _, name := range b.names {
		err := b.c.s.client.Database(b.c.ns.Database).Collection(b.c.ns.Collection).
			Indexes().DropOne(ctx, name)
		code := store.CodeOf(err)
		if err != nil && code != store.CodeIndexNotFound && code != store.CodeNamespaceNotFound {
			lg.Errorf(err, "Drop index %q after aborted build", name)
		}
	}
}
