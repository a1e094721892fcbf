package mongostore

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/percona/percona-dbclone-mongodb/errors"
	"github.com/percona/percona-dbclone-mongodb/store"
)

type collection struct {
	s    *Store
	ns   store.Namespace
	uuid *bson.Binary
}

func (c *collection) Namespace() store.Namespace { return c.ns }

func (c *collection) UUID() *bson.Binary { return c.uuid }

func (c *collection) InsertDocument(ctx context.Context, doc bson.Raw) error {
	_, err := c.s.client.Database(c.ns.Database).Collection(c.ns.Collection).
		InsertOne(ctx, doc, options.InsertOne().SetBypassDocumentValidation(true))

	return err //nolint:wrapcheck
}

// RemoveExistingIndexes filters out specs that structurally match an index
// already on the collection: same name, same key document, and same unique
// option. A name collision alone is not a match; the spec stays and the
// build surfaces the conflict.
func (c *collection) RemoveExistingIndexes(
	ctx context.Context,
	specs []bson.Raw,
) ([]bson.Raw, error) {
	cur, err := c.s.client.Database(c.ns.Database).Collection(c.ns.Collection).
		Indexes().List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listIndexes")
	}

	var existing []bson.Raw

	err = cur.All(ctx, &existing)
	if err != nil {
		return nil, errors.Wrap(err, "cursor all")
	}

	present := make(map[string]struct{}, len(existing))
	for _, spec := range existing {
		present[store.IndexSignature(spec)] = struct{}{}
	}

	needed := make([]bson.Raw, 0, len(specs))

	for _, spec := range specs {
		if _, ok := present[store.IndexSignature(spec)]; ok {
			continue
		}

		needed = append(needed, spec)
	}

	return needed, nil
}

func (c *collection) NewIndexBuilder() store.IndexBuilder {
	return &indexBuilder{c: c}
}
