// Package mongostore implements the store interfaces over a local MongoDB
// node driven through the standard client. It is the production adapter the
// clone engine runs against.
package mongostore

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/percona/percona-dbclone-mongodb/config"
	"github.com/percona/percona-dbclone-mongodb/errors"
	"github.com/percona/percona-dbclone-mongodb/log"
	"github.com/percona/percona-dbclone-mongodb/store"
)

// Store is a connected local node.
type Store struct {
	client *mongo.Client
	locks  *lockManager

	// topology facts captured at connect time
	setName string
	self    map[string]struct{}
}

type helloResponse struct {
	SetName           string   `bson:"setName"`
	Me                string   `bson:"me"`
	Hosts             []string `bson:"hosts"`
	IsWritablePrimary bool     `bson:"isWritablePrimary"`
}

// Connect establishes the client and captures the node's topology identity.
func Connect(ctx context.Context, uri string) (*Store, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetAppName("pdbc").
		SetConnectTimeout(config.DialTimeout)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, errors.Wrap(err, "connect")
	}

	hello, err := runHello(ctx, client)
	if err != nil {
		err1 := client.Disconnect(context.WithoutCancel(ctx))
		if err1 != nil {
			log.New("mongostore").Errorf(err1, "Disconnect after failed hello")
		}

		return nil, err
	}

	self := make(map[string]struct{})
	if hello.Me != "" {
		self[hello.Me] = struct{}{}
	}
	for _, host := range hello.Hosts {
		self[host] = struct{}{}
	}

	return &Store{
		client:  client,
		locks:   newLockManager(),
		setName: hello.SetName,
		self:    self,
	}, nil
}

func runHello(ctx context.Context, client *mongo.Client) (*helloResponse, error) {
	var hello helloResponse

	err := client.Database("admin").
		RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).
		Decode(&hello)
	if err != nil {
		return nil, errors.Wrap(err, "hello")
	}

	return &hello, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return errors.Wrap(s.client.Disconnect(ctx), "disconnect")
}

// Node bundles the adapter's collaborators for the clone engine.
func (s *Store) Node() *store.Node {
	return &store.Node{
		Catalog:  s,
		Locks:    s.locks,
		Repl:     s,
		Observer: &opObserver{lg: log.New("observer")},
		Builds:   &buildTracker{s: s},
	}
}

// OpenDatabase returns a handle for db. MongoDB materializes the database
// when its first collection is created, so the handle is always valid.
func (s *Store) OpenDatabase(_ context.Context, db string) (store.Database, error) {
	return &database{s: s, name: db}, nil
}

// GetDatabase returns a handle for db, or nil if the database does not exist.
func (s *Store) GetDatabase(ctx context.Context, db string) (store.Database, error) {
	names, err := s.client.ListDatabaseNames(ctx, bson.D{{Key: "name", Value: db}})
	if err != nil {
		return nil, errors.Wrap(err, "listDatabases")
	}

	if len(names) == 0 {
		return nil, nil
	}

	return &database{s: s, name: db}, nil
}

type database struct {
	s    *Store
	name string
}

func (d *database) Name() string { return d.name }

func (d *database) LookupCollection(ctx context.Context, coll string) (store.Collection, error) {
	specs, err := d.s.client.Database(d.name).
		ListCollectionSpecifications(ctx, bson.D{{Key: "name", Value: coll}})
	if err != nil {
		return nil, errors.Wrap(err, "listCollections")
	}

	if len(specs) == 0 {
		return nil, nil
	}

	return &collection{
		s:    d.s,
		ns:   store.Namespace{Database: d.name, Collection: coll},
		uuid: specs[0].UUID,
	}, nil
}

func (d *database) CreateCollection(
	ctx context.Context,
	coll string,
	opts, idIndex bson.Raw,
) (store.Collection, error) {
	createOpts, uuid, err := splitCreateOptions(opts)
	if err != nil {
		return nil, err
	}

	cmd := bson.D{{Key: "create", Value: coll}}
	cmd = append(cmd, createOpts...)

	if len(idIndex) > 0 {
		cmd = append(cmd, bson.E{Key: "idIndex", Value: idIndex})
	}

	if uuid != nil {
		// only applyOps can create a collection with a caller-chosen UUID
		err = d.createWithUUID(ctx, cmd, *uuid)
	} else {
		err = d.s.client.Database(d.name).RunCommand(ctx, cmd).Err()
	}
	if err != nil {
		return nil, errors.Wrapf(err, "create collection %s.%s", d.name, coll)
	}

	created, err := d.LookupCollection(ctx, coll)
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, errors.Errorf("collection %s.%s missing after create", d.name, coll)
	}

	return created, nil
}

func (d *database) createWithUUID(ctx context.Context, createCmd bson.D, uuid bson.Binary) error {
	op := bson.D{
		{Key: "op", Value: "c"},
		{Key: "ns", Value: d.name + ".$cmd"},
		{Key: "ui", Value: uuid},
		{Key: "o", Value: createCmd},
	}

	return d.s.client.Database("admin").
		RunCommand(ctx, bson.D{{Key: "applyOps", Value: bson.A{op}}}).
		Err()
}

// splitCreateOptions parses the raw source options, pulling out the uuid
// field that the create command does not accept directly.
func splitCreateOptions(opts bson.Raw) (bson.D, *bson.Binary, error) {
	if len(opts) == 0 {
		return nil, nil, nil
	}

	var doc bson.D

	err := bson.Unmarshal(opts, &doc)
	if err != nil {
		return nil, nil, errors.Wrap(err, "parse collection options")
	}

	var uuid *bson.Binary

	rest := make(bson.D, 0, len(doc))

	for _, el := range doc {
		if el.Key == "uuid" {
			if bin, ok := el.Value.(bson.Binary); ok {
				uuid = &bin
			}

			continue
		}

		rest = append(rest, el)
	}

	return rest, uuid, nil
}
