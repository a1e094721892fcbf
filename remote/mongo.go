package remote

import (
	"context"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.mongodb.org/mongo-driver/v2/x/mongo/driver/connstring"

	"github.com/percona/percona-dbclone-mongodb/config"
	"github.com/percona/percona-dbclone-mongodb/errors"
	"github.com/percona/percona-dbclone-mongodb/store"
	"github.com/percona/percona-dbclone-mongodb/util"
)

// Hosts returns the host:port members of a source address string. A bare
// host:port is accepted alongside full connection strings.
func Hosts(address string) ([]string, error) {
	cs, err := connstring.ParseAndValidate(withScheme(address))
	if err != nil {
		return nil, errors.Wrap(err, "parse connection string")
	}

	return cs.Hosts, nil
}

func withScheme(address string) string {
	if strings.Contains(address, "://") {
		return address
	}

	return "mongodb://" + address
}

// Dial connects to the source node.
func Dial(ctx context.Context, address string) (Conn, error) {
	client, err := mongo.Connect(options.Client().
		ApplyURI(withScheme(address)).
		SetConnectTimeout(config.DialTimeout).
		SetAppName("pdbc"))
	if err != nil {
		return nil, errors.Wrap(err, "connect")
	}

	err = util.WithTimeout(ctx, config.DialTimeout, func(ctx context.Context) error {
		return client.Ping(ctx, readpref.Primary()) //nolint:wrapcheck
	})
	if err != nil {
		_ = client.Disconnect(context.Background())

		return nil, &store.Condition{Code: store.CodeHostUnreachable, Msg: address, Cause: err}
	}

	return &mongoConn{client: client, address: address}, nil
}

type mongoConn struct {
	client  *mongo.Client
	address string
}

func (c *mongoConn) Address() string {
	return c.address
}

// AuthenticateInternal verifies the connection is authenticated. The
// internal-identity credentials ride on the connection string; this checks
// the server accepted them.
func (c *mongoConn) AuthenticateInternal(ctx context.Context) error {
	var status struct {
		AuthInfo struct {
			AuthenticatedUsers []bson.Raw `bson:"authenticatedUsers"`
		} `bson:"authInfo"`
	}

	err := c.client.Database("admin").
		RunCommand(ctx, bson.D{{Key: "connectionStatus", Value: 1}}).
		Decode(&status)
	if err != nil {
		return errors.Wrap(err, "connectionStatus")
	}

	if len(status.AuthInfo.AuthenticatedUsers) == 0 {
		return store.NewCondition(store.CodeUnauthorized,
			"internal authentication required but connection is unauthenticated")
	}

	return nil
}

// normalCollectionsFilter matches plain collections only: views, timeseries
// and other typed namespaces are excluded from cloning.
//
//nolint:gochecknoglobals
var normalCollectionsFilter = bson.D{{Key: "$or", Value: bson.A{
	bson.D{{Key: "type", Value: "collection"}},
	bson.D{{Key: "type", Value: bson.D{{Key: "$exists", Value: false}}}},
}}}

func (c *mongoConn) ListCollections(ctx context.Context, db string) ([]CollectionInfo, error) {
	cur, err := c.client.Database(db).ListCollections(ctx, normalCollectionsFilter)
	if err != nil {
		return nil, errors.Wrap(err, "listCollections")
	}

	var infos []CollectionInfo

	err = cur.All(ctx, &infos)
	if err != nil {
		return nil, errors.Wrap(err, "decode collection infos")
	}

	return infos, nil
}

func (c *mongoConn) ListIndexes(ctx context.Context, ns store.Namespace) ([]bson.Raw, error) {
	cur, err := c.client.Database(ns.Database).Collection(ns.Collection).Indexes().List(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "listIndexes %s", ns)
	}

	var specs []bson.Raw

	err = cur.All(ctx, &specs)
	if err != nil {
		return nil, errors.Wrap(err, "decode index specs")
	}

	return specs, nil
}

// OpenDocumentStream issues the clone query. The wire protocol's exhaust
// delivery is not exposed by the driver; batches stream on demand with
// server-default sizing, which preserves the same observable contract.
func (c *mongoConn) OpenDocumentStream(ctx context.Context, ns store.Namespace) (DocumentStream, error) {
	cur, err := c.client.Database(ns.Database).Collection(ns.Collection).
		Find(ctx, bson.D{}, options.Find().SetNoCursorTimeout(true))
	if err != nil {
		return nil, errors.Wrapf(err, "open document stream %s", ns)
	}

	return &mongoStream{cur: cur}, nil
}

func (c *mongoConn) Close(ctx context.Context) error {
	return errors.Wrap(c.client.Disconnect(ctx), "disconnect")
}

type mongoStream struct {
	cur *mongo.Cursor
}

func (s *mongoStream) Next(ctx context.Context) bool {
	return s.cur.Next(ctx)
}

func (s *mongoStream) Document() bson.Raw {
	return s.cur.Current
}

func (s *mongoStream) Err() error {
	return errors.Wrap(s.cur.Err(), "cursor")
}

func (s *mongoStream) Close(ctx context.Context) error {
	return errors.Wrap(s.cur.Close(ctx), "close cursor")
}
