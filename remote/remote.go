// Package remote defines the boundary to the source node: collection and
// index listing plus document streaming. Callers must not hold any exclusive
// local lock while invoking these operations.
package remote

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/percona/percona-dbclone-mongodb/errors"
	"github.com/percona/percona-dbclone-mongodb/store"
)

// IDIndexName is the name of the id index.
const IDIndexName = "_id_"

// CollectionInfo is one collection descriptor as listed by the source.
type CollectionInfo struct {
	Name    string   `bson:"name"`
	Type    string   `bson:"type,omitempty"`
	Options bson.Raw `bson:"options,omitempty"`

	Info struct {
		ReadOnly bool         `bson:"readOnly,omitempty"`
		UUID     *bson.Binary `bson:"uuid,omitempty"`
	} `bson:"info,omitempty"`

	// IDIndex is the id index spec the source declares for the collection,
	// if it declares one at all.
	IDIndex bson.Raw `bson:"idIndex,omitempty"`
}

// UUID returns the collection UUID the source declares, or nil.
func (ci *CollectionInfo) UUID() *bson.Binary {
	return ci.Info.UUID
}

// IDIndexSpec finds the spec named "_id_" in specs. Returns nil if none
// exists. A spec without a string name field is malformed.
func IDIndexSpec(specs []bson.Raw) (bson.Raw, error) {
	for _, spec := range specs {
		name, err := spec.LookupErr("name")
		if err != nil {
			return nil, errors.Wrap(err, "index spec has no name")
		}

		nameStr, ok := name.StringValueOK()
		if !ok {
			return nil, errors.New("index spec name is not a string")
		}

		if nameStr == IDIndexName {
			return spec, nil
		}
	}

	return nil, nil
}

// Conn is a live connection to the source node. It is owned exclusively by
// one clone invocation.
type Conn interface {
	// Address returns the address the connection was established to.
	Address() string

	// AuthenticateInternal authenticates the connection as the internal
	// system identity.
	AuthenticateInternal(ctx context.Context) error

	// ListCollections lists the database's collection descriptors under the
	// normal-collections-only filter, in server order.
	ListCollections(ctx context.Context, db string) ([]CollectionInfo, error)

	// ListIndexes lists the full index specifications of the namespace, in
	// server order.
	ListIndexes(ctx context.Context, ns store.Namespace) ([]bson.Raw, error)

	// OpenDocumentStream issues the full-collection query with idle timeout
	// disabled and server-default batching, streaming documents in
	// server-defined order.
	OpenDocumentStream(ctx context.Context, ns store.Namespace) (DocumentStream, error)

	// Close releases the connection.
	Close(ctx context.Context) error
}

// DocumentStream is a streaming cursor over one collection's documents.
type DocumentStream interface {
	// Next advances to the next document. False means exhaustion or error.
	Next(ctx context.Context) bool

	// Document returns the current raw document.
	Document() bson.Raw

	// Err returns the terminal stream error, if any.
	Err() error

	// Close releases the server-side cursor.
	Close(ctx context.Context) error
}

// Dialer establishes a connection to a source address.
type Dialer func(ctx context.Context, address string) (Conn, error)
