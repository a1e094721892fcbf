//go:build integration

package mongostore_test

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/percona/percona-dbclone-mongodb/clone"
	"github.com/percona/percona-dbclone-mongodb/remote"
	"github.com/percona/percona-dbclone-mongodb/store/mongostore"
)

const testDB = "pdbc_test_clone"

var (
	sourceURI string
	targetURI string
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	image := os.Getenv("MONGO_IMAGE")
	if image == "" {
		image = "mongodb/mongodb-community-server:8.0-ubi8"
	}

	source, err := mongodb.Run(ctx, image)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start source container: %v\n", err)
		os.Exit(1)
	}

	target, err := mongodb.Run(ctx, image)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start target container: %v\n", err)
		_ = source.Terminate(ctx)
		os.Exit(1)
	}

	sourceURI, err = source.ConnectionString(ctx)
	if err == nil {
		targetURI, err = target.ConnectionString(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get connection string: %v\n", err)
		_ = source.Terminate(ctx)
		_ = target.Terminate(ctx)
		os.Exit(1)
	}

	code := m.Run()

	_ = source.Terminate(ctx)
	_ = target.Terminate(ctx)
	os.Exit(code)
}

func seedSource(t *testing.T, ctx context.Context) {
	t.Helper()

	client, err := mongo.Connect(options.Client().ApplyURI(sourceURI))
	require.NoError(t, err)

	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	require.NoError(t, client.Database(testDB).Drop(ctx))

	collA := client.Database(testDB).Collection("a")

	docs := make([]any, 300)
	for i := range docs {
		docs[i] = bson.D{{"_id", i}, {"x", i % 10}}
	}

	_, err = collA.InsertMany(ctx, docs)
	require.NoError(t, err)

	_, err = collA.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{"x", 1}}})
	require.NoError(t, err)

	err = client.Database(testDB).CreateCollection(ctx, "empty")
	require.NoError(t, err)
}

func TestCloneDatabase_EndToEnd(t *testing.T) {
	ctx := context.Background()
	seedSource(t, ctx)

	target, err := mongostore.Connect(ctx, targetURI)
	require.NoError(t, err)

	t.Cleanup(func() { _ = target.Close(context.Background()) })

	tclient, err := mongo.Connect(options.Client().ApplyURI(targetURI))
	require.NoError(t, err)

	t.Cleanup(func() { _ = tclient.Disconnect(context.Background()) })

	require.NoError(t, tclient.Database(testDB).Drop(ctx))

	cloner := clone.New(target.Node(), remote.Dial, nil)

	result, err := cloner.CloneDatabase(ctx, &clone.Request{
		SourceAddress: sourceURI,
		Database:      testDB,
	})
	require.NoError(t, err)

	assert.Equal(t,
		[]string{testDB + ".a", testDB + ".empty"},
		result.ClonedCollections)

	count, err := tclient.Database(testDB).Collection("a").
		CountDocuments(ctx, bson.D{})
	require.NoError(t, err)
	assert.EqualValues(t, 300, count)

	cur, err := tclient.Database(testDB).Collection("a").Indexes().List(ctx)
	require.NoError(t, err)

	var indexes []bson.Raw
	require.NoError(t, cur.All(ctx, &indexes))

	names := make([]string, 0, len(indexes))
	for _, spec := range indexes {
		if name, ok := spec.Lookup("name").StringValueOK(); ok {
			names = append(names, name)
		}
	}

	assert.Contains(t, names, "_id_")
	assert.Contains(t, names, "x_1")
}

func TestCloneDatabase_RerunFails(t *testing.T) {
	ctx := context.Background()
	seedSource(t, ctx)

	target, err := mongostore.Connect(ctx, targetURI)
	require.NoError(t, err)

	t.Cleanup(func() { _ = target.Close(context.Background()) })

	cloner := clone.New(target.Node(), remote.Dial, nil)

	req := &clone.Request{SourceAddress: sourceURI, Database: testDB}

	_, err = cloner.CloneDatabase(ctx, req)

	// the database already exists on the target from the previous test run
	// or from this first invocation; a clean run must succeed once
	if err == nil {
		cloner2 := clone.New(target.Node(), remote.Dial, nil)

		_, err = cloner2.CloneDatabase(ctx, req)
	}

	require.Error(t, err)
}
