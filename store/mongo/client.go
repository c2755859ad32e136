// Package mongo provides the MongoDB adapters for the four repository
// capabilities. Selected at boot with DATABASE=mongo. Unlike the Firestore
// adapter there is no per-document size ceiling that matters in practice
// (BSON documents cap at 16 MiB), but the adapters run the same chunk
// planning so records stay portable across backends.
//
// Environment:
//
//	MONGO_URI        connection string (default mongodb://localhost:27017)
//	MONGO_DATABASE   database name (default typedai)
package mongo

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/typedai/typedai/telemetry"
)

const (
	agentsCollection       = "agent_contexts"
	llmCallsCollection     = "llm_calls"
	reviewConfigCollection = "code_review_configs"
	reviewCacheCollection  = "code_review_fingerprints"

	defaultURI       = "mongodb://localhost:27017"
	defaultDatabase  = "typedai"
	defaultOpTimeout = 5 * time.Second
)

type (
	// Options configures the Mongo adapters.
	Options struct {
		// URI is the connection string. Defaults to MONGO_URI, then
		// mongodb://localhost:27017.
		URI string
		// Database defaults to MONGO_DATABASE, then "typedai".
		Database string
		// Timeout bounds each store operation. Defaults to 5s.
		Timeout time.Duration
		// Logger receives adapter warnings. Defaults to a no-op.
		Logger telemetry.Logger
	}

	// Client bundles the Mongo connection shared by the adapters.
	Client struct {
		mongo   *mongodriver.Client
		db      *mongodriver.Database
		timeout time.Duration
		logger  telemetry.Logger
	}
)

// NewClient connects to MongoDB, pings the primary and ensures the indexes
// the adapters query on.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	uri := opts.URI
	if uri == "" {
		uri = os.Getenv("MONGO_URI")
	}
	if uri == "" {
		uri = defaultURI
	}
	database := opts.Database
	if database == "" {
		database = os.Getenv("MONGO_DATABASE")
	}
	if database == "" {
		database = defaultDatabase
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}

	mc, err := mongodriver.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo: connect %s: %w", uri, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := mc.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = mc.Disconnect(ctx)
		return nil, fmt.Errorf("mongo: ping %s: %w", uri, err)
	}

	c := &Client{mongo: mc, db: mc.Database(database), timeout: timeout, logger: logger}
	if err := c.ensureIndexes(ctx); err != nil {
		_ = mc.Disconnect(ctx)
		return nil, fmt.Errorf("mongo: ensure indexes: %w", err)
	}
	return c, nil
}

// Close disconnects from MongoDB.
func (c *Client) Close(ctx context.Context) error {
	return c.mongo.Disconnect(ctx)
}

// Ping reports connectivity to the primary.
func (c *Client) Ping(ctx context.Context) error {
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) ensureIndexes(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	agents := c.db.Collection(agentsCollection)
	for _, model := range []mongodriver.IndexModel{
		{Keys: bson.D{{Key: "user.id", Value: 1}, {Key: "lastUpdate", Value: -1}}},
		{Keys: bson.D{{Key: "state", Value: 1}, {Key: "lastUpdate", Value: -1}}},
	} {
		if _, err := agents.Indexes().CreateOne(ctx, model); err != nil {
			return err
		}
	}

	calls := c.db.Collection(llmCallsCollection)
	for _, model := range []mongodriver.IndexModel{
		{Keys: bson.D{{Key: "llmCallId", Value: 1}, {Key: "chunkIndex", Value: 1}}},
		{Keys: bson.D{{Key: "agentId", Value: 1}, {Key: "requestTime", Value: -1}}},
		{Keys: bson.D{{Key: "description", Value: 1}, {Key: "requestTime", Value: -1}}},
	} {
		if _, err := calls.Indexes().CreateOne(ctx, model); err != nil {
			return err
		}
	}
	return nil
}
