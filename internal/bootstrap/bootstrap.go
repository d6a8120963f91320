// Package bootstrap wires the backend.Queue/Store/Blob primitives the two
// entrypoints (cmd/jobctl-server, cmd/jobctl-conductor) both need, so each
// main.go stays a thin composition root rather than duplicating client
// construction (spec §1 "four external primitives").
package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/jobctl/jobctl/features/blob/fsblob"
	"github.com/jobctl/jobctl/features/queue/redisqueue"
	"github.com/jobctl/jobctl/features/store/mongostore"
	"github.com/jobctl/jobctl/internal/config"
	"github.com/jobctl/jobctl/runtime/tenant"
)

// Backends bundles the concrete primitives an entrypoint needs, plus the
// mongo client so callers can close it on shutdown.
type Backends struct {
	Mongo          *mongo.Client
	Redis          *redis.Client
	Queue          *redisqueue.Queue
	JobStore       *mongostore.JobStore
	ConductorStore *mongostore.ConductorStore
	Blob           *fsblob.Blob
	Resolver       *tenant.StaticResolver
}

// Dial connects to Redis and MongoDB and builds every backend.Queue/Store/
// Blob adapter from cfg.
func Dial(ctx context.Context, cfg *config.Config) (*Backends, error) {
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisURL, Password: cfg.RedisPassword})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	queue, err := redisqueue.New(redisqueue.Options{Client: redisClient})
	if err != nil {
		return nil, fmt.Errorf("build redis queue: %w", err)
	}

	mongoClient, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := mongoClient.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	db := mongoClient.Database(cfg.MongoDBName)
	jobStore, err := mongostore.NewJobStore(db.Collection("jobs"))
	if err != nil {
		return nil, fmt.Errorf("build job store: %w", err)
	}
	conductorStore, err := mongostore.NewConductorStore(
		db.Collection("runs"), db.Collection("node_executions"), db.Collection("decisions"),
	)
	if err != nil {
		return nil, fmt.Errorf("build conductor store: %w", err)
	}

	blob, err := fsblob.New(cfg.WorkspaceRoot + "/blobs")
	if err != nil {
		return nil, fmt.Errorf("build blob store: %w", err)
	}

	resolver, err := tenant.NewStaticResolver(cfg.TenantCredentials, cfg.AuthDisabled)
	if err != nil {
		return nil, fmt.Errorf("build tenant resolver: %w", err)
	}

	return &Backends{
		Mongo: mongoClient, Redis: redisClient,
		Queue: queue, JobStore: jobStore, ConductorStore: conductorStore,
		Blob: blob, Resolver: resolver,
	}, nil
}

// Close releases the underlying network clients.
func (b *Backends) Close(ctx context.Context) {
	_ = b.Redis.Close()
	_ = b.Mongo.Disconnect(ctx)
}
