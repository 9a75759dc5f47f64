package repositories

import (
	"context"
	"fmt"

	"rtcstats/internal/core/ports"
	"rtcstats/internal/infrastructure/reliability"
	"rtcstats/internal/infrastructure/repositories/memory"
	mongorepo "rtcstats/internal/infrastructure/repositories/mongodb"
	redisrepo "rtcstats/internal/infrastructure/repositories/redis"
	"rtcstats/pkg/circuitbreaker"
	"rtcstats/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// RepositoryFactory creates the metadata store selected by configuration.
// With store.fallback_to_memory set, an unreachable remote backend is
// replaced by the memory store instead of failing startup.
type RepositoryFactory struct {
	backend     string
	mongoClient *mongo.Client
	redisClient *redis.Client
	cfg         *config.Config
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory creates a new repository factory
func NewRepositoryFactory(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		backend: cfg.Store.Backend,
		cfg:     cfg,
		logger:  logger,
	}

	switch cfg.Store.Backend {
	case config.BackendMongoDB:
		client, err := mongorepo.NewMongoClient(ctx, cfg.MongoDB.URI, cfg.MongoDB.ConnectTimeout, logger)
		if err != nil {
			if !cfg.Store.FallbackToMemory {
				return nil, fmt.Errorf("metadata store: %w", err)
			}
			logger.Warnw("failed to connect to MongoDB, falling back to memory metadata store",
				"error", err,
			)
			factory.backend = config.BackendMemory
		} else {
			factory.mongoClient = client
		}

	case config.BackendRedis:
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			if !cfg.Store.FallbackToMemory {
				return nil, fmt.Errorf("metadata store: %w", err)
			}
			logger.Warnw("failed to connect to Redis, falling back to memory metadata store",
				"error", err,
			)
			factory.backend = config.BackendMemory
		} else {
			factory.redisClient = client
		}
	}

	logger.Infow("using metadata store", "backend", factory.backend)
	return factory, nil
}

// Backend returns the backend actually in use.
func (f *RepositoryFactory) Backend() string {
	return f.backend
}

// CreateMetadataStore creates the metadata store for the active backend.
// Remote stores are guarded by a circuit breaker when one is configured.
func (f *RepositoryFactory) CreateMetadataStore() ports.MetadataStore {
	var store ports.MetadataStore
	switch {
	case f.mongoClient != nil:
		store = mongorepo.NewMongoMetadataRepository(f.mongoClient, f.cfg.MongoDB.DB, f.cfg.MongoDB.Collection, f.logger)
	case f.redisClient != nil:
		store = redisrepo.NewRedisMetadataRepository(f.redisClient, f.logger)
	default:
		return memory.NewMemoryMetadataRepository()
	}

	cb := f.cfg.Store.CircuitBreaker
	if !cb.Enabled {
		return store
	}
	return reliability.NewMetadataStoreWrapper(store, circuitbreaker.Config{
		FailureThreshold:    cb.FailureThreshold,
		SuccessThreshold:    cb.SuccessThreshold,
		Timeout:             cb.Timeout,
		MaxRequestsHalfOpen: 1,
	}, f.logger)
}

// Close closes remote connections if used
func (f *RepositoryFactory) Close(ctx context.Context) error {
	if f.mongoClient != nil {
		return f.mongoClient.Disconnect(ctx)
	}
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}

// HealthCheck pings the remote backend
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.mongoClient != nil {
		return f.mongoClient.Ping(ctx, nil)
	}
	if f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
