package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rtcstats/internal/core/domain"
	"rtcstats/internal/core/ports"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const uniqueIndexName = "metadata_unique_session"

// MongoMetadataRepository stores metadata documents in one collection
// guarded by a compound unique index.
type MongoMetadataRepository struct {
	collection *mongo.Collection
	logger     *zap.SugaredLogger
}

var _ ports.MetadataStore = (*MongoMetadataRepository)(nil)

// NewMongoClient connects and pings the server.
func NewMongoClient(ctx context.Context, uri string, timeout time.Duration, logger *zap.SugaredLogger) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetConnectTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	if logger != nil {
		logger.Infow("connected to MongoDB")
	}
	return client, nil
}

func NewMongoMetadataRepository(client *mongo.Client, db, collection string, logger *zap.SugaredLogger) *MongoMetadataRepository {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &MongoMetadataRepository{
		collection: client.Database(db).Collection(collection),
		logger:     logger,
	}
}

// EnsureIndexes creates the compound unique index the collision protocol
// relies on. Creating an identical index again is a no-op on the server.
func (r *MongoMetadataRepository) EnsureIndexes(ctx context.Context) error {
	keys := bson.D{}
	for _, field := range domain.UniqueIndexFields {
		keys = append(keys, bson.E{Key: field, Value: 1})
	}

	name, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    keys,
		Options: options.Index().SetUnique(true).SetName(uniqueIndexName),
	})
	if err != nil {
		return fmt.Errorf("failed to create unique index: %w", err)
	}

	r.logger.Infow("metadata unique index ready", "index", name)
	return nil
}

func (r *MongoMetadataRepository) InsertOne(ctx context.Context, doc *domain.PersistedMetadata) error {
	_, err := r.collection.InsertOne(ctx, doc)
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("metadata %s: %w: %v", doc.DumpID, domain.ErrDuplicateKey, err)
	}
	return fmt.Errorf("failed to insert metadata %s: %w", doc.DumpID, err)
}

func (r *MongoMetadataRepository) FindByBaseDumpID(ctx context.Context, baseDumpID string) ([]*domain.PersistedMetadata, error) {
	cursor, err := r.collection.Find(ctx,
		bson.M{"baseDumpId": baseDumpID},
		options.Find().SetSort(bson.D{{Key: "dumpId", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query metadata: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []*domain.PersistedMetadata
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return docs, nil
}

// Ping reports whether the server is reachable.
func (r *MongoMetadataRepository) Ping(ctx context.Context) error {
	err := r.collection.Database().Client().Ping(ctx, nil)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("mongodb ping timed out: %w", err)
	}
	return err
}
