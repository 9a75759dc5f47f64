package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"rtcstats/internal/core/domain"
	"rtcstats/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisMetadataRepository stores one key per composite unique key. SET NX
// is the atomic check-and-insert; a second writer of the same key loses.
type RedisMetadataRepository struct {
	client redis.Cmdable
	prefix string
	logger *zap.SugaredLogger
}

var _ ports.MetadataStore = (*RedisMetadataRepository)(nil)

func NewRedisMetadataRepository(client redis.Cmdable, logger *zap.SugaredLogger) *RedisMetadataRepository {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RedisMetadataRepository{
		client: client,
		prefix: "rtcstats:metadata:",
		logger: logger,
	}
}

// recordKey hashes the composite key so that arbitrary field content maps to
// a fixed size key.
func (r *RedisMetadataRepository) recordKey(doc *domain.PersistedMetadata) string {
	sum := sha256.Sum256([]byte(doc.CompositeKey()))
	return r.prefix + "doc:" + hex.EncodeToString(sum[:])
}

func (r *RedisMetadataRepository) baseKey(baseDumpID string) string {
	return r.prefix + "base:" + baseDumpID
}

func (r *RedisMetadataRepository) EnsureIndexes(ctx context.Context) error {
	return Migrate(ctx, r.client, r.logger)
}

func (r *RedisMetadataRepository) InsertOne(ctx context.Context, doc *domain.PersistedMetadata) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	key := r.recordKey(doc)
	created, err := r.client.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to set metadata in Redis: %w", err)
	}
	if !created {
		return fmt.Errorf("metadata %s: %w", doc.DumpID, domain.ErrDuplicateKey)
	}

	// The record is already durable; the base index only serves lookups.
	if err := r.client.SAdd(ctx, r.baseKey(doc.BaseDumpID), key).Err(); err != nil {
		r.logger.Warnw("failed to index metadata by base dump id",
			"dump_id", doc.DumpID,
			"error", err,
		)
	}

	return nil
}

func (r *RedisMetadataRepository) FindByBaseDumpID(ctx context.Context, baseDumpID string) ([]*domain.PersistedMetadata, error) {
	keys, err := r.client.SMembers(ctx, r.baseKey(baseDumpID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list metadata keys: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata from Redis: %w", err)
	}

	docs := make([]*domain.PersistedMetadata, 0, len(values))
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var doc domain.PersistedMetadata
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		docs = append(docs, &doc)
	}

	sort.Slice(docs, func(i, j int) bool {
		return docs[i].DumpID < docs[j].DumpID
	})
	return docs, nil
}
