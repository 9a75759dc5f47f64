package redis

import (
	"context"
	"fmt"
	"strings"

	"rtcstats/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	schemaVersionKey     = "rtcstats:schema:version"
	uniqueIndexKey       = "rtcstats:metadata:index"
	currentSchemaVersion = 1
)

// Migration represents a keyspace migration
type Migration struct {
	Version int
	Up      func(ctx context.Context, client redis.Cmdable) error
}

// Migrate runs all pending migrations
func Migrate(ctx context.Context, client redis.Cmdable, logger *zap.SugaredLogger) error {
	currentVersion, err := getSchemaVersion(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	if currentVersion >= currentSchemaVersion {
		if logger != nil {
			logger.Debugw("schema is up to date",
				"current_version", currentVersion,
				"target_version", currentSchemaVersion,
			)
		}
		return verifyUniqueIndex(ctx, client)
	}

	for _, migration := range getMigrations() {
		if migration.Version <= currentVersion {
			continue
		}

		if logger != nil {
			logger.Infow("running migration", "version", migration.Version)
		}

		if err := migration.Up(ctx, client); err != nil {
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}

		if err := setSchemaVersion(ctx, client, migration.Version); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
	}

	return nil
}

func getSchemaVersion(ctx context.Context, client redis.Cmdable) (int, error) {
	val, err := client.Get(ctx, schemaVersionKey).Int()
	if err == redis.Nil {
		return 0, nil // No version set, start from 0
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func setSchemaVersion(ctx context.Context, client redis.Cmdable, version int) error {
	return client.Set(ctx, schemaVersionKey, version, 0).Err()
}

// uniqueIndexDefinition names the field list and its key encoding. Record
// keys hashed under another definition would never collide with new ones.
func uniqueIndexDefinition() string {
	return "length-prefixed:" + strings.Join(domain.UniqueIndexFields, ",")
}

// verifyUniqueIndex refuses to run against a keyspace whose record keys were
// hashed from a different field list.
func verifyUniqueIndex(ctx context.Context, client redis.Cmdable) error {
	stored, err := client.Get(ctx, uniqueIndexKey).Result()
	if err == redis.Nil {
		return fmt.Errorf("unique index definition missing from %s", uniqueIndexKey)
	}
	if err != nil {
		return err
	}
	if stored != uniqueIndexDefinition() {
		return fmt.Errorf("unique index mismatch: stored %q, expected %q", stored, uniqueIndexDefinition())
	}
	return nil
}

// getMigrations returns all migrations in order
func getMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Up: func(ctx context.Context, client redis.Cmdable) error {
				// Record keys are hashes of the unique field list; pin the list.
				ok, err := client.SetNX(ctx, uniqueIndexKey, uniqueIndexDefinition(), 0).Result()
				if err != nil {
					return err
				}
				if !ok {
					return verifyUniqueIndex(ctx, client)
				}
				return nil
			},
		},
	}
}
