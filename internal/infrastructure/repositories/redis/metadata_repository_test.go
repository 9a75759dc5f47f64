package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"rtcstats/internal/core/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDoc(clientID string) *domain.PersistedMetadata {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	base, _ := domain.SplitClientID(clientID)
	return &domain.PersistedMetadata{
		SessionMetadata: domain.SessionMetadata{
			ClientID:     clientID,
			ConferenceID: "room",
			StartDate:    start,
			EndDate:      start.Add(time.Hour),
		},
		BaseDumpID: base,
		DumpID:     domain.DumpID(clientID),
	}
}

func TestRecordKey_DependsOnlyOnUniqueFields(t *testing.T) {
	repo := NewRedisMetadataRepository(nil, nil)

	a := testDoc("abc")
	b := testDoc("abc")
	b.Extra = map[string]interface{}{"browser": "firefox"}
	c := testDoc("abc_1")

	assert.Equal(t, repo.recordKey(a), repo.recordKey(b))
	assert.NotEqual(t, repo.recordKey(a), repo.recordKey(c))
	assert.Contains(t, repo.recordKey(a), "rtcstats:metadata:doc:")
}

func TestRedisMetadataRepository_SeparatorInFieldIsNotDuplicate(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.EnsureIndexes(ctx))

	first := testDoc("abc")
	first.UserID = "alice\x00meet"

	second := testDoc("abc")
	second.UserID = "alice"
	second.App = "meet"

	assert.NotEqual(t, repo.recordKey(first), repo.recordKey(second))
	require.NoError(t, repo.InsertOne(ctx, first))
	require.NoError(t, repo.InsertOne(ctx, second))

	docs, err := repo.FindByBaseDumpID(ctx, "abc")
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func newTestRepo(t *testing.T) (*RedisMetadataRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisMetadataRepository(client, nil), mr
}

func TestRedisMetadataRepository_DuplicateKey(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.EnsureIndexes(ctx))
	require.NoError(t, repo.InsertOne(ctx, testDoc("abc")))

	err := repo.InsertOne(ctx, testDoc("abc"))
	assert.True(t, errors.Is(err, domain.ErrDuplicateKey), "got %v", err)

	require.NoError(t, repo.InsertOne(ctx, testDoc("abc_1")))

	docs, err := repo.FindByBaseDumpID(ctx, "abc")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "abc.gz", docs[0].DumpID)
	assert.Equal(t, "abc_1.gz", docs[1].DumpID)

	none, err := repo.FindByBaseDumpID(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMigrate_PinsUniqueIndex(t *testing.T) {
	repo, mr := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.EnsureIndexes(ctx))
	version, err := mr.Get(schemaVersionKey)
	require.NoError(t, err)
	assert.Equal(t, "1", version)

	// Running again is a no-op.
	require.NoError(t, repo.EnsureIndexes(ctx))

	require.NoError(t, mr.Set(uniqueIndexKey, "clientId"))
	assert.Error(t, repo.EnsureIndexes(ctx))
}

func TestRedisMetadataRepository_ServerDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	repo := NewRedisMetadataRepository(client, nil)
	mr.Close()

	err = repo.InsertOne(context.Background(), testDoc("abc"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrDuplicateKey))
}

func TestNewRedisClient(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client, err := NewRedisClient(mr.Addr(), "", 0, 4, nil)
	require.NoError(t, err)
	assert.NoError(t, CloseRedisClient(client))

	addr := mr.Addr()
	mr.Close()
	_, err = NewRedisClient(addr, "", 0, 4, nil)
	assert.Error(t, err)
}
