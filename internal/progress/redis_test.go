package progress

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sightline/internal/model"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := ConnectRedis(context.Background(), "redis://"+mr.Addr(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return mr, NewRedisStore(client, "", 2*time.Hour)
}

func TestRedisStore_RoundTrip(t *testing.T) {
	mr, s := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, model.Progress{
		TaskID: "t1", Status: model.TaskStatusProcessing, Stage: "Summarizing", Percent: 60, CorrelationID: "c-1",
	}))

	assert.True(t, mr.Exists(DefaultKeyPrefix+"t1"))
	assert.Equal(t, 2*time.Hour, mr.TTL(DefaultKeyPrefix+"t1"))

	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Summarizing", got.Stage)
	assert.Equal(t, 60, got.Percent)
	assert.Equal(t, "c-1", got.CorrelationID)
	assert.False(t, got.ExpiresAt.IsZero())
}

func TestRedisStore_ExpiresViaTTL(t *testing.T) {
	mr, s := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, model.Progress{TaskID: "t1", Status: model.TaskStatusCompleted, Percent: 100}))
	mr.FastForward(2*time.Hour + time.Second)

	_, err := s.Get(ctx, "t1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_Delete(t *testing.T) {
	_, s := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, model.Progress{TaskID: "t1"}))
	require.NoError(t, s.Delete(ctx, "t1"))
	_, err := s.Get(ctx, "t1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.Ping(ctx))
}

func TestRedisStore_CorruptRecord(t *testing.T) {
	mr, s := setupRedis(t)
	require.NoError(t, mr.Set(DefaultKeyPrefix+"bad", "{not json"))

	_, err := s.Get(context.Background(), "bad")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestConnectRedis_BadURL(t *testing.T) {
	_, err := ConnectRedis(context.Background(), "not-a-url://", "")
	assert.Error(t, err)
}
