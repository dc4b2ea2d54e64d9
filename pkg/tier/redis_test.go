package tier

import (
	"context"
	"testing"
	"time"

	"github.com/oakmist/strata/pkg/entry"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRedis connects to a local Redis on a scratch database, skipping the test when no server
// is available.
func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available, skipping: %v", err)
	}
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		_ = client.Close()
	})
	return NewRedisFromClient(client)
}

func TestRedis_PutAndTryGet(t *testing.T) {
	ctx := context.Background()
	remote := newTestRedis(t)

	_, found, err := remote.TryGet(ctx, "va:user-1:latest")
	require.NoError(t, err)
	assert.False(t, found)

	stored := entry.New([]byte("analysis"), time.Minute, 3)
	require.NoError(t, remote.Put(ctx, "va:user-1:latest", stored))

	got, found, err := remote.TryGet(ctx, "va:user-1:latest")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, stored.Payload, got.Payload)
	assert.Equal(t, stored.Insights, got.Insights)
}

func TestRedis_RemoveByPrefix(t *testing.T) {
	ctx := context.Background()
	remote := newTestRedis(t)
	for _, key := range []string{"rec:user-1:a", "rec:user-1:b", "rec:user-2:a"} {
		require.NoError(t, remote.Put(ctx, key, entry.New(nil, time.Minute, 1)))
	}

	removed, err := remote.RemoveByPrefix(ctx, "rec:user-1:")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	keys, err := remote.ListKeys(ctx, "rec:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"rec:user-2:a"}, keys)
}

func TestRedis_CorruptEntryIsDeletedEagerly(t *testing.T) {
	ctx := context.Background()
	remote := newTestRedis(t)
	// Plant bytes that don't decode as an envelope.
	require.NoError(t, remote.client.Set(ctx, "ca:user-1:stats", "garbage", time.Minute).Err())

	_, found, err := remote.TryGet(ctx, "ca:user-1:stats")
	require.NoError(t, err)
	assert.False(t, found)

	exists, err := remote.client.Exists(ctx, "ca:user-1:stats").Result()
	require.NoError(t, err)
	assert.Zero(t, exists, "Corrupt entry should have been deleted")
}
