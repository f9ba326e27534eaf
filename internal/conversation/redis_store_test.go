package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisStoreFromClient(client, "")
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	conv := New("sys")
	conv.Append(
		Message{Role: RoleUser, Text: "ping"},
		Message{Role: RoleAssistant, Text: "pong"},
	)
	require.NoError(t, store.SaveSnapshot(ctx, conv, TagOrdinary))

	loaded := store.LoadLatest(ctx, "sys")
	require.Equal(t, 3, loaded.Len())
	assert.Equal(t, "pong", loaded.Messages[2].Text)
}

func TestRedisStorePicksNewestAndForcesPrompt(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	first := New("old")
	first.Append(Message{Role: RoleUser, Text: "first"})
	require.NoError(t, store.SaveSnapshot(ctx, first, TagOrdinary))

	time.Sleep(5 * time.Millisecond)

	second := New("old")
	second.Append(Message{Role: RoleUser, Text: "second"})
	require.NoError(t, store.SaveSnapshot(ctx, second, TagOrdinary))

	loaded := store.LoadLatest(ctx, "current")
	assert.Equal(t, "second", loaded.Messages[1].Text)
	assert.Equal(t, "current", loaded.Messages[0].Text)
}

func TestRedisStoreIgnoresNonOrdinaryTags(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	quota := New("sys")
	quota.Append(Message{Role: RoleUser, Text: "doomed"})
	require.NoError(t, store.SaveSnapshot(ctx, quota, TagQuota))

	loaded := store.LoadLatest(ctx, "sys")
	assert.Equal(t, 1, loaded.Len())
}

func TestRedisStoreNeverOverwrites(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	const saves = 200
	conv := New("sys")
	for i := 0; i < saves; i++ {
		require.NoError(t, store.SaveSnapshot(ctx, conv, TagOrdinary))
	}

	keys, err := store.client.Keys(ctx, store.prefix+string(TagOrdinary)+"*").Result()
	require.NoError(t, err)
	assert.Len(t, keys, saves, "same-millisecond saves must not share a key")
}

func TestRedisStoreEmptyYieldsFreshConversation(t *testing.T) {
	store := newTestRedisStore(t)

	loaded := store.LoadLatest(context.Background(), "sys")
	assert.Equal(t, 1, loaded.Len())
	assert.Equal(t, RoleSystem, loaded.Messages[0].Role)
}
