package history

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T, opts ...RedisOption) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err, "failed to start miniredis")
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStoreFromClient(client, opts...), mr
}

func TestRedisStoreSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t)

	snap := seededRecorder(3).Export()
	require.NoError(t, store.Save(ctx, "deploy-1", snap))

	got, err := store.Load(ctx, "deploy-1")
	require.NoError(t, err)
	assert.Len(t, got.Transitions, 3)
	assert.Len(t, got.Events, 3)
	assert.Equal(t, snap.Metrics.TransitionCount, got.Metrics.TransitionCount)
}

func TestRedisStoreLoadMissingReturnsNotFound(t *testing.T) {
	store, _ := newRedisStore(t)
	_, err := store.Load(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestRedisStoreListTracksSavedIDs(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t)

	snap := seededRecorder(1).Export()
	require.NoError(t, store.Save(ctx, "a", snap))
	require.NoError(t, store.Save(ctx, "b", snap))

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestRedisStoreDeleteRemovesValueAndIndex(t *testing.T) {
	ctx := context.Background()
	store, _ := newRedisStore(t)

	require.NoError(t, store.Save(ctx, "a", seededRecorder(1).Export()))
	require.NoError(t, store.Delete(ctx, "a"))

	_, err := store.Load(ctx, "a")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRedisStoreAppliesTTL(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t, WithTTL(time.Minute), WithPrefix("fsm:test:"))

	require.NoError(t, store.Save(ctx, "a", seededRecorder(1).Export()))
	ttl := mr.TTL("fsm:test:a")
	assert.Equal(t, time.Minute, ttl)

	mr.FastForward(2 * time.Minute)
	_, err := store.Load(ctx, "a")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}
