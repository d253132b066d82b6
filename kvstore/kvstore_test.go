package kvstore_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradepulse/go-auth"
	"github.com/tradepulse/go-auth/kvstore"
)

func exerciseStore(t *testing.T, store auth.KeyValueStore) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := store.Get(ctx, auth.KeyCurrentToken)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, auth.KeyCurrentToken, "token-1"))
	v, ok, err := store.Get(ctx, auth.KeyCurrentToken)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "token-1", v)

	require.NoError(t, store.Set(ctx, auth.KeyCurrentToken, "token-2"))
	v, _, err = store.Get(ctx, auth.KeyCurrentToken)
	require.NoError(t, err)
	assert.Equal(t, "token-2", v)

	require.NoError(t, store.Remove(ctx, auth.KeyCurrentToken))
	_, ok, err = store.Get(ctx, auth.KeyCurrentToken)
	require.NoError(t, err)
	assert.False(t, ok)

	// removing a missing key is not an error
	require.NoError(t, store.Remove(ctx, auth.KeyCurrentToken))
}

func TestMemoryStore(t *testing.T) {
	store := kvstore.NewMemory()
	exerciseStore(t, store)
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStoreHonoursCancelledContext(t *testing.T) {
	store := kvstore.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, store.Set(ctx, "k", "v"), context.Canceled)
	_, _, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	store, err := kvstore.ConnectRedis(context.Background(), kvstore.RedisConfig{
		Addr:   addr,
		Prefix: "tradeauth-test:" + uuid.NewString() + ":",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	exerciseStore(t, store)
}
