package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDoc struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func newTestRedisStore(t *testing.T) *RedisReadStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisReadStore(client, "test")
}

func TestRedisReadStore_SetGet(t *testing.T) {
	rs := newTestRedisStore(t)
	ctx := context.Background()

	err := rs.Set(ctx, "orders", "order-1", testDoc{ID: "order-1", Status: "created"})
	require.NoError(t, err)

	var doc testDoc
	found, err := rs.Get(ctx, "orders", "order-1", &doc)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "created", doc.Status)

	found, err = rs.Get(ctx, "orders", "missing", &doc)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisReadStore_SetIsUpsert(t *testing.T) {
	rs := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, rs.Set(ctx, "orders", "order-1", testDoc{ID: "order-1", Status: "created"}))
	require.NoError(t, rs.Set(ctx, "orders", "order-1", testDoc{ID: "order-1", Status: "shipped"}))

	docs, err := rs.List(ctx, "orders")
	require.NoError(t, err)
	require.Len(t, docs, 1)

	var doc testDoc
	found, err := rs.Get(ctx, "orders", "order-1", &doc)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "shipped", doc.Status)
}

func TestRedisReadStore_DeleteAndClear(t *testing.T) {
	rs := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, rs.Set(ctx, "orders", "order-1", testDoc{ID: "order-1"}))
	require.NoError(t, rs.Set(ctx, "orders", "order-2", testDoc{ID: "order-2"}))
	require.NoError(t, rs.Set(ctx, "products", "prod-1", testDoc{ID: "prod-1"}))

	require.NoError(t, rs.Delete(ctx, "orders", "order-1"))
	docs, err := rs.List(ctx, "orders")
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	require.NoError(t, rs.Clear(ctx, "orders"))
	docs, err = rs.List(ctx, "orders")
	require.NoError(t, err)
	assert.Empty(t, docs)

	// Other collections untouched
	docs, err = rs.List(ctx, "products")
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}
