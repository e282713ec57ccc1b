package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySnapshotStore_SaveAssignsIncreasingVersions(t *testing.T) {
	ss := NewMemorySnapshotStore()
	ctx := context.Background()

	v1, err := ss.Save(ctx, "order-1", json.RawMessage(`{"status":"created"}`), 10)
	require.NoError(t, err)
	v2, err := ss.Save(ctx, "order-1", json.RawMessage(`{"status":"shipped"}`), 20)
	require.NoError(t, err)

	assert.Equal(t, 1, v1)
	assert.Equal(t, 2, v2)

	// Independent numbering per aggregate
	v, err := ss.Save(ctx, "order-2", json.RawMessage(`{}`), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestMemorySnapshotStore_GetLatest(t *testing.T) {
	ss := NewMemorySnapshotStore()
	ctx := context.Background()

	snap, err := ss.GetLatest(ctx, "order-1")
	require.NoError(t, err)
	assert.Nil(t, snap)

	_, err = ss.Save(ctx, "order-1", json.RawMessage(`{"n":1}`), 10)
	require.NoError(t, err)
	_, err = ss.Save(ctx, "order-1", json.RawMessage(`{"n":2}`), 20)
	require.NoError(t, err)

	snap, err = ss.GetLatest(ctx, "order-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 20, snap.LastEventSequence)
	assert.Equal(t, 2, snap.SnapshotVersion)
	assert.JSONEq(t, `{"n":2}`, string(snap.State))
	assert.False(t, snap.CreatedAt.IsZero())
}

func TestMemorySnapshotStore_DeleteOlderThan_KeepCount(t *testing.T) {
	ss := NewMemorySnapshotStore()
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := ss.Save(ctx, "order-1", json.RawMessage(`{}`), i*10)
		require.NoError(t, err)
	}

	deleted, err := ss.DeleteOlderThan(ctx, "order-1", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	snap, err := ss.GetLatest(ctx, "order-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 50, snap.LastEventSequence)
}

func TestMemorySnapshotStore_DeleteOlderThan_NeverDeletesLatest(t *testing.T) {
	ss := NewMemorySnapshotStore()
	ctx := context.Background()

	_, err := ss.Save(ctx, "order-1", json.RawMessage(`{}`), 10)
	require.NoError(t, err)

	// Aggressive retention: zero keep count, zero max age
	deleted, err := ss.DeleteOlderThan(ctx, "order-1", 0, time.Nanosecond)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)

	snap, err := ss.GetLatest(ctx, "order-1")
	require.NoError(t, err)
	assert.NotNil(t, snap)
}

func TestMemorySnapshotStore_DeleteOlderThan_MaxAge(t *testing.T) {
	ss := NewMemorySnapshotStore()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := ss.Save(ctx, "order-1", json.RawMessage(`{}`), i*10)
		require.NoError(t, err)
	}

	// Everything is newer than an hour, so a large keep count deletes nothing.
	deleted, err := ss.DeleteOlderThan(ctx, "order-1", 10, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)

	// Everything but the latest is older than a nanosecond-age cutoff.
	time.Sleep(2 * time.Millisecond)
	deleted, err = ss.DeleteOlderThan(ctx, "order-1", 10, time.Nanosecond)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
}

func TestMemorySnapshotStore_DeleteAll(t *testing.T) {
	ss := NewMemorySnapshotStore()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := ss.Save(ctx, "order-1", json.RawMessage(`{}`), i*10)
		require.NoError(t, err)
	}

	deleted, err := ss.DeleteAll(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	snap, err := ss.GetLatest(ctx, "order-1")
	require.NoError(t, err)
	assert.Nil(t, snap)
}
