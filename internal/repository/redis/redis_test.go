package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestViewGate_FirstInWindow(t *testing.T) {
	mr, rdb := newTestClient(t)
	g := &ViewGate{RDB: rdb}
	ctx := context.Background()

	first, err := g.FirstInWindow(ctx, 1, 2, time.Hour)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := g.FirstInWindow(ctx, 1, 2, time.Hour)
	require.NoError(t, err)
	assert.False(t, again)

	other, err := g.FirstInWindow(ctx, 1, 3, time.Hour)
	require.NoError(t, err)
	assert.True(t, other, "windows are per user")

	mr.FastForward(time.Hour + time.Second)
	expired, err := g.FirstInWindow(ctx, 1, 2, time.Hour)
	require.NoError(t, err)
	assert.True(t, expired)

	require.NoError(t, g.Forget(ctx, 1, 2))
	reopened, err := g.FirstInWindow(ctx, 1, 2, time.Hour)
	require.NoError(t, err)
	assert.True(t, reopened)
}

func TestDistLock_ReleaseOnlyOwnToken(t *testing.T) {
	_, rdb := newTestClient(t)
	l := &DistLock{RDB: rdb, TTL: time.Minute}
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "reconcile", "a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Acquire(ctx, "reconcile", "b")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Release(ctx, "reconcile", "b"))
	ok, err = l.Acquire(ctx, "reconcile", "b")
	require.NoError(t, err)
	assert.False(t, ok, "foreign token must not release the lock")

	require.NoError(t, l.Release(ctx, "reconcile", "a"))
	ok, err = l.Acquire(ctx, "reconcile", "b")
	require.NoError(t, err)
	assert.True(t, ok)
}
