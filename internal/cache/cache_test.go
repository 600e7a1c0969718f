package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/Additional-Code/erpsync/internal/config"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestRedisStore(t *testing.T) {
	srv, client := newRedis(t)
	store := NewRedisStore(client, time.Minute)
	ctx := context.Background()

	_, err := store.Get(ctx, "marker")
	require.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, store.Set(ctx, "marker", []byte("2024-05-01 09:30:00"), 0))
	got, err := store.Get(ctx, "marker")
	require.NoError(t, err)
	require.Equal(t, "2024-05-01 09:30:00", string(got))
	require.Equal(t, time.Minute, srv.TTL("marker"))

	require.NoError(t, store.Delete(ctx, "marker"))
	_, err = store.Get(ctx, "marker")
	require.ErrorIs(t, err, ErrCacheMiss)

	require.Error(t, store.Set(ctx, "", []byte("x"), 0))

	require.NoError(t, store.Set(ctx, "erpsync:last_sync_time", []byte("x"), Persist))
	require.Zero(t, srv.TTL("erpsync:last_sync_time"))
	require.True(t, srv.Exists("erpsync:last_sync_time"))
}

func TestNoopStoreAlwaysMisses(t *testing.T) {
	store := NoopStore()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	_, err := store.Get(ctx, "k")
	require.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisLocker(t *testing.T) {
	srv, client := newRedis(t)
	locker := NewRedisLocker(client)
	ctx := context.Background()

	lock, err := locker.Obtain(ctx, "erpsync:batch", time.Minute)
	require.NoError(t, err)

	_, err = locker.Obtain(ctx, "erpsync:batch", time.Minute)
	require.ErrorIs(t, err, ErrLockHeld)

	other, err := locker.Obtain(ctx, "erpsync:order:SO-1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lock.Release(ctx))
	lock, err = locker.Obtain(ctx, "erpsync:batch", time.Second)
	require.NoError(t, err)

	srv.FastForward(2 * time.Second)
	_, err = locker.Obtain(ctx, "erpsync:batch", time.Minute)
	require.NoError(t, err)
}

func TestLocalLocker(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	locker := &localLocker{held: make(map[string]localLease), clock: func() time.Time { return now }}
	ctx := context.Background()

	first, err := locker.Obtain(ctx, "erpsync:batch", time.Minute)
	require.NoError(t, err)
	_, err = locker.Obtain(ctx, "erpsync:batch", time.Minute)
	require.ErrorIs(t, err, ErrLockHeld)

	now = now.Add(2 * time.Minute)
	second, err := locker.Obtain(ctx, "erpsync:batch", time.Minute)
	require.NoError(t, err)

	// releasing the expired lease leaves the new holder in place
	require.NoError(t, first.Release(ctx))
	_, err = locker.Obtain(ctx, "erpsync:batch", time.Minute)
	require.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, second.Release(ctx))
	_, err = locker.Obtain(ctx, "erpsync:batch", time.Minute)
	require.NoError(t, err)
}

func TestNewSelectsDriver(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	backend, err := New(lc, config.Config{Cache: config.Cache{Driver: "noop"}}, zap.NewNop())
	require.NoError(t, err)
	require.IsType(t, noopStore{}, backend.Store)
	require.IsType(t, &localLocker{}, backend.Locker)

	_, err = New(lc, config.Config{Cache: config.Cache{Driver: "memcached"}}, zap.NewNop())
	require.Error(t, err)
}
