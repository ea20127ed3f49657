package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisLockerExclusive(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	locker := NewRedisLocker(client, time.Minute)
	key := StatementLockKey(uuid.MustParse("2f1b6a8e-6a43-4c38-9a0f-0d5b0f6f3e11"))
	require.Equal(t, "consol:statement:2f1b6a8e-6a43-4c38-9a0f-0d5b0f6f3e11:lock", key)

	first, err := locker.Acquire(ctx, key)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, key)
	require.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, first.Release(ctx))
	require.NoError(t, first.Release(ctx))

	second, err := locker.Acquire(ctx, key)
	require.NoError(t, err)
	require.NoError(t, second.Release(ctx))
}

func TestRedisLockerReleaseKeepsForeignToken(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	locker := NewRedisLocker(client, time.Second)
	lock, err := locker.Acquire(ctx, "consol:test:lock")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	other, err := locker.Acquire(ctx, "consol:test:lock")
	require.NoError(t, err)

	require.NoError(t, lock.Release(ctx))
	require.True(t, mr.Exists("consol:test:lock"))
	require.NoError(t, other.Release(ctx))
	require.False(t, mr.Exists("consol:test:lock"))
}

func TestRedisLockExtend(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	key := StatementLockKey(uuid.New())
	lock, err := NewRedisLocker(client, time.Minute).Acquire(ctx, key)
	require.NoError(t, err)
	require.Equal(t, time.Minute, lock.TTL())

	mr.FastForward(50 * time.Second)
	require.NoError(t, lock.Extend(ctx))
	mr.FastForward(50 * time.Second)
	require.True(t, mr.Exists(key))
	require.Equal(t, 10*time.Second, mr.TTL(key))

	mr.FastForward(time.Minute)
	require.False(t, mr.Exists(key))
	require.ErrorIs(t, lock.Extend(ctx), ErrLockLost)

	// A successor's key is never extended by the old holder.
	next, err := NewRedisLocker(client, time.Minute).Acquire(ctx, key)
	require.NoError(t, err)
	require.ErrorIs(t, lock.Extend(ctx), ErrLockLost)
	require.NoError(t, next.Extend(ctx))
}

func TestLocalLockerExclusive(t *testing.T) {
	ctx := context.Background()
	locker := NewLocalLocker()

	lock, err := locker.Acquire(ctx, "consol:local:lock")
	require.NoError(t, err)
	_, err = locker.Acquire(ctx, "consol:local:lock")
	require.ErrorIs(t, err, ErrLockHeld)

	other, err := locker.Acquire(ctx, "consol:other:lock")
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lock.Release(ctx))
	require.NoError(t, lock.Release(ctx))
	again, err := locker.Acquire(ctx, "consol:local:lock")
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}
