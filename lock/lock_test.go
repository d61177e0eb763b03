package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalExclusive(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := l.Acquire(ctx, "wal_1")
			if !assert.NoError(t, err) {
				return
			}

			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)

			assert.NoError(t, lease.Release(ctx))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Empty(t, l.keys)
}

func TestLocalContextTimeout(t *testing.T) {
	l := NewLocal()
	lease, err := l.Acquire(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "k")
	assert.ErrorIs(t, err, ErrNotAcquired)

	require.NoError(t, lease.Release(context.Background()))
	assert.ErrorIs(t, lease.Release(context.Background()), ErrNotHeld)

	// Other keys are independent.
	other, err := l.Acquire(context.Background(), "other")
	require.NoError(t, err)
	require.NoError(t, other.Release(context.Background()))
}

func TestRedisLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := NewRedis(client, WithTTL(time.Minute), WithRetryInterval(5*time.Millisecond))
	ctx := context.Background()

	lease, err := l.Acquire(ctx, "wal_1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("billing:lock:wal_1"))

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(waitCtx, "wal_1")
	assert.ErrorIs(t, err, ErrNotAcquired)

	require.NoError(t, lease.Release(ctx))
	assert.False(t, mr.Exists("billing:lock:wal_1"))

	again, err := l.Acquire(ctx, "wal_1")
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestRedisLockExpired(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := NewRedis(client, WithTTL(time.Second))
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "wal_1")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	fresh, err := l.Acquire(ctx, "wal_1")
	require.NoError(t, err)

	// The expired holder must not release the new lease.
	assert.ErrorIs(t, stale.Release(ctx), ErrNotHeld)
	assert.True(t, mr.Exists("billing:lock:wal_1"))
	require.NoError(t, fresh.Release(ctx))
}

func TestRedisLockConnectionError(t *testing.T) {
	client, mock := redismock.NewClientMock()

	mock.CustomMatch(func(expected, actual []interface{}) error {
		if len(actual) < 2 || actual[0] != expected[0] || actual[1] != expected[1] {
			return errors.New("unexpected command")
		}
		return nil
	}).ExpectSetNX("billing:lock:wal_1", "token", 30*time.Second).SetErr(errors.New("connection refused"))

	l := NewRedis(client)
	_, err := l.Acquire(context.Background(), "wal_1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotAcquired)
	assert.Contains(t, err.Error(), "connection refused")
	assert.NoError(t, mock.ExpectationsWereMet())
}
