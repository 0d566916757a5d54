package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertMutualExclusion(t *testing.T, l Locker, key string) {
	t.Helper()
	var (
		inside  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), key)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxSeen))
}

func TestLocalMutualExclusion(t *testing.T) {
	assertMutualExclusion(t, NewLocal(), "identity-1")
}

func TestLocalIndependentKeys(t *testing.T) {
	l := NewLocal()
	releaseA, err := l.Acquire(context.Background(), "a")
	require.NoError(t, err)
	defer releaseA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	releaseB, err := l.Acquire(ctx, "b")
	require.NoError(t, err)
	releaseB()
}

func TestLocalAcquireRespectsContext(t *testing.T) {
	l := NewLocal()
	release, err := l.Acquire(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release() // second call is a no-op

	again, err := l.Acquire(context.Background(), "a")
	require.NoError(t, err)
	again()
	assert.Empty(t, l.slots)
}

func setupRedis(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	t.Cleanup(func() {
		if err := client.FlushDB(ctx).Err(); err != nil {
			t.Logf("failed to flush redis test DB: %v", err)
		}
		_ = client.Close()
	})
	return client
}

func TestRedisMutualExclusion(t *testing.T) {
	client := setupRedis(t)
	l := NewRedis(client, time.Minute)
	l.PollInterval = 2 * time.Millisecond
	assertMutualExclusion(t, l, "identity-1")
}

func TestRedisReleaseOnlyOwnToken(t *testing.T) {
	client := setupRedis(t)
	l := NewRedis(client, time.Minute)
	ctx := context.Background()

	release, err := l.Acquire(ctx, "identity-2")
	require.NoError(t, err)

	// simulate expiry and takeover by another holder
	require.NoError(t, client.Set(ctx, l.Prefix+"identity-2", "someone-else", time.Minute).Err())
	release()

	val, err := client.Get(ctx, l.Prefix+"identity-2").Result()
	require.NoError(t, err)
	assert.Equal(t, "someone-else", val)
}

func TestRedisLockOutlivesTTL(t *testing.T) {
	client := setupRedis(t)
	l := NewRedis(client, 150*time.Millisecond)
	l.PollInterval = 5 * time.Millisecond
	ctx := context.Background()
	key := l.Prefix + "identity-3"

	release, err := l.Acquire(ctx, "identity-3")
	require.NoError(t, err)

	// several TTLs pass while the holder is still working
	time.Sleep(600 * time.Millisecond)

	n, err := client.Exists(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(waitCtx, "identity-3")
	assert.Error(t, err, "lock was taken over while still held")

	release()
	n, err = client.Exists(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	next, err := l.Acquire(ctx, "identity-3")
	require.NoError(t, err)
	next()
}
