package lock

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestRedisLocker_AcquireRelease(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	locker := NewRedisLocker(client, 5*time.Second, zap.NewNop())
	key := "listing:" + uuid.NewString()

	release, err := locker.Acquire(ctx, key, time.Second)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, key, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockTimeout)

	release()
	exists, _ := client.Exists(ctx, lockKeyPrefix+key).Result()
	assert.Equal(t, int64(0), exists)

	again, err := locker.Acquire(ctx, key, 50*time.Millisecond)
	require.NoError(t, err)
	again()
}

func TestRedisLocker_ReleaseKeepsForeignLock(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	locker := NewRedisLocker(client, 50*time.Millisecond, zap.NewNop())
	key := "listing:" + uuid.NewString()

	release, err := locker.Acquire(ctx, key, time.Second)
	require.NoError(t, err)

	// let the TTL lapse and have another holder take the key
	time.Sleep(100 * time.Millisecond)
	client.Set(ctx, lockKeyPrefix+key, "someone-else", time.Minute)

	release()
	val, _ := client.Get(ctx, lockKeyPrefix+key).Result()
	assert.Equal(t, "someone-else", val)
	client.Del(ctx, lockKeyPrefix+key)
}

func TestRedisLocker_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	locker := NewRedisLocker(client, 5*time.Second, zap.NewNop())
	key := "listing:" + uuid.NewString()

	var inside atomic.Int32
	var violations atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(context.Background(), key, 5*time.Second)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if inside.Add(1) > 1 {
				violations.Add(1)
			}
			time.Sleep(2 * time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(0), violations.Load())
}
