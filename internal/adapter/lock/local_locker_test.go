package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker_MutualExclusion(t *testing.T) {
	locker := NewLocalLocker()

	var inside atomic.Int32
	var maxInside atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(context.Background(), "listing:l-1", time.Second)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			n := inside.Add(1)
			if n > maxInside.Load() {
				maxInside.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.Empty(t, locker.slots)
}

func TestLocalLocker_Timeout(t *testing.T) {
	locker := NewLocalLocker()

	release, err := locker.Acquire(context.Background(), "listing:l-1", time.Second)
	require.NoError(t, err)
	defer release()

	_, err = locker.Acquire(context.Background(), "listing:l-1", 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockTimeout)

	// other keys are independent
	other, err := locker.Acquire(context.Background(), "listing:l-2", 20*time.Millisecond)
	require.NoError(t, err)
	other()
}

func TestLocalLocker_ContextCancelled(t *testing.T) {
	locker := NewLocalLocker()

	release, err := locker.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = locker.Acquire(ctx, "k", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalLocker_ReleaseIsIdempotent(t *testing.T) {
	locker := NewLocalLocker()

	release, err := locker.Acquire(context.Background(), "k", time.Second)
	require.NoError(t, err)
	release()
	release()

	again, err := locker.Acquire(context.Background(), "k", 20*time.Millisecond)
	require.NoError(t, err)
	again()
}
