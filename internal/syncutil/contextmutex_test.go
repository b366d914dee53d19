package syncutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextShardedMutex_BasicLockUnlock(t *testing.T) {
	m := NewContextShardedMutex()

	unlock, err := m.LockContext(context.Background(), "driver-1")
	require.NoError(t, err)
	unlock()

	// Can acquire again after unlock.
	unlock, err = m.LockContext(context.Background(), "driver-1")
	require.NoError(t, err)
	unlock()
}

func TestContextShardedMutex_CancelledWaiterGivesUp(t *testing.T) {
	m := NewContextShardedMutex()

	unlock, err := m.LockContext(context.Background(), "driver-1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = m.LockContext(ctx, "driver-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestContextShardedMutex_SerializesSameKey(t *testing.T) {
	m := NewContextShardedMutex()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.LockContext(context.Background(), "driver-1")
			if err != nil {
				return
			}
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}

func TestShardedMutex_SerializesSameKey(t *testing.T) {
	var m ShardedMutex

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock("driver-1")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}
