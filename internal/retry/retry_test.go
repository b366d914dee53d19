package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransientErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnPermanent(t *testing.T) {
	sentinel := errors.New("bad input")
	calls := 0
	err := Do(context.Background(), 5, time.Millisecond, func() error {
		calls++
		return Permanent(sentinel)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	transient := errors.New("still broken")
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return transient
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, transient)
	assert.Equal(t, 3, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, 3, 50*time.Millisecond, func() error {
		calls++
		return errors.New("transient")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoWithUnlock_ReleasesLockDuringBackoff(t *testing.T) {
	var unlocks, relocks int
	calls := 0

	err := DoWithUnlock(context.Background(), 3, time.Millisecond,
		func() { unlocks++ },
		func() { relocks++ },
		func() error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, unlocks)
	assert.Equal(t, 2, relocks, "lock must be reacquired before each retry")
}

func TestDoWithUnlock_RelocksOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var unlocks, relocks int
	err := DoWithUnlock(ctx, 3, 50*time.Millisecond,
		func() { unlocks++ },
		func() { relocks++ },
		func() error { return errors.New("transient") })

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, unlocks, relocks, "caller expects the lock held on return")
}
