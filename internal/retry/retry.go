// Package retry wraps store writes that may fail transiently. The aggregator
// and the reward ledger retry session saves and account CAS updates through
// it; validation failures are marked Permanent so they surface immediately.
package retry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"time"
)

// PermanentError marks an error that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Do and DoWithUnlock return it without further attempts.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Do runs fn up to maxAttempts times. Between attempts it sleeps with
// exponential backoff and +-25% jitter, stopping early on success, on a
// Permanent error, or when ctx is done.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	return DoWithUnlock(ctx, maxAttempts, baseDelay, nil, nil, fn)
}

// DoWithUnlock is Do for callers holding a per-driver shard lock: unlock runs
// before each backoff sleep and relock after, so one driver's slow store write
// does not stall every other operation on the same shard. fn always runs with
// the lock held, and the lock is held again when DoWithUnlock returns. Passing
// nil for both hooks degenerates to Do.
func DoWithUnlock(ctx context.Context, maxAttempts int, baseDelay time.Duration,
	unlock func(), relock func(), fn func() error) error {

	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	for attempt, delay := 0, baseDelay; ; attempt, delay = attempt+1, delay*2 {
		err = fn()
		if err == nil {
			return nil
		}

		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}
		if attempt == maxAttempts-1 {
			return err
		}

		if unlock != nil {
			unlock()
		}
		select {
		case <-ctx.Done():
			if relock != nil {
				relock()
			}
			return ctx.Err()
		case <-time.After(jittered(delay)):
		}
		if relock != nil {
			relock()
		}
	}
}

// jittered spreads delay over [0.75d, 1.25d] so concurrent retries against a
// recovering store do not land in lockstep.
func jittered(delay time.Duration) time.Duration {
	spread := delay / 4
	if spread <= 0 {
		return delay
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	n := binary.LittleEndian.Uint64(b[:]) % uint64(2*spread+1) //nolint:gosec // bounded by spread
	return delay - spread + time.Duration(n)
}
