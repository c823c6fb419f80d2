package cache

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/routed/routed/errors"
)

// Lock is a cooperative mutual-exclusion handle minted by a store. Release
// succeeds only for the owning handle; ForceRelease ignores ownership.
type Lock interface {
	Acquire() (bool, error)
	Release() (bool, error)
	ForceRelease() error
	// Block retries Acquire on a backoff schedule until it succeeds or the
	// timeout elapses, then runs fn while holding the lock.
	Block(timeout time.Duration, fn func() error) error
	// Get runs fn while holding the lock when a single Acquire succeeds.
	Get(fn func() error) (bool, error)
	Owner() string
}

// blockOn is the shared retry loop behind Lock.Block implementations.
func blockOn(l Lock, timeout time.Duration, fn func() error) error {
	policy := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(25*time.Millisecond),
		backoff.WithMaxInterval(250*time.Millisecond),
		backoff.WithMaxElapsedTime(timeout),
	)

	err := backoff.Retry(func() error {
		ok, err := l.Acquire()
		if err != nil {
			// Driver failures stop the retry loop and surface as-is;
			// only exhausted retries become a lock timeout.
			return backoff.Permanent(err)
		}
		if !ok {
			return errors.ErrLockTimeout
		}
		return nil
	}, policy)
	if err != nil {
		return err
	}

	defer l.Release()
	return fn()
}

// getOn is the shared single-attempt helper behind Lock.Get implementations.
func getOn(l Lock, fn func() error) (bool, error) {
	ok, err := l.Acquire()
	if err != nil || !ok {
		return false, err
	}
	defer l.Release()
	return true, fn()
}
