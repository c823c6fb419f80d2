// Package cache provides the key-value cache subsystem: pluggable store
// drivers, a repository facade with event emission, tag scoping and
// distributed locks.
package cache

import "time"

// Store is the driver contract. Values passed in are plain Go values;
// drivers that persist externally serialize them with the shared codec.
// A nil value from Get means the key is missing or expired.
type Store interface {
	Get(key string) (any, error)
	Put(key string, value any, ttl time.Duration) error
	PutMany(values map[string]any, ttl time.Duration) error
	Many(keys []string) (map[string]any, error)
	// Add stores the value only when the key is absent.
	Add(key string, value any, ttl time.Duration) (bool, error)
	Increment(key string, delta int64) (int64, error)
	Decrement(key string, delta int64) (int64, error)
	// Forever stores without expiry.
	Forever(key string, value any) error
	// Forget reports whether the key existed.
	Forget(key string) (bool, error)
	Flush() error
	// GetAllKeys returns the original (unprefixed) keys in the store.
	GetAllKeys() ([]string, error)
	// GetPrefix returns the key prefix applied by this store, or "".
	GetPrefix() string
}

// LockProvider is implemented by stores that can mint locks.
type LockProvider interface {
	Lock(name string, ttl time.Duration, owner string) Lock
}
