package cache

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/routed/routed/events"
)

// Repository is the caller-facing facade over a Store. It adds read-through
// helpers, tag scoping, locks and event emission.
type Repository struct {
	name  string
	store Store
	bus   *events.Bus
}

// NewRepository wraps a store. bus may be nil when events are not wanted.
func NewRepository(name string, store Store, bus *events.Bus) *Repository {
	return &Repository{name: name, store: store, bus: bus}
}

// Name returns the configured store name.
func (r *Repository) Name() string { return r.name }

// Store exposes the underlying driver.
func (r *Repository) Store() Store { return r.store }

func (r *Repository) publish(e events.Event) {
	if r.bus != nil {
		r.bus.Publish(e)
	}
}

// Get returns the cached value, or nil on a miss.
func (r *Repository) Get(key string) (any, error) {
	v, err := r.store.Get(key)
	if err != nil {
		return nil, err
	}
	if v == nil {
		r.publish(MissEvent{Store: r.name, Key: key})
		return nil, nil
	}
	r.publish(HitEvent{Store: r.name, Key: key})
	return v, nil
}

// GetDefault returns the cached value, or def on a miss.
func (r *Repository) GetDefault(key string, def any) (any, error) {
	v, err := r.Get(key)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return def, nil
	}
	return v, nil
}

// Has reports whether the key holds a live value.
func (r *Repository) Has(key string) (bool, error) {
	v, err := r.Get(key)
	return v != nil, err
}

// Put stores a value for ttl. A non-positive ttl stores forever.
func (r *Repository) Put(key string, value any, ttl time.Duration) error {
	if err := r.store.Put(key, value, ttl); err != nil {
		return err
	}
	r.publish(WriteEvent{Store: r.name, Key: key})
	return nil
}

// Add stores the value only when the key is absent.
func (r *Repository) Add(key string, value any, ttl time.Duration) (bool, error) {
	ok, err := r.store.Add(key, value, ttl)
	if err != nil {
		return false, err
	}
	if ok {
		r.publish(WriteEvent{Store: r.name, Key: key})
	}
	return ok, nil
}

// Forever stores without expiry.
func (r *Repository) Forever(key string, value any) error {
	if err := r.store.Forever(key, value); err != nil {
		return err
	}
	r.publish(WriteEvent{Store: r.name, Key: key})
	return nil
}

// Forget removes the key, reporting whether it existed.
func (r *Repository) Forget(key string) (bool, error) {
	existed, err := r.store.Forget(key)
	if err != nil {
		return false, err
	}
	if existed {
		r.publish(ForgetEvent{Store: r.name, Key: key})
	}
	return existed, nil
}

// Flush clears the whole store.
func (r *Repository) Flush() error {
	return r.store.Flush()
}

// Many returns values for all keys; misses map to nil.
func (r *Repository) Many(keys []string) (map[string]any, error) {
	out, err := r.store.Many(keys)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		if out[k] == nil {
			r.publish(MissEvent{Store: r.name, Key: k})
		} else {
			r.publish(HitEvent{Store: r.name, Key: k})
		}
	}
	return out, nil
}

// PutMany stores several values with one ttl.
func (r *Repository) PutMany(values map[string]any, ttl time.Duration) error {
	if err := r.store.PutMany(values, ttl); err != nil {
		return err
	}
	for k := range values {
		r.publish(WriteEvent{Store: r.name, Key: k})
	}
	return nil
}

// Increment adds delta (default semantics: missing key counts as zero).
func (r *Repository) Increment(key string, delta int64) (int64, error) {
	return r.store.Increment(key, delta)
}

// Decrement subtracts delta.
func (r *Repository) Decrement(key string, delta int64) (int64, error) {
	return r.store.Decrement(key, delta)
}

// Pull returns the value and removes the key.
func (r *Repository) Pull(key string) (any, error) {
	v, err := r.Get(key)
	if err != nil || v == nil {
		return v, err
	}
	if _, err := r.Forget(key); err != nil {
		return nil, err
	}
	return v, nil
}

// Remember returns the cached value, computing and storing it on a miss.
func (r *Repository) Remember(key string, ttl time.Duration, fn func() (any, error)) (any, error) {
	v, err := r.Get(key)
	if err != nil {
		return nil, err
	}
	if v != nil {
		return v, nil
	}
	v, err = fn()
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	if err := r.Put(key, v, ttl); err != nil {
		return nil, err
	}
	return v, nil
}

// RememberForever is Remember without expiry.
func (r *Repository) RememberForever(key string, fn func() (any, error)) (any, error) {
	return r.Remember(key, 0, fn)
}

// Sear is an alias for RememberForever.
func (r *Repository) Sear(key string, fn func() (any, error)) (any, error) {
	return r.RememberForever(key, fn)
}

// Tags scopes subsequent operations to the named tag set.
func (r *Repository) Tags(names ...string) *TaggedRepository {
	return newTaggedRepository(r, names)
}

// Lock mints a lock on this store with a random owner id.
func (r *Repository) Lock(name string, ttl time.Duration) (Lock, error) {
	return r.LockWithOwner(name, ttl, uuid.NewString())
}

// LockWithOwner mints a lock with an explicit owner, allowing a lock to be
// restored across processes.
func (r *Repository) LockWithOwner(name string, ttl time.Duration, owner string) (Lock, error) {
	provider, ok := r.store.(LockProvider)
	if !ok {
		return nil, fmt.Errorf("cache: store %q does not support locks", r.name)
	}
	return provider.Lock(name, ttl, owner), nil
}
