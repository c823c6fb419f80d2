package cache

import (
	"sync"
	"time"
)

// ArrayStore keeps entries in a map guarded by one mutex. Expired entries
// are dropped lazily on read. It backs tests and single-process deployments.
type ArrayStore struct {
	mu     sync.Mutex
	items  map[string]arrayItem
	locks  *localLockTable
	prefix string
}

type arrayItem struct {
	value   any
	expires time.Time // zero means no expiry
}

// NewArrayStore creates an empty in-memory store.
func NewArrayStore(prefix string) *ArrayStore {
	return &ArrayStore{
		items:  make(map[string]arrayItem),
		locks:  newLocalLockTable(),
		prefix: prefix,
	}
}

func (s *ArrayStore) GetPrefix() string { return s.prefix }

func (s *ArrayStore) Get(key string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(key), nil
}

func (s *ArrayStore) getLocked(key string) any {
	item, ok := s.items[s.prefix+key]
	if !ok {
		return nil
	}
	if !item.expires.IsZero() && time.Now().After(item.expires) {
		delete(s.items, s.prefix+key)
		return nil
	}
	return item.value
}

func (s *ArrayStore) Put(key string, value any, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(key, value, ttl)
	return nil
}

func (s *ArrayStore) putLocked(key string, value any, ttl time.Duration) {
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	s.items[s.prefix+key] = arrayItem{value: value, expires: expires}
}

func (s *ArrayStore) PutMany(values map[string]any, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		s.putLocked(k, v, ttl)
	}
	return nil
}

func (s *ArrayStore) Many(keys []string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		out[k] = s.getLocked(k)
	}
	return out, nil
}

func (s *ArrayStore) Add(key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getLocked(key) != nil {
		return false, nil
	}
	s.putLocked(key, value, ttl)
	return true, nil
}

func (s *ArrayStore) Increment(key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, _ := toInt64(s.getLocked(key))
	next := current + delta

	// Keep the existing expiry when the key is already present.
	item, ok := s.items[s.prefix+key]
	if ok {
		item.value = next
		s.items[s.prefix+key] = item
	} else {
		s.items[s.prefix+key] = arrayItem{value: next}
	}
	return next, nil
}

func (s *ArrayStore) Decrement(key string, delta int64) (int64, error) {
	return s.Increment(key, -delta)
}

func (s *ArrayStore) Forever(key string, value any) error {
	return s.Put(key, value, 0)
}

func (s *ArrayStore) Forget(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existed := s.getLocked(key) != nil
	delete(s.items, s.prefix+key)
	return existed, nil
}

func (s *ArrayStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]arrayItem)
	return nil
}

func (s *ArrayStore) GetAllKeys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	keys := make([]string, 0, len(s.items))
	for k, item := range s.items {
		if !item.expires.IsZero() && now.After(item.expires) {
			continue
		}
		keys = append(keys, k[len(s.prefix):])
	}
	return keys, nil
}

// Lock mints a process-local lock scoped to this store.
func (s *ArrayStore) Lock(name string, ttl time.Duration, owner string) Lock {
	return &localLock{table: s.locks, name: name, ttl: ttl, owner: owner}
}

// localLockTable tracks in-process lock ownership for the array and file
// stores. Entries expire by wall clock, matching the distributed drivers.
type localLockTable struct {
	mu    sync.Mutex
	locks map[string]localLockEntry
}

type localLockEntry struct {
	owner   string
	expires time.Time
}

func newLocalLockTable() *localLockTable {
	return &localLockTable{locks: make(map[string]localLockEntry)}
}

func (t *localLockTable) acquire(name, owner string, ttl time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	// A live entry blocks every caller, the current owner included; this
	// mirrors the SETNX semantics of the redis driver.
	entry, held := t.locks[name]
	if held && (entry.expires.IsZero() || time.Now().Before(entry.expires)) {
		return false
	}
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	t.locks[name] = localLockEntry{owner: owner, expires: expires}
	return true
}

func (t *localLockTable) release(name, owner string, force bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, held := t.locks[name]
	if !held {
		return false
	}
	if !force && entry.owner != owner {
		return false
	}
	delete(t.locks, name)
	return true
}

type localLock struct {
	table *localLockTable
	name  string
	ttl   time.Duration
	owner string
}

func (l *localLock) Acquire() (bool, error) {
	return l.table.acquire(l.name, l.owner, l.ttl), nil
}

func (l *localLock) Release() (bool, error) {
	return l.table.release(l.name, l.owner, false), nil
}

func (l *localLock) ForceRelease() error {
	l.table.release(l.name, l.owner, true)
	return nil
}

func (l *localLock) Block(timeout time.Duration, fn func() error) error {
	return blockOn(l, timeout, fn)
}

func (l *localLock) Get(fn func() error) (bool, error) {
	return getOn(l, fn)
}

func (l *localLock) Owner() string { return l.owner }
