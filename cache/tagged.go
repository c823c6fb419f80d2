package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TagSet tracks the current identifier of each tag. Every tag owns an entry
// "tag:<name>:key" holding a random id; flushing a tag rotates the id,
// orphaning everything written under the old namespace.
type TagSet struct {
	store Store
	names []string
}

func newTagSet(store Store, names []string) *TagSet {
	return &TagSet{store: store, names: names}
}

// Names returns the tag names in declaration order.
func (t *TagSet) Names() []string { return t.names }

func tagKey(name string) string { return "tag:" + name + ":key" }

// tagID returns the tag's current identifier, minting one on first use.
func (t *TagSet) tagID(name string) (string, error) {
	v, err := t.store.Get(tagKey(name))
	if err != nil {
		return "", err
	}
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return t.resetTag(name)
}

func (t *TagSet) resetTag(name string) (string, error) {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := t.store.Forever(tagKey(name), id); err != nil {
		return "", err
	}
	return id, nil
}

// Reset rotates every tag identifier in the set.
func (t *TagSet) Reset() error {
	for _, name := range t.names {
		if _, err := t.resetTag(name); err != nil {
			return err
		}
	}
	return nil
}

// Namespace joins the current tag ids. It changes whenever any member tag
// is flushed.
func (t *TagSet) Namespace() (string, error) {
	ids := make([]string, len(t.names))
	for i, name := range t.names {
		id, err := t.tagID(name)
		if err != nil {
			return "", err
		}
		ids[i] = id
	}
	return strings.Join(ids, "|"), nil
}

// TaggedRepository scopes repository operations to a tag set. Keys are
// rewritten to live under the namespace hash, so a tag flush detaches them
// without touching the stored bytes.
type TaggedRepository struct {
	repo *Repository
	tags *TagSet
}

func newTaggedRepository(repo *Repository, names []string) *TaggedRepository {
	return &TaggedRepository{repo: repo, tags: newTagSet(repo.store, names)}
}

// TagSet exposes the underlying tag set.
func (r *TaggedRepository) TagSet() *TagSet { return r.tags }

func (r *TaggedRepository) itemKey(key string) (string, error) {
	ns, err := r.tags.Namespace()
	if err != nil {
		return "", err
	}
	h := sha1.Sum([]byte(ns))
	return hex.EncodeToString(h[:]) + ":" + key, nil
}

// Get returns the cached value under the tag namespace, or nil.
func (r *TaggedRepository) Get(key string) (any, error) {
	k, err := r.itemKey(key)
	if err != nil {
		return nil, err
	}
	return r.repo.Get(k)
}

// Put stores a value under the tag namespace.
func (r *TaggedRepository) Put(key string, value any, ttl time.Duration) error {
	k, err := r.itemKey(key)
	if err != nil {
		return err
	}
	return r.repo.Put(k, value, ttl)
}

// Add stores only when absent, under the tag namespace.
func (r *TaggedRepository) Add(key string, value any, ttl time.Duration) (bool, error) {
	k, err := r.itemKey(key)
	if err != nil {
		return false, err
	}
	return r.repo.Add(k, value, ttl)
}

// Forever stores without expiry under the tag namespace.
func (r *TaggedRepository) Forever(key string, value any) error {
	k, err := r.itemKey(key)
	if err != nil {
		return err
	}
	return r.repo.Forever(k, value)
}

// Forget removes the namespaced key.
func (r *TaggedRepository) Forget(key string) (bool, error) {
	k, err := r.itemKey(key)
	if err != nil {
		return false, err
	}
	return r.repo.Forget(k)
}

// Increment adds delta under the tag namespace.
func (r *TaggedRepository) Increment(key string, delta int64) (int64, error) {
	k, err := r.itemKey(key)
	if err != nil {
		return 0, err
	}
	return r.repo.Increment(k, delta)
}

// Decrement subtracts delta under the tag namespace.
func (r *TaggedRepository) Decrement(key string, delta int64) (int64, error) {
	k, err := r.itemKey(key)
	if err != nil {
		return 0, err
	}
	return r.repo.Decrement(k, delta)
}

// Remember returns the namespaced value, computing and storing on a miss.
func (r *TaggedRepository) Remember(key string, ttl time.Duration, fn func() (any, error)) (any, error) {
	k, err := r.itemKey(key)
	if err != nil {
		return nil, err
	}
	return r.repo.Remember(k, ttl, fn)
}

// Flush rotates the tag identifiers, detaching every entry written under
// the current namespace.
func (r *TaggedRepository) Flush() error {
	return r.tags.Reset()
}
