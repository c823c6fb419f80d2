package session

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/spf13/cast"

	"github.com/routed/routed/cache"
)

// Store persists session payloads by id.
type Store interface {
	Read(id string) (map[string]any, bool, error)
	Write(id string, data map[string]any, ttl time.Duration) error
	Destroy(id string) error
}

// MemoryStore keeps sessions in an expirable LRU. Capacity bounds memory on
// busy hosts; least-recently-used sessions fall off first.
type MemoryStore struct {
	lru *expirable.LRU[string, map[string]any]
}

// NewMemoryStore creates a store with the given capacity and idle lifetime.
func NewMemoryStore(capacity int, lifetime time.Duration) *MemoryStore {
	if capacity <= 0 {
		capacity = 10000
	}
	return &MemoryStore{
		lru: expirable.NewLRU[string, map[string]any](capacity, nil, lifetime),
	}
}

func (s *MemoryStore) Read(id string) (map[string]any, bool, error) {
	data, ok := s.lru.Get(id)
	return data, ok, nil
}

func (s *MemoryStore) Write(id string, data map[string]any, ttl time.Duration) error {
	s.lru.Add(id, data)
	return nil
}

func (s *MemoryStore) Destroy(id string) error {
	s.lru.Remove(id)
	return nil
}

// CacheStore persists sessions through a cache repository, sharing whatever
// backend the cache subsystem is configured with.
type CacheStore struct {
	repo *cache.Repository
}

// NewCacheStore wraps a cache repository.
func NewCacheStore(repo *cache.Repository) *CacheStore {
	return &CacheStore{repo: repo}
}

func sessionKey(id string) string { return "session:" + id }

func (s *CacheStore) Read(id string) (map[string]any, bool, error) {
	v, err := s.repo.Get(sessionKey(id))
	if err != nil || v == nil {
		return nil, false, err
	}
	data := cast.ToStringMap(v)
	if data == nil {
		return nil, false, nil
	}
	return data, true, nil
}

func (s *CacheStore) Write(id string, data map[string]any, ttl time.Duration) error {
	return s.repo.Put(sessionKey(id), data, ttl)
}

func (s *CacheStore) Destroy(id string) error {
	_, err := s.repo.Forget(sessionKey(id))
	return err
}
