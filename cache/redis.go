package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the cache with a Redis server. Strings and booleans are
// type-tagged, numbers are stored plain so INCRBY / DECRBY stay atomic.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	opTimeout time.Duration
}

// NewRedisStore wraps an existing client. prefix namespaces every key.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, opTimeout: 2 * time.Second}
}

func (s *RedisStore) GetPrefix() string { return s.prefix }

func (s *RedisStore) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.opTimeout)
}

func (s *RedisStore) Get(key string) (any, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	raw, err := s.client.Get(ctx, s.prefix+key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: redis get %q: %w", key, err)
	}
	return decodeValue(raw)
}

func (s *RedisStore) Put(key string, value any, ttl time.Duration) error {
	encoded, err := encodeValue(value)
	if err != nil {
		return err
	}
	ctx, cancel := s.ctx()
	defer cancel()
	// ttl 0 stores without expiry.
	if err := s.client.Set(ctx, s.prefix+key, encoded, ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) PutMany(values map[string]any, ttl time.Duration) error {
	ctx, cancel := s.ctx()
	defer cancel()
	pipe := s.client.TxPipeline()
	for k, v := range values {
		encoded, err := encodeValue(v)
		if err != nil {
			return err
		}
		pipe.Set(ctx, s.prefix+k, encoded, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache: redis mset: %w", err)
	}
	return nil
}

func (s *RedisStore) Many(keys []string) (map[string]any, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = s.prefix + k
	}
	raws, err := s.client.MGet(ctx, prefixed...).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: redis mget: %w", err)
	}
	out := make(map[string]any, len(keys))
	for i, raw := range raws {
		if raw == nil {
			out[keys[i]] = nil
			continue
		}
		str, ok := raw.(string)
		if !ok {
			out[keys[i]] = nil
			continue
		}
		v, err := decodeValue(str)
		if err != nil {
			return nil, err
		}
		out[keys[i]] = v
	}
	return out, nil
}

func (s *RedisStore) Add(key string, value any, ttl time.Duration) (bool, error) {
	encoded, err := encodeValue(value)
	if err != nil {
		return false, err
	}
	ctx, cancel := s.ctx()
	defer cancel()
	ok, err := s.client.SetNX(ctx, s.prefix+key, encoded, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cache: redis setnx %q: %w", key, err)
	}
	return ok, nil
}

func (s *RedisStore) Increment(key string, delta int64) (int64, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	n, err := s.client.IncrBy(ctx, s.prefix+key, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("cache: redis incrby %q: %w", key, err)
	}
	return n, nil
}

func (s *RedisStore) Decrement(key string, delta int64) (int64, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	n, err := s.client.DecrBy(ctx, s.prefix+key, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("cache: redis decrby %q: %w", key, err)
	}
	return n, nil
}

func (s *RedisStore) Forever(key string, value any) error {
	return s.Put(key, value, 0)
}

func (s *RedisStore) Forget(key string) (bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	n, err := s.client.Del(ctx, s.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("cache: redis del %q: %w", key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) Flush() error {
	return s.deleteByPattern(s.prefix + "*")
}

func (s *RedisStore) deleteByPattern(pattern string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("cache: redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("cache: redis bulk del: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (s *RedisStore) GetAllKeys() ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var out []string
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("cache: redis scan: %w", err)
		}
		for _, k := range keys {
			out = append(out, k[len(s.prefix):])
		}
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}

// Lock mints a Redis-backed lock: SET NX with the owner as value, released
// only when the stored owner still matches.
func (s *RedisStore) Lock(name string, ttl time.Duration, owner string) Lock {
	return &redisLock{
		client: s.client,
		key:    s.prefix + "lock:" + name,
		ttl:    ttl,
		owner:  owner,
	}
}

// releaseScript deletes the lock key only when held by the caller.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type redisLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	owner  string
}

func (l *redisLock) Acquire() (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ok, err := l.client.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cache: redis lock %q: %w", l.key, err)
	}
	return ok, nil
}

func (l *redisLock) Release() (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Int()
	if err != nil {
		return false, fmt.Errorf("cache: redis unlock %q: %w", l.key, err)
	}
	return n == 1, nil
}

func (l *redisLock) ForceRelease() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.client.Del(ctx, l.key).Err(); err != nil {
		return fmt.Errorf("cache: redis force unlock %q: %w", l.key, err)
	}
	return nil
}

func (l *redisLock) Block(timeout time.Duration, fn func() error) error {
	return blockOn(l, timeout, fn)
}

func (l *redisLock) Get(fn func() error) (bool, error) {
	return getOn(l, fn)
}

func (l *redisLock) Owner() string { return l.owner }
