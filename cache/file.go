package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FileStore persists entries on disk. Each key hashes to a sharded path
// <root>/<h[0:2]>/<h[2:4]>/<h>; the file's first line is the expiry epoch
// (0 for none) and the remainder is the encoded value. A side index maps
// hashes back to original keys for GetAllKeys.
type FileStore struct {
	root   string
	prefix string
	locks  *localLockTable

	mu sync.Mutex // serializes index updates and per-key writes
}

const fileIndexName = "keys.index"

// NewFileStore creates the cache directory when missing.
func NewFileStore(root, prefix string) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("cache: file store needs a root path")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create %s: %w", root, err)
	}
	return &FileStore{root: root, prefix: prefix, locks: newLocalLockTable()}, nil
}

func (s *FileStore) GetPrefix() string { return s.prefix }

func (s *FileStore) path(key string) string {
	h := sha1.Sum([]byte(s.prefix + key))
	hexed := hex.EncodeToString(h[:])
	return filepath.Join(s.root, hexed[0:2], hexed[2:4], hexed)
}

func (s *FileStore) Get(key string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(key)
}

func (s *FileStore) getLocked(key string) (any, error) {
	raw, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("cache: read %q: %w", key, err)
	}

	line, rest, found := strings.Cut(string(raw), "\n")
	if !found {
		return nil, nil
	}
	expiry, err := strconv.ParseInt(line, 10, 64)
	if err != nil {
		return nil, nil
	}
	if expiry > 0 && time.Now().Unix() >= expiry {
		s.removeLocked(key)
		return nil, nil
	}
	return decodeValue(rest)
}

func (s *FileStore) Put(key string, value any, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(key, value, ttl)
}

func (s *FileStore) putLocked(key string, value any, ttl time.Duration) error {
	encoded, err := encodeValue(value)
	if err != nil {
		return err
	}
	var expiry int64
	if ttl > 0 {
		expiry = time.Now().Add(ttl).Unix()
	}

	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cache: shard dir for %q: %w", key, err)
	}
	payload := strconv.FormatInt(expiry, 10) + "\n" + encoded
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		return fmt.Errorf("cache: write %q: %w", key, err)
	}
	return s.indexAdd(key)
}

func (s *FileStore) PutMany(values map[string]any, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		if err := s.putLocked(k, v, ttl); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileStore) Many(keys []string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		v, err := s.getLocked(k)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func (s *FileStore) Add(key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, err := s.getLocked(key)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}
	return true, s.putLocked(key, value, ttl)
}

func (s *FileStore) Increment(key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, err := s.getLocked(key)
	if err != nil {
		return 0, err
	}
	current, _ := toInt64(existing)
	next := current + delta
	// Incrementing resets the file, so the previous TTL is not preserved.
	if err := s.putLocked(key, next, 0); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *FileStore) Decrement(key string, delta int64) (int64, error) {
	return s.Increment(key, -delta)
}

func (s *FileStore) Forever(key string, value any) error {
	return s.Put(key, value, 0)
}

func (s *FileStore) Forget(key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, err := s.getLocked(key)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}
	s.removeLocked(key)
	return true, nil
}

func (s *FileStore) removeLocked(key string) {
	os.Remove(s.path(key))
	s.indexRemove(key)
}

func (s *FileStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("cache: flush %s: %w", s.root, err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.root, e.Name())); err != nil {
			return fmt.Errorf("cache: flush %s: %w", e.Name(), err)
		}
	}
	return nil
}

func (s *FileStore) GetAllKeys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.readIndex()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(idx))
	for _, k := range idx {
		v, err := s.getLocked(k)
		if err != nil {
			return nil, err
		}
		if v != nil {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Lock mints a process-local lock scoped to this store.
func (s *FileStore) Lock(name string, ttl time.Duration, owner string) Lock {
	return &localLock{table: s.locks, name: name, ttl: ttl, owner: owner}
}

// The index maps key hashes to original keys so GetAllKeys can return what
// callers stored, not digests.

func (s *FileStore) readIndex() (map[string]string, error) {
	raw, err := os.ReadFile(filepath.Join(s.root, fileIndexName))
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("cache: read key index: %w", err)
	}
	idx := make(map[string]string)
	if err := json.Unmarshal(raw, &idx); err != nil {
		return make(map[string]string), nil
	}
	return idx, nil
}

func (s *FileStore) writeIndex(idx map[string]string) error {
	raw, err := json.Marshal(idx)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.root, fileIndexName), raw, 0o644)
}

func (s *FileStore) indexAdd(key string) error {
	idx, err := s.readIndex()
	if err != nil {
		return err
	}
	h := sha1.Sum([]byte(s.prefix + key))
	idx[hex.EncodeToString(h[:])] = key
	return s.writeIndex(idx)
}

func (s *FileStore) indexRemove(key string) {
	idx, err := s.readIndex()
	if err != nil {
		return
	}
	h := sha1.Sum([]byte(s.prefix + key))
	delete(idx, hex.EncodeToString(h[:]))
	s.writeIndex(idx)
}
