// Package session provides cookie-backed request sessions stored in a
// pluggable backend.
package session

import (
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cast"
)

const tokenKey = "_token"

// Session is one client's state bag. It tracks dirtiness so the middleware
// only writes back when something changed.
type Session struct {
	mu         sync.Mutex
	id         string
	previousID string
	data       map[string]any
	changed    bool
}

func newSession(id string, data map[string]any) *Session {
	if data == nil {
		data = make(map[string]any)
	}
	return &Session{id: id, data: data}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Get returns a stored value, or nil.
func (s *Session) Get(key string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key]
}

// GetString returns a stored value coerced to string.
func (s *Session) GetString(key string) string {
	return cast.ToString(s.Get(key))
}

// Has reports whether the key is present.
func (s *Session) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok
}

// Put stores a value.
func (s *Session) Put(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	s.changed = true
}

// Forget removes a key.
func (s *Session) Forget(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; ok {
		delete(s.data, key)
		s.changed = true
	}
}

// Token returns the CSRF token, minting one on first use.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.data[tokenKey].(string); ok && t != "" {
		return t
	}
	t := uuid.NewString()
	s.data[tokenKey] = t
	s.changed = true
	return t
}

// Regenerate assigns a fresh id, keeping the data. The old id becomes
// invalid when the middleware saves.
func (s *Session) Regenerate() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.id
	s.id = uuid.NewString()
	s.changed = true
	s.previousID = old
	return s.id
}

// snapshot copies the data for writing to the store.
func (s *Session) snapshot() (id string, prev string, data map[string]any, dirty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return s.id, s.previousID, out, s.changed
}
