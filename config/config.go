// Package config holds engine configuration as a tree addressed by dotted
// keys ("app.name", "cache.stores.file.path"). The host loads values from a
// YAML file and/or the environment and hands the result to the engine
// builder.
package config

import (
	"strings"
	"sync"
	"time"

	"github.com/spf13/cast"
)

// Config is a thread-safe dotted-key configuration tree.
type Config struct {
	mu   sync.RWMutex
	data map[string]any
}

// New creates an empty Config.
func New() *Config {
	return &Config{data: make(map[string]any)}
}

// FromMap creates a Config from a nested map.
func FromMap(m map[string]any) *Config {
	c := New()
	for k, v := range m {
		c.data[k] = v
	}
	return c
}

// Get returns the value at the dotted key, or nil.
func (c *Config) Get(key string) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return lookup(c.data, key)
}

// GetDefault returns the value at key, or fallback when absent.
func (c *Config) GetDefault(key string, fallback any) any {
	if v := c.Get(key); v != nil {
		return v
	}
	return fallback
}

// Has reports whether the key resolves to a value.
func (c *Config) Has(key string) bool {
	return c.Get(key) != nil
}

// GetString returns the value at key cast to string.
func (c *Config) GetString(key string) string {
	return cast.ToString(c.Get(key))
}

// GetInt returns the value at key cast to int.
func (c *Config) GetInt(key string) int {
	return cast.ToInt(c.Get(key))
}

// GetInt64 returns the value at key cast to int64.
func (c *Config) GetInt64(key string) int64 {
	return cast.ToInt64(c.Get(key))
}

// GetBool returns the value at key cast to bool.
func (c *Config) GetBool(key string) bool {
	return cast.ToBool(c.Get(key))
}

// GetFloat returns the value at key cast to float64.
func (c *Config) GetFloat(key string) float64 {
	return cast.ToFloat64(c.Get(key))
}

// GetDuration returns the value at key cast to a duration. Plain numbers are
// interpreted as seconds.
func (c *Config) GetDuration(key string) time.Duration {
	v := c.Get(key)
	switch v.(type) {
	case int, int64, float64:
		return time.Duration(cast.ToFloat64(v) * float64(time.Second))
	}
	return cast.ToDuration(v)
}

// GetStringSlice returns the value at key cast to []string.
func (c *Config) GetStringSlice(key string) []string {
	return cast.ToStringSlice(c.Get(key))
}

// GetStringMap returns the value at key as a map, or nil.
func (c *Config) GetStringMap(key string) map[string]any {
	v := c.Get(key)
	if v == nil {
		return nil
	}
	return cast.ToStringMap(v)
}

// Set stores value at the dotted key, creating intermediate maps.
func (c *Config) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	assign(c.data, key, value)
}

// Merge overlays other onto c. Scalar values in other win; nested maps merge
// recursively.
func (c *Config) Merge(other map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mergeMaps(c.data, other)
}

// Replace swaps the whole tree. Used by the watcher on reload.
func (c *Config) Replace(m map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = m
}

// All returns a deep copy of the tree.
func (c *Config) All() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyMap(c.data)
}

func lookup(m map[string]any, key string) any {
	parts := strings.Split(key, ".")
	var current any = m
	for _, part := range parts {
		node, ok := current.(map[string]any)
		if !ok {
			// goccy/go-yaml can decode nested maps as map[any]any
			anyMap, ok2 := current.(map[any]any)
			if !ok2 {
				return nil
			}
			node = make(map[string]any, len(anyMap))
			for k, v := range anyMap {
				node[cast.ToString(k)] = v
			}
		}
		current, ok = node[part]
		if !ok {
			return nil
		}
	}
	return current
}

func assign(m map[string]any, key string, value any) {
	parts := strings.Split(key, ".")
	for i, part := range parts {
		if i == len(parts)-1 {
			m[part] = value
			return
		}
		next, ok := m[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[part] = next
		}
		m = next
	}
}

func mergeMaps(dst, src map[string]any) {
	for k, v := range src {
		if sv, ok := v.(map[string]any); ok {
			if dv, ok := dst[k].(map[string]any); ok {
				mergeMaps(dv, sv)
				continue
			}
		}
		dst[k] = v
	}
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = copyMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}
