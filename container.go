package routed

import "sync"

// ContainerKey is the context attribute under which the engine exposes its
// container to handlers.
const ContainerKey = "container"

// Container is a keyed instance registry shared across the engine. Handlers
// reach it through the engine to look up managers and application services.
type Container struct {
	mu        sync.RWMutex
	instances map[string]any
	factories map[string]func() any
}

// NewContainer creates an empty container.
func NewContainer() *Container {
	return &Container{
		instances: make(map[string]any),
		factories: make(map[string]func() any),
	}
}

// Instance binds a ready value under key.
func (c *Container) Instance(key string, value any) {
	c.mu.Lock()
	c.instances[key] = value
	c.mu.Unlock()
}

// Bind registers a lazy factory. The value is built on first Make and
// memoized.
func (c *Container) Bind(key string, factory func() any) {
	c.mu.Lock()
	c.factories[key] = factory
	c.mu.Unlock()
}

// Has reports whether the key is bound.
func (c *Container) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.instances[key]; ok {
		return true
	}
	_, ok := c.factories[key]
	return ok
}

// Make resolves the key, running its factory when needed.
func (c *Container) Make(key string) (any, bool) {
	c.mu.RLock()
	if v, ok := c.instances[key]; ok {
		c.mu.RUnlock()
		return v, true
	}
	factory, ok := c.factories[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another goroutine may have resolved it while we upgraded the lock.
	if v, ok := c.instances[key]; ok {
		return v, true
	}
	v := factory()
	c.instances[key] = v
	delete(c.factories, key)
	return v, true
}
