package cache

import (
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cast"

	"github.com/routed/routed/config"
	"github.com/routed/routed/errors"
	"github.com/routed/routed/events"
)

// Resolver is the slice of the engine container that driver config builders
// may consult. The engine's container satisfies it.
type Resolver interface {
	Make(key string) (any, bool)
}

// Factory builds a store from its final config block.
type Factory func(name string, cfg map[string]any) (Store, error)

// ConfigBuilder derives the final config block from the user-supplied one,
// pulling shared values (clients, credentials) out of the container. A nil
// Resolver is passed when the manager has no container.
type ConfigBuilder func(cfg map[string]any, c Resolver) (map[string]any, error)

// Validator inspects the final config before the factory runs.
type Validator func(cfg map[string]any) error

type driverEntry struct {
	factory  Factory
	build    ConfigBuilder
	validate Validator
	required []string
}

// DriverOption customizes a driver registration.
type DriverOption func(*driverEntry)

// WithConfigBuilder sets the builder that produces the final config block.
func WithConfigBuilder(b ConfigBuilder) DriverOption {
	return func(e *driverEntry) { e.build = b }
}

// WithValidator sets a validator run against the final config. Its errors
// surface as configuration errors unless they already are one.
func WithValidator(v Validator) DriverOption {
	return func(e *driverEntry) { e.validate = v }
}

// WithRequiredKeys lists config keys that must be present in the final
// block; a missing key is a configuration error at resolve time.
func WithRequiredKeys(keys ...string) DriverOption {
	return func(e *driverEntry) { e.required = keys }
}

// DriverRegistry holds store drivers for one engine. Like the router's
// parameter-type registry, each engine owns its own instance; the package
// default exists only as a convenience for single-engine programs.
type DriverRegistry struct {
	mu      sync.RWMutex
	drivers map[string]driverEntry
}

// NewDriverRegistry creates a registry pre-populated with the built-in
// array, file and redis drivers.
func NewDriverRegistry() *DriverRegistry {
	r := &DriverRegistry{drivers: make(map[string]driverEntry, 4)}
	r.Register("array", func(name string, cfg map[string]any) (Store, error) {
		return NewArrayStore(cast.ToString(cfg["prefix"])), nil
	})
	r.Register("file", func(name string, cfg map[string]any) (Store, error) {
		return NewFileStore(cast.ToString(cfg["path"]), cast.ToString(cfg["prefix"]))
	}, WithRequiredKeys("path"))
	r.Register("redis", func(name string, cfg map[string]any) (Store, error) {
		if client, ok := cfg["client"].(*redis.Client); ok {
			return NewRedisStore(client, cast.ToString(cfg["prefix"])), nil
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cast.ToString(cfg["addr"]),
			Password: cast.ToString(cfg["password"]),
			DB:       cast.ToInt(cfg["db"]),
		})
		return NewRedisStore(client, cast.ToString(cfg["prefix"])), nil
	}, WithRequiredKeys("addr"), WithConfigBuilder(redisConfig))
	return r
}

// redisConfig lets a deployment share one client: a container binding under
// "redis" wins over the addr/password/db keys in the store block.
func redisConfig(cfg map[string]any, c Resolver) (map[string]any, error) {
	if c == nil {
		return cfg, nil
	}
	v, ok := c.Make("redis")
	if !ok {
		return cfg, nil
	}
	client, ok := v.(*redis.Client)
	if !ok {
		return nil, errors.Configuration("container binding %q is not a redis client", "redis")
	}
	out := make(map[string]any, len(cfg)+2)
	for k, val := range cfg {
		out[k] = val
	}
	out["client"] = client
	if _, present := out["addr"]; !present {
		out["addr"] = client.Options().Addr
	}
	return out, nil
}

// Register adds or replaces a store driver.
func (r *DriverRegistry) Register(name string, factory Factory, opts ...DriverOption) {
	entry := driverEntry{factory: factory}
	for _, opt := range opts {
		opt(&entry)
	}
	r.mu.Lock()
	r.drivers[name] = entry
	r.mu.Unlock()
}

// Unregister removes a driver.
func (r *DriverRegistry) Unregister(name string) {
	r.mu.Lock()
	delete(r.drivers, name)
	r.mu.Unlock()
}

func (r *DriverRegistry) get(name string) (driverEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.drivers[name]
	return entry, ok
}

var defaultDrivers = NewDriverRegistry()

// RegisterDriver adds a driver to the process-default registry, used by
// managers built without an explicit one.
func RegisterDriver(name string, factory Factory, opts ...DriverOption) {
	defaultDrivers.Register(name, factory, opts...)
}

// Manager resolves named repositories from the cache section of the engine
// configuration, memoizing each one.
type Manager struct {
	cfg       *config.Config
	bus       *events.Bus
	registry  *DriverRegistry
	container Resolver

	mu    sync.Mutex
	repos map[string]*Repository
}

// ManagerOption customizes a manager.
type ManagerOption func(*Manager)

// WithDrivers scopes the manager to the given registry instead of the
// process default.
func WithDrivers(r *DriverRegistry) ManagerOption {
	return func(m *Manager) { m.registry = r }
}

// WithContainer exposes the engine container to driver config builders.
func WithContainer(c Resolver) ManagerOption {
	return func(m *Manager) { m.container = c }
}

// NewManager creates a manager over the given configuration.
func NewManager(cfg *config.Config, bus *events.Bus, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:      cfg,
		bus:      bus,
		registry: defaultDrivers,
		repos:    make(map[string]*Repository),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Drivers returns the registry this manager resolves against.
func (m *Manager) Drivers() *DriverRegistry { return m.registry }

// Store returns the named repository, or the configured default when name
// is empty.
func (m *Manager) Store(name string) (*Repository, error) {
	if name == "" {
		name = m.cfg.GetString("cache.default")
		if name == "" {
			name = "array"
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if repo, ok := m.repos[name]; ok {
		return repo, nil
	}

	storeCfg := m.cfg.GetStringMap("cache.stores." + name)
	driverName := cast.ToString(storeCfg["driver"])
	if driverName == "" {
		if name == "array" && len(storeCfg) == 0 {
			// The array store works with no configuration at all.
			driverName = "array"
			storeCfg = map[string]any{}
		} else {
			return nil, errors.Configuration("cache store %q has no driver", name)
		}
	}

	entry, ok := m.registry.get(driverName)
	if !ok {
		return nil, errors.Configuration("cache store %q uses unknown driver %q", name, driverName)
	}

	if entry.build != nil {
		built, err := entry.build(storeCfg, m.container)
		if err != nil {
			return nil, err
		}
		storeCfg = built
	}
	for _, key := range entry.required {
		if _, present := storeCfg[key]; !present {
			return nil, errors.Configuration("cache store %q missing required key %q", name, key)
		}
	}
	if entry.validate != nil {
		if err := entry.validate(storeCfg); err != nil {
			if !errors.IsConfiguration(err) {
				err = errors.WrapKind(err, errors.KindConfiguration, 500,
					"cache store "+name+" failed validation")
			}
			return nil, err
		}
	}

	store, err := entry.factory(name, storeCfg)
	if err != nil {
		return nil, err
	}
	repo := NewRepository(name, store, m.bus)
	m.repos[name] = repo
	return repo, nil
}

// Default returns the default repository.
func (m *Manager) Default() (*Repository, error) {
	return m.Store("")
}
