// Package routed is the engine kernel: it wires configuration, the router,
// the cache and session managers and the injected middleware stack into one
// request-handling unit that both the HTTP adapter and the native bridge
// drive.
package routed

import (
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/routed/routed/cache"
	"github.com/routed/routed/config"
	"github.com/routed/routed/errors"
	"github.com/routed/routed/events"
	"github.com/routed/routed/logging"
	"github.com/routed/routed/middleware/compression"
	"github.com/routed/routed/middleware/cors"
	"github.com/routed/routed/middleware/csrf"
	"github.com/routed/routed/middleware/ratelimit"
	"github.com/routed/routed/middleware/recovery"
	"github.com/routed/routed/middleware/requestid"
	"github.com/routed/routed/middleware/securityheaders"
	"github.com/routed/routed/middleware/timeout"
	"github.com/routed/routed/router"
	"github.com/routed/routed/session"
)

// ConfigLoadedEvent fires once when the engine is constructed.
type ConfigLoadedEvent struct{}

func (ConfigLoadedEvent) EventName() string { return "engine.config_loaded" }

// ConfigReloadedEvent fires when a watched config file changes on disk.
type ConfigReloadedEvent struct{}

func (ConfigReloadedEvent) EventName() string { return "engine.config_reloaded" }

// Engine owns the full request path. Create with New, register routes, then
// serve; Initialize is called lazily on the first request when not invoked
// explicitly.
type Engine struct {
	cfg       *config.Config
	bus       *events.Bus
	router    *router.Router
	container *Container

	caches       *cache.Manager
	cacheDrivers *cache.DriverRegistry
	sessions     *session.Manager
	proxies      *trustedProxies

	watcher *config.Watcher

	initOnce  sync.Once
	initErr   error
	closeOnce sync.Once
}

// New creates an engine over the given configuration.
func New(cfg *config.Config) *Engine {
	if cfg == nil {
		cfg = config.New()
	}
	bus := events.NewBus()
	e := &Engine{
		cfg: cfg,
		bus: bus,
		router: router.New(router.Options{
			RedirectTrailingSlash:  cfg.GetDefault("router.redirect_trailing_slash", true) == true,
			CollapseSlashes:        cfg.GetDefault("router.collapse_slashes", true) == true,
			UnescapeSegments:       cfg.GetDefault("router.unescape_segments", true) == true,
			HandleMethodNotAllowed: cfg.GetDefault("router.method_not_allowed", true) == true,
		}),
		container: NewContainer(),
	}
	e.cacheDrivers = cache.NewDriverRegistry()
	e.caches = cache.NewManager(cfg, bus,
		cache.WithDrivers(e.cacheDrivers),
		cache.WithContainer(e.container))
	e.container.Instance("config", cfg)
	e.container.Instance("events", bus)
	e.container.Instance("router", e.router)
	e.container.Instance("cache", e.caches)
	bus.Publish(ConfigLoadedEvent{})
	return e
}

// Router returns the route registrar.
func (e *Engine) Router() *router.Router { return e.router }

// Events returns the engine bus.
func (e *Engine) Events() *events.Bus { return e.bus }

// Config returns the engine configuration.
func (e *Engine) Config() *config.Config { return e.cfg }

// Container returns the instance registry.
func (e *Engine) Container() *Container { return e.container }

// Cache returns the named cache repository ("" for the default).
func (e *Engine) Cache(name string) (*cache.Repository, error) {
	return e.caches.Store(name)
}

// CacheDrivers returns this engine's store-driver registry.
func (e *Engine) CacheDrivers() *cache.DriverRegistry { return e.cacheDrivers }

// Sessions returns the session manager, or nil when sessions are disabled.
func (e *Engine) Sessions() *session.Manager { return e.sessions }

// Initialize builds the managers and installs the injected middleware
// stack. It runs once; later calls return the first outcome.
func (e *Engine) Initialize() error {
	e.initOnce.Do(func() {
		e.initErr = e.initialize()
	})
	return e.initErr
}

func (e *Engine) initialize() error {
	proxies, err := newTrustedProxies(e.cfg.GetStringSlice("server.trusted_proxies"))
	if err != nil {
		return errors.Configuration("trusted proxies: %v", err)
	}
	e.proxies = proxies

	if e.cfg.GetBool("session.enabled") {
		var store session.Store
		if storeName := e.cfg.GetString("session.store"); storeName != "" {
			repo, err := e.caches.Store(storeName)
			if err != nil {
				return err
			}
			store = session.NewCacheStore(repo)
		}
		e.sessions = session.NewManager(session.Options{
			CookieName: e.cfg.GetString("session.cookie"),
			Lifetime:   e.cfg.GetDuration("session.lifetime"),
			Store:      store,
		})
		e.container.Instance("session", e.sessions)
	}

	e.installMiddleware()
	return nil
}

// installMiddleware wires the injected stack in its fixed order. Route and
// group middleware run after all of these.
func (e *Engine) installMiddleware() {
	e.router.Use(recovery.Middleware())

	if limit := e.cfg.GetDuration("server.timeout"); limit > 0 {
		e.router.Use(timeout.New(limit).Middleware())
	}

	e.router.Use(func(c *router.Context) {
		c.Set(ContainerKey, e.container)
		e.proxies.resolve(c)
		c.Next()
	})
	e.router.Use(requestid.Middleware())
	e.router.Use(securityheaders.New(securityheaders.Config{
		HSTSMaxAge: e.cfg.GetInt("security.hsts_max_age"),
	}).Middleware())

	if e.cfg.GetBool("cors.enabled") {
		e.router.Use(cors.New(cors.Config{
			Enabled:          true,
			AllowedOrigins:   e.cfg.GetStringSlice("cors.allowed_origins"),
			AllowCredentials: e.cfg.GetBool("cors.allow_credentials"),
			AllowedMethods:   e.cfg.GetStringSlice("cors.allowed_methods"),
			AllowedHeaders:   e.cfg.GetStringSlice("cors.allowed_headers"),
			ExposedHeaders:   e.cfg.GetStringSlice("cors.exposed_headers"),
			MaxAge:           e.cfg.GetInt("cors.max_age"),
		}).Middleware())
	}

	if e.sessions != nil {
		e.router.Use(e.sessions.Middleware())
		if e.cfg.GetDefault("csrf.enabled", true) == true {
			e.router.Use(csrf.Middleware())
		}
	}

	if e.cfg.GetBool("ratelimit.enabled") {
		e.router.Use(ratelimit.New(ratelimit.Config{
			Rate:  e.cfg.GetFloat("ratelimit.rate"),
			Burst: e.cfg.GetInt("ratelimit.burst"),
		}).Middleware())
	}

	if e.cfg.GetBool("compression.enabled") {
		e.router.Use(compression.New(compression.Config{
			Enabled:      true,
			Level:        e.cfg.GetInt("compression.level"),
			MinLength:    e.cfg.GetInt("compression.min_length"),
			Algorithms:   e.cfg.GetStringSlice("compression.algorithms"),
			ContentTypes: e.cfg.GetStringSlice("compression.content_types"),
		}).Middleware())
	}
}

// HandleRequest resolves and runs one request. Both the HTTP adapter and
// the bridge enter here.
func (e *Engine) HandleRequest(w http.ResponseWriter, r *http.Request) {
	if err := e.Initialize(); err != nil {
		logging.Error("engine initialization failed", zap.Error(err))
		errors.ErrInternalServer.WriteJSON(w)
		return
	}

	res := e.router.Resolve(r.Method, r.Host, r.URL.Path)
	switch res.Kind {
	case router.ResolutionRedirect:
		target := res.Location
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}
		http.Redirect(w, r, target, res.Code)

	case router.ResolutionMethodNotAllowed:
		for _, m := range res.Allow {
			w.Header().Add("Allow", m)
		}
		errors.ErrMethodNotAllowed.WriteJSON(w)

	case router.ResolutionNotFound:
		if fallback := e.router.FallbackHandler(); fallback != nil {
			handlers := append(append([]router.HandlerFunc(nil), e.router.Global()...), fallback)
			router.NewContext(w, r, nil, nil, handlers).Next()
			return
		}
		errors.ErrNotFound.WriteJSON(w)

	case router.ResolutionMatch:
		handlers := res.Route.Handlers(e.router.Global())
		router.NewContext(w, r, res.Route, res.Params, handlers).Next()
	}
}

// ServeHTTP makes the engine a net/http handler.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.HandleRequest(w, r)
}

// WatchConfig reloads the engine configuration when the file changes.
// Routes and middleware are not rebuilt; consumers subscribe to
// ConfigReloadedEvent to react.
func (e *Engine) WatchConfig(path string) error {
	w, err := config.NewWatcher(path)
	if err != nil {
		return err
	}
	w.OnChange(func(next *config.Config) {
		e.cfg.Replace(next.All())
		e.bus.Publish(ConfigReloadedEvent{})
		logging.Info("configuration reloaded", zap.String("path", path))
	})
	if err := w.Start(); err != nil {
		w.Close()
		return err
	}
	e.watcher = w
	return nil
}

// Close releases engine resources. It is safe to call more than once.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		if e.watcher != nil {
			e.watcher.Close()
		}
		logging.Sync()
	})
	return nil
}
