package router

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
)

// Options configure path normalization and fallback behavior. They apply to
// the whole router, not to individual routes.
type Options struct {
	// RedirectTrailingSlash responds 301 (308 for non-GET) when the path
	// fails to match but the alternate with/without trailing slash succeeds.
	RedirectTrailingSlash bool
	// CollapseSlashes rewrites //a///b to /a/b before matching.
	CollapseSlashes bool
	// UnescapeSegments percent-decodes each path segment before matching.
	UnescapeSegments bool
	// HandleMethodNotAllowed returns 405 with an Allow set instead of 404
	// when the path matches under another verb.
	HandleMethodNotAllowed bool
}

// Router resolves (method, host, path) to a route and builds handler chains.
// Registration is single-threaded at startup; resolution is concurrent and
// lock-free afterwards.
type Router struct {
	opts     Options
	registry *TypeRegistry
	root     *node

	mu       sync.RWMutex
	byName   map[string]*Route
	static   map[uint64]*staticEntry
	global   []HandlerFunc
	allList  []*Route
	fallback HandlerFunc
}

type staticEntry struct {
	method string
	path   string
	route  *Route
}

// New creates a router with its own type registry.
func New(opts Options) *Router {
	return &Router{
		opts:     opts,
		registry: NewTypeRegistry(),
		root:     newNode(),
		byName:   make(map[string]*Route),
		static:   make(map[uint64]*staticEntry),
	}
}

// Types returns the router's parameter type registry.
func (r *Router) Types() *TypeRegistry { return r.registry }

// Use appends global middleware, run before any group or route middleware.
func (r *Router) Use(mw ...HandlerFunc) {
	r.global = append(r.global, mw...)
}

// Global returns the registered global middleware.
func (r *Router) Global() []HandlerFunc { return r.global }

// Handle registers a route for the given methods. Registration errors
// (malformed patterns, duplicates) panic: they are programmer errors caught
// at startup.
func (r *Router) Handle(methods []string, path string, h HandlerFunc) *Route {
	if h == nil {
		panic(fmt.Sprintf("router: nil handler for %q", path))
	}
	segments, err := compilePattern(path)
	if err != nil {
		panic("router: " + err.Error())
	}
	for _, seg := range segments {
		if seg.kind != segTyped {
			continue
		}
		if _, err := seg.typeOrString(r.registry); err != nil {
			panic(fmt.Sprintf("router: route %q: %v", path, err))
		}
	}

	upper := make([]string, len(methods))
	for i, m := range methods {
		upper[i] = strings.ToUpper(m)
	}

	route := &Route{
		Methods:  upper,
		Path:     normalizePattern(path),
		handler:  h,
		segments: segments,
		router:   r,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.root.insert(route)
	r.allList = append(r.allList, route)
	if isStatic(segments) {
		for _, m := range upper {
			key := staticKey(m, route.Path)
			r.static[key] = &staticEntry{method: m, path: route.Path, route: route}
		}
	}
	return route
}

// GET registers a GET route.
func (r *Router) GET(path string, h HandlerFunc) *Route {
	return r.Handle([]string{"GET"}, path, h)
}

// POST registers a POST route.
func (r *Router) POST(path string, h HandlerFunc) *Route {
	return r.Handle([]string{"POST"}, path, h)
}

// PUT registers a PUT route.
func (r *Router) PUT(path string, h HandlerFunc) *Route {
	return r.Handle([]string{"PUT"}, path, h)
}

// DELETE registers a DELETE route.
func (r *Router) DELETE(path string, h HandlerFunc) *Route {
	return r.Handle([]string{"DELETE"}, path, h)
}

// PATCH registers a PATCH route.
func (r *Router) PATCH(path string, h HandlerFunc) *Route {
	return r.Handle([]string{"PATCH"}, path, h)
}

// HEAD registers a HEAD route.
func (r *Router) HEAD(path string, h HandlerFunc) *Route {
	return r.Handle([]string{"HEAD"}, path, h)
}

// OPTIONS registers an OPTIONS route.
func (r *Router) OPTIONS(path string, h HandlerFunc) *Route {
	return r.Handle([]string{"OPTIONS"}, path, h)
}

// Any registers a route matching every method.
func (r *Router) Any(path string, h HandlerFunc) *Route {
	return r.Handle(nil, path, h)
}

// Group creates a top-level route group.
func (r *Router) Group(prefix string, mw ...HandlerFunc) *Group {
	return &Group{router: r, prefix: prefix, middlewares: mw}
}

// Fallback registers the handler run when no route matches. It receives the
// global middleware chain.
func (r *Router) Fallback(h HandlerFunc) {
	r.fallback = h
}

// FallbackHandler returns the registered fallback, or nil.
func (r *Router) FallbackHandler() HandlerFunc { return r.fallback }

// Routes returns all registered routes.
func (r *Router) Routes() []*Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Route(nil), r.allList...)
}

func (r *Router) nameRoute(name string, route *Route) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byName[name]; ok && existing != route {
		panic(fmt.Sprintf("router: duplicate route name %q", name))
	}
	r.byName[name] = route
}

// ResolutionKind discriminates resolver outcomes.
type ResolutionKind int

const (
	ResolutionMatch ResolutionKind = iota
	ResolutionNotFound
	ResolutionMethodNotAllowed
	ResolutionRedirect
)

// Resolution is the outcome of resolving a request path.
type Resolution struct {
	Kind     ResolutionKind
	Route    *Route
	Params   Params
	Allow    []string // sorted verb set for MethodNotAllowed
	Location string   // redirect target path (query not included)
	Code     int      // redirect status
}

// Resolve maps (method, host, path) to a route. The path excludes the query
// string.
func (r *Router) Resolve(method, host, path string) Resolution {
	method = strings.ToUpper(method)
	if path == "" {
		path = "/"
	}
	if r.opts.CollapseSlashes {
		path = collapseSlashes(path)
	}

	if res, ok := r.resolveOnce(method, host, path); ok {
		return res
	}

	if r.opts.RedirectTrailingSlash && path != "/" {
		alt := toggleTrailingSlash(path)
		if _, ok := r.resolveOnce(method, host, alt); ok {
			code := http.StatusMovedPermanently
			if method != "GET" && method != "HEAD" {
				code = http.StatusPermanentRedirect
			}
			return Resolution{Kind: ResolutionRedirect, Location: alt, Code: code}
		}
	}

	// Rerun to surface the Allow set for 405 handling.
	st := r.newMatchState(method, host)
	segs := r.splitPath(path)
	r.root.match(segs, st)
	if r.opts.HandleMethodNotAllowed && len(st.allow) > 0 {
		allow := make([]string, 0, len(st.allow))
		for m := range st.allow {
			allow = append(allow, m)
		}
		sort.Strings(allow)
		return Resolution{Kind: ResolutionMethodNotAllowed, Allow: allow}
	}
	return Resolution{Kind: ResolutionNotFound}
}

func (r *Router) resolveOnce(method, host, path string) (Resolution, bool) {
	// Static fast path: no params, no constraints to evaluate.
	if entry, ok := r.static[staticKey(method, normalizePattern(path))]; ok &&
		entry.path == normalizePattern(path) && entry.route.matchesHost(host) {
		return Resolution{Kind: ResolutionMatch, Route: entry.route}, true
	}

	st := r.newMatchState(method, host)
	res := r.root.match(r.splitPath(path), st)
	if res == nil {
		return Resolution{}, false
	}
	return Resolution{Kind: ResolutionMatch, Route: res.route, Params: res.params}, true
}

func (r *Router) newMatchState(method, host string) *matchState {
	return &matchState{
		method: method,
		host:   host,
		reg:    r.registry,
		allow:  make(map[string]struct{}, 2),
	}
}

func (r *Router) splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	segs := strings.Split(trimmed, "/")
	if r.opts.UnescapeSegments {
		for i, s := range segs {
			if decoded, err := url.PathUnescape(s); err == nil {
				segs[i] = decoded
			}
		}
	}
	return segs
}

// URL generates a path for a named route, substituting parameters and
// validating them against the route's compiled pattern.
func (r *Router) URL(name string, params map[string]any) (string, error) {
	r.mu.RLock()
	route, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("router: no route named %q", name)
	}

	var b strings.Builder
	for _, seg := range route.segments {
		switch seg.kind {
		case segLiteral:
			b.WriteByte('/')
			b.WriteString(seg.literal)
		case segWildcard:
			v, ok := params[seg.name]
			if !ok {
				return "", fmt.Errorf("router: route %q missing parameter %q", name, seg.name)
			}
			// Wildcard values may span segments; escape each part so the
			// slashes survive but everything else round-trips.
			for _, part := range strings.Split(fmt.Sprint(v), "/") {
				b.WriteByte('/')
				b.WriteString(url.PathEscape(part))
			}
		case segTyped:
			v, ok := params[seg.name]
			if !ok || v == nil {
				if seg.optional {
					continue
				}
				return "", fmt.Errorf("router: route %q missing parameter %q", name, seg.name)
			}
			raw := fmt.Sprint(v)
			t, err := seg.typeOrString(r.registry)
			if err != nil {
				return "", err
			}
			if !t.Match(raw) {
				return "", fmt.Errorf("router: route %q parameter %q=%q fails type %s",
					name, seg.name, raw, t.Name)
			}
			b.WriteByte('/')
			b.WriteString(url.PathEscape(raw))
		}
	}
	if b.Len() == 0 {
		return "/", nil
	}
	return b.String(), nil
}

func isStatic(segments []segment) bool {
	for _, s := range segments {
		if s.kind != segLiteral {
			return false
		}
	}
	return true
}

func normalizePattern(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}

func collapseSlashes(path string) string {
	if !strings.Contains(path, "//") {
		return path
	}
	var b strings.Builder
	b.Grow(len(path))
	prev := byte(0)
	for i := 0; i < len(path); i++ {
		if path[i] == '/' && prev == '/' {
			continue
		}
		b.WriteByte(path[i])
		prev = path[i]
	}
	return b.String()
}

func toggleTrailingSlash(path string) string {
	if strings.HasSuffix(path, "/") {
		return strings.TrimSuffix(path, "/")
	}
	return path + "/"
}
