package router

import (
	"fmt"
	"regexp"
	"strings"
)

// Route is a registered route: compiled pattern, handler, middleware stack
// and constraints. Routes are shared read-only once the engine starts.
type Route struct {
	Methods []string
	Path    string

	name          string
	handler       HandlerFunc
	middlewares   []HandlerFunc
	segments      []segment
	wheres        map[string]*regexp.Regexp
	domain        *regexp.Regexp
	domainPattern string
	router        *Router
}

// Name assigns a name for reverse URL generation. Naming two routes the same
// is a registration-time error.
func (r *Route) Name(name string) *Route {
	r.router.nameRoute(name, r)
	r.name = name
	return r
}

// RouteName returns the assigned name, or "".
func (r *Route) RouteName() string { return r.name }

// Where adds a regex constraint on a path parameter. The pattern is anchored.
// A malformed pattern panics at registration time.
func (r *Route) Where(param, pattern string) *Route {
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		panic(fmt.Sprintf("router: route %q constraint on %q: %v", r.Path, param, err))
	}
	if r.wheres == nil {
		r.wheres = make(map[string]*regexp.Regexp, 2)
	}
	r.wheres[param] = re
	return r
}

// Domain restricts the route to hosts matching the pattern. The pattern is
// anchored; "{sub}.example.com" style placeholders match one DNS label.
func (r *Route) Domain(pattern string) *Route {
	expr := domainToRegexp(pattern)
	re, err := regexp.Compile(expr)
	if err != nil {
		panic(fmt.Sprintf("router: route %q domain %q: %v", r.Path, pattern, err))
	}
	r.domain = re
	r.domainPattern = pattern
	return r
}

// Use appends route-level middleware. It runs after global and group
// middleware, immediately around the handler.
func (r *Route) Use(mw ...HandlerFunc) *Route {
	r.middlewares = append(r.middlewares, mw...)
	return r
}

// Handlers returns the full chain for this route given the global
// middleware: global, then group and route middleware, then the handler.
func (r *Route) Handlers(global []HandlerFunc) []HandlerFunc {
	out := make([]HandlerFunc, 0, len(global)+len(r.middlewares)+1)
	out = append(out, global...)
	out = append(out, r.middlewares...)
	out = append(out, r.handler)
	return out
}

// matchesHost checks the domain constraint against a request host
// (port stripped).
func (r *Route) matchesHost(host string) bool {
	if r.domain == nil {
		return true
	}
	if idx := strings.LastIndexByte(host, ':'); idx >= 0 && !strings.Contains(host[idx:], "]") {
		host = host[:idx]
	}
	return r.domain.MatchString(host)
}

// domainToRegexp converts a domain pattern with {param} placeholders into an
// anchored regexp source. Literal dots are escaped; placeholders match one
// label.
func domainToRegexp(pattern string) string {
	var b strings.Builder
	b.WriteString("^(?:")
	i := 0
	for i < len(pattern) {
		c := pattern[i]
		if c == '{' {
			end := strings.IndexByte(pattern[i:], '}')
			if end < 0 {
				b.WriteString(regexp.QuoteMeta(pattern[i:]))
				break
			}
			b.WriteString(`[^.]+`)
			i += end + 1
			continue
		}
		b.WriteString(regexp.QuoteMeta(string(c)))
		i++
	}
	b.WriteString(")$")
	return b.String()
}

// Group collects routes under a common path prefix and middleware stack.
// Groups nest; outermost middleware runs first.
type Group struct {
	router      *Router
	prefix      string
	middlewares []HandlerFunc
}

// Group creates a nested group.
func (g *Group) Group(prefix string, mw ...HandlerFunc) *Group {
	child := &Group{
		router: g.router,
		prefix: joinPaths(g.prefix, prefix),
	}
	child.middlewares = append(child.middlewares, g.middlewares...)
	child.middlewares = append(child.middlewares, mw...)
	return child
}

// Use appends middleware to the group. Routes registered afterwards inherit it.
func (g *Group) Use(mw ...HandlerFunc) *Group {
	g.middlewares = append(g.middlewares, mw...)
	return g
}

// Handle registers a route within the group.
func (g *Group) Handle(methods []string, path string, h HandlerFunc) *Route {
	route := g.router.Handle(methods, joinPaths(g.prefix, path), h)
	if len(g.middlewares) > 0 {
		// Group middleware sits before any route-level middleware.
		route.middlewares = append(append([]HandlerFunc(nil), g.middlewares...), route.middlewares...)
	}
	return route
}

// GET registers a GET route within the group.
func (g *Group) GET(path string, h HandlerFunc) *Route {
	return g.Handle([]string{"GET"}, path, h)
}

// POST registers a POST route within the group.
func (g *Group) POST(path string, h HandlerFunc) *Route {
	return g.Handle([]string{"POST"}, path, h)
}

// PUT registers a PUT route within the group.
func (g *Group) PUT(path string, h HandlerFunc) *Route {
	return g.Handle([]string{"PUT"}, path, h)
}

// DELETE registers a DELETE route within the group.
func (g *Group) DELETE(path string, h HandlerFunc) *Route {
	return g.Handle([]string{"DELETE"}, path, h)
}

// PATCH registers a PATCH route within the group.
func (g *Group) PATCH(path string, h HandlerFunc) *Route {
	return g.Handle([]string{"PATCH"}, path, h)
}

func joinPaths(a, b string) string {
	a = strings.TrimSuffix(a, "/")
	if b == "" || b == "/" {
		if a == "" {
			return "/"
		}
		return a
	}
	if !strings.HasPrefix(b, "/") {
		b = "/" + b
	}
	return a + b
}
