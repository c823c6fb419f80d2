package router

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CastFunc converts a matched path segment into its runtime value. Returning
// an error rejects the candidate route; resolution continues with the next
// alternative.
type CastFunc func(raw string) (any, error)

// ParamType is a named segment pattern with an associated cast.
type ParamType struct {
	Name    string
	Pattern *regexp.Regexp // anchored on both ends
	Cast    CastFunc
}

// Match reports whether raw fully matches the type's pattern.
func (t *ParamType) Match(raw string) bool {
	return t.Pattern.MatchString(raw)
}

// TypeRegistry holds parameter types for one engine. It is safe for
// concurrent reads after the engine has started.
type TypeRegistry struct {
	mu    sync.RWMutex
	types map[string]*ParamType
}

// NewTypeRegistry creates a registry pre-populated with the built-in types.
func NewTypeRegistry() *TypeRegistry {
	r := &TypeRegistry{types: make(map[string]*ParamType, 16)}
	for _, t := range builtinTypes() {
		r.types[t.Name] = t
	}
	return r
}

// Register adds or replaces a parameter type. The pattern is compiled with
// full anchoring; a malformed pattern is a registration-time error.
func (r *TypeRegistry) Register(name, pattern string, cast CastFunc) error {
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return fmt.Errorf("param type %q: %w", name, err)
	}
	if cast == nil {
		cast = castString
	}
	r.mu.Lock()
	r.types[name] = &ParamType{Name: name, Pattern: re, Cast: cast}
	r.mu.Unlock()
	return nil
}

// Unregister removes a parameter type.
func (r *TypeRegistry) Unregister(name string) {
	r.mu.Lock()
	delete(r.types, name)
	r.mu.Unlock()
}

// Get returns the named type, or nil.
func (r *TypeRegistry) Get(name string) *ParamType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.types[name]
}

func castString(raw string) (any, error) { return raw, nil }

func mustType(name, pattern string, cast CastFunc) *ParamType {
	if cast == nil {
		cast = castString
	}
	return &ParamType{
		Name:    name,
		Pattern: regexp.MustCompile("^(?:" + pattern + ")$"),
		Cast:    cast,
	}
}

func builtinTypes() []*ParamType {
	return []*ParamType{
		mustType("int", `\d+`, func(raw string) (any, error) {
			return strconv.Atoi(raw)
		}),
		mustType("double", `-?\d+(\.\d+)?`, func(raw string) (any, error) {
			return strconv.ParseFloat(raw, 64)
		}),
		mustType("string", `[^/]+`, nil),
		mustType("uuid", `[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`,
			func(raw string) (any, error) {
				id, err := uuid.Parse(raw)
				if err != nil {
					return nil, err
				}
				return id.String(), nil
			}),
		mustType("slug", `[a-z0-9]+(?:-[a-z0-9]+)*`, nil),
		mustType("email", `[^@/\s]+@[^@/\s]+\.[^@/\s]+`, func(raw string) (any, error) {
			return strings.ToLower(raw), nil
		}),
		// Segments are percent-decoded before matching, so an encoded URL
		// may legitimately contain slashes here.
		mustType("url", `\S+`, func(raw string) (any, error) {
			u, err := url.ParseRequestURI(raw)
			if err != nil {
				return nil, err
			}
			if u.Scheme == "" || u.Host == "" {
				return nil, fmt.Errorf("url param %q missing scheme or host", raw)
			}
			return raw, nil
		}),
		mustType("ip", `[0-9a-fA-F:.]+`, func(raw string) (any, error) {
			if net.ParseIP(raw) == nil {
				return nil, fmt.Errorf("invalid ip %q", raw)
			}
			return raw, nil
		}),
		mustType("date", `\d{4}-\d{2}-\d{2}`, func(raw string) (any, error) {
			return time.Parse("2006-01-02", raw)
		}),
	}
}
