// Package cors implements cross-origin resource sharing enforcement.
package cors

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/routed/routed/router"
)

// Config mirrors the cors block of the engine configuration.
type Config struct {
	Enabled          bool
	AllowedOrigins   []string
	AllowCredentials bool
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	MaxAge           int
}

// Handler evaluates the CORS policy for each request.
type Handler struct {
	enabled         bool
	origins         map[string]struct{}
	allowAllOrigins bool
	credentials     bool
	methods         map[string]struct{}
	methodsValue    string
	headersValue    string
	exposedValue    string
	maxAge          string
}

// New compiles a Config into a Handler.
func New(cfg Config) *Handler {
	h := &Handler{
		enabled:     cfg.Enabled,
		origins:     make(map[string]struct{}, len(cfg.AllowedOrigins)),
		credentials: cfg.AllowCredentials,
		methods:     make(map[string]struct{}, len(cfg.AllowedMethods)),
	}
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			h.allowAllOrigins = true
			continue
		}
		h.origins[o] = struct{}{}
	}

	methods := cfg.AllowedMethods
	if len(methods) == 0 {
		methods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"}
	}
	upper := make([]string, len(methods))
	for i, m := range methods {
		upper[i] = strings.ToUpper(m)
		h.methods[upper[i]] = struct{}{}
	}
	h.methodsValue = strings.Join(upper, ", ")

	if len(cfg.AllowedHeaders) > 0 {
		h.headersValue = strings.Join(cfg.AllowedHeaders, ", ")
	} else {
		h.headersValue = "Content-Type, Authorization"
	}
	if len(cfg.ExposedHeaders) > 0 {
		h.exposedValue = strings.Join(cfg.ExposedHeaders, ", ")
	}
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 86400
	}
	h.maxAge = strconv.Itoa(maxAge)
	return h
}

// Middleware returns the chain handler. Requests without an Origin header
// pass through untouched.
func (h *Handler) Middleware() router.HandlerFunc {
	return func(c *router.Context) {
		if !h.enabled {
			c.Next()
			return
		}
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			c.Next()
			return
		}

		if !h.originAllowed(origin) {
			c.Writer.Header().Set("Content-Type", "text/plain; charset=utf-8")
			c.Writer.WriteHeader(http.StatusForbidden)
			c.Writer.Write([]byte("CORS origin denied"))
			c.Abort()
			return
		}

		hdr := c.Writer.Header()
		h.setOrigin(hdr, origin)
		if h.credentials {
			hdr.Set("Access-Control-Allow-Credentials", "true")
		}
		if h.exposedValue != "" {
			hdr.Set("Access-Control-Expose-Headers", h.exposedValue)
		}

		if isPreflight(c.Request) {
			reqMethod := strings.ToUpper(c.Request.Header.Get("Access-Control-Request-Method"))
			if _, ok := h.methods[reqMethod]; !ok {
				c.Writer.Header().Set("Content-Type", "text/plain; charset=utf-8")
				c.Writer.WriteHeader(http.StatusForbidden)
				c.Writer.Write([]byte("CORS method denied"))
				c.Abort()
				return
			}
			hdr.Set("Access-Control-Allow-Methods", h.methodsValue)
			hdr.Set("Access-Control-Allow-Headers", h.headersValue)
			hdr.Set("Access-Control-Max-Age", h.maxAge)
			addVary(hdr, "Origin, Access-Control-Request-Method, Access-Control-Request-Headers")
			c.Writer.WriteHeader(http.StatusNoContent)
			c.Abort()
			return
		}

		c.Next()
	}
}

func (h *Handler) originAllowed(origin string) bool {
	if h.allowAllOrigins {
		return true
	}
	_, ok := h.origins[origin]
	return ok
}

// setOrigin emits the allow-origin header. Wildcard with credentials cannot
// legally send "*", so the request origin is echoed with Vary: Origin.
func (h *Handler) setOrigin(hdr http.Header, origin string) {
	if h.allowAllOrigins && !h.credentials {
		hdr.Set("Access-Control-Allow-Origin", "*")
		return
	}
	hdr.Set("Access-Control-Allow-Origin", origin)
	addVary(hdr, "Origin")
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions &&
		r.Header.Get("Access-Control-Request-Method") != ""
}

func addVary(hdr http.Header, value string) {
	for _, v := range hdr.Values("Vary") {
		if strings.EqualFold(v, value) {
			return
		}
	}
	hdr.Add("Vary", value)
}
