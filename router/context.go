package router

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

// HandlerFunc is a middleware or terminal handler. Middleware calls
// c.Next() to run the remainder of the chain; code after Next executes in
// reverse registration order on the way back out.
type HandlerFunc func(*Context)

const abortIndex = 1 << 30

// Context carries a single request through the handler chain. It is not
// safe for use after the chain returns; copy values out instead of
// retaining the context.
type Context struct {
	Request *http.Request
	Writer  ResponseWriter

	route    *Route
	params   Params
	handlers []HandlerFunc
	index    int
	aborted  bool

	attributes map[string]any
	errs       []error

	clientIP string
	scheme   string
}

// NewContext builds a context for one request. The handler chain runs when
// Next is first called.
func NewContext(w http.ResponseWriter, req *http.Request, route *Route, params Params, handlers []HandlerFunc) *Context {
	return &Context{
		Request:  req,
		Writer:   WrapResponseWriter(w),
		route:    route,
		params:   params,
		handlers: handlers,
		index:    -1,
	}
}

// Route returns the matched route, or nil for fallback handlers.
func (c *Context) Route() *Route { return c.route }

// Next runs the remaining handlers in the chain.
func (c *Context) Next() {
	c.index++
	for c.index < len(c.handlers) {
		c.handlers[c.index](c)
		c.index++
	}
}

// Abort prevents the remaining handlers from running. Handlers earlier in
// the chain still execute their post-Next code.
func (c *Context) Abort() {
	c.index = abortIndex
	c.aborted = true
}

// AbortWithStatus writes a status header and aborts.
func (c *Context) AbortWithStatus(code int) {
	c.Writer.WriteHeader(code)
	c.Abort()
}

// AbortWithError records the error and aborts with the status.
func (c *Context) AbortWithError(code int, err error) {
	c.Error(err)
	c.AbortWithStatus(code)
}

// IsAborted reports whether the chain was aborted.
func (c *Context) IsAborted() bool { return c.aborted }

// Error records a request-scoped error. Recovery and logging middleware read
// the accumulated errors after the chain completes.
func (c *Context) Error(err error) {
	if err != nil {
		c.errs = append(c.errs, err)
	}
}

// Errors returns the recorded errors.
func (c *Context) Errors() []error { return c.errs }

// Param returns the raw string for a path parameter, or "".
func (c *Context) Param(name string) string {
	if p, ok := c.params.Get(name); ok {
		return p.Raw
	}
	return ""
}

// ParamValue returns the cast value for a path parameter, or nil. Absent
// optional parameters return nil.
func (c *Context) ParamValue(name string) any {
	if p, ok := c.params.Get(name); ok && !p.Absent {
		return p.Value
	}
	return nil
}

// Params returns all resolved path parameters.
func (c *Context) Params() Params { return c.params }

// Query returns the first query value for key, or "".
func (c *Context) Query(key string) string {
	return c.Request.URL.Query().Get(key)
}

// DefaultQuery returns the query value for key, or def when absent.
func (c *Context) DefaultQuery(key, def string) string {
	if vs, ok := c.Request.URL.Query()[key]; ok && len(vs) > 0 {
		return vs[0]
	}
	return def
}

// FormValue returns a form field from the parsed request body or query.
func (c *Context) FormValue(key string) string {
	return c.Request.FormValue(key)
}

// BindJSON decodes the request body into v. Unknown fields are rejected.
func (c *Context) BindJSON(v any) error {
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("bind json: %w", err)
	}
	return nil
}

// Set stores a request-scoped attribute.
func (c *Context) Set(key string, value any) {
	if c.attributes == nil {
		c.attributes = make(map[string]any, 4)
	}
	c.attributes[key] = value
}

// Get returns a request-scoped attribute.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.attributes[key]
	return v, ok
}

// GetString returns a string attribute, or "".
func (c *Context) GetString(key string) string {
	if v, ok := c.attributes[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Status writes the response status header.
func (c *Context) Status(code int) {
	c.Writer.WriteHeader(code)
}

// JSON writes a JSON response with the given status.
func (c *Context) JSON(code int, v any) {
	c.Writer.Header().Set("Content-Type", "application/json; charset=utf-8")
	c.Writer.WriteHeader(code)
	enc := json.NewEncoder(c.Writer)
	if err := enc.Encode(v); err != nil {
		c.Error(err)
	}
}

// String writes a plain-text response with the given status.
func (c *Context) String(code int, format string, args ...any) {
	c.Writer.Header().Set("Content-Type", "text/plain; charset=utf-8")
	c.Writer.WriteHeader(code)
	fmt.Fprintf(c.Writer, format, args...)
}

// Data writes raw bytes with an explicit content type.
func (c *Context) Data(code int, contentType string, data []byte) {
	if contentType != "" {
		c.Writer.Header().Set("Content-Type", contentType)
	}
	c.Writer.WriteHeader(code)
	c.Writer.Write(data)
}

// Redirect writes a redirect response.
func (c *Context) Redirect(code int, location string) {
	http.Redirect(c.Writer, c.Request, location, code)
}

// SwapWriter replaces the response writer for the rest of the chain and
// returns the previous one. Compression middleware wraps the writer around
// Next and restores it afterwards.
func (c *Context) SwapWriter(w ResponseWriter) ResponseWriter {
	prev := c.Writer
	c.Writer = w
	return prev
}

// Detach returns a context that runs the remaining chain on w, with its
// own index, abort flag, attributes and error list. The timeout guard
// races a detached chain against its timer so that neither side mutates
// the other's state after the race is decided. Calling Next on the
// detached context resumes after the current handler.
func (c *Context) Detach(w http.ResponseWriter) *Context {
	var attrs map[string]any
	if len(c.attributes) > 0 {
		attrs = make(map[string]any, len(c.attributes))
		for k, v := range c.attributes {
			attrs[k] = v
		}
	}
	return &Context{
		Request:    c.Request,
		Writer:     WrapResponseWriter(w),
		route:      c.route,
		params:     c.params,
		handlers:   c.handlers,
		index:      c.index,
		attributes: attrs,
		clientIP:   c.clientIP,
		scheme:     c.scheme,
	}
}

// SetClientIP overrides the derived client address. The engine sets this
// from forwarded headers when the peer is a trusted proxy.
func (c *Context) SetClientIP(ip string) { c.clientIP = ip }

// ClientIP returns the client address: the trusted-proxy override when set,
// otherwise the connection's remote address.
func (c *Context) ClientIP() string {
	if c.clientIP != "" {
		return c.clientIP
	}
	host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return c.Request.RemoteAddr
	}
	return host
}

// SetScheme overrides the derived request scheme.
func (c *Context) SetScheme(scheme string) { c.scheme = scheme }

// Scheme returns "https" or "http" for the request.
func (c *Context) Scheme() string {
	if c.scheme != "" {
		return c.scheme
	}
	if c.Request.TLS != nil {
		return "https"
	}
	return "http"
}

// ContentType returns the request Content-Type without parameters.
func (c *Context) ContentType() string {
	ct := c.Request.Header.Get("Content-Type")
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = ct[:idx]
	}
	return strings.TrimSpace(ct)
}

// Body returns the request body reader.
func (c *Context) Body() io.ReadCloser { return c.Request.Body }
