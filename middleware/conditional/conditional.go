// Package conditional evaluates HTTP precondition headers against
// route-supplied validators.
package conditional

import (
	"net/http"
	"strings"
	"time"

	"github.com/routed/routed/router"
)

// ETagFunc resolves the current entity tag for a request, or "".
type ETagFunc func(c *router.Context) string

// LastModifiedFunc resolves the current modification time, or the zero time.
type LastModifiedFunc func(c *router.Context) time.Time

// Config supplies the validators. At least one resolver must be set for the
// middleware to do anything.
type Config struct {
	ETag         ETagFunc
	LastModified LastModifiedFunc
}

// Handler short-circuits requests whose preconditions already hold.
type Handler struct {
	cfg Config
}

// New creates a conditional-request handler.
func New(cfg Config) *Handler {
	return &Handler{cfg: cfg}
}

// Middleware returns the chain handler. Validators are set on the response
// on both the short-circuit and the pass-through path.
func (h *Handler) Middleware() router.HandlerFunc {
	return func(c *router.Context) {
		var etag string
		var modified time.Time
		if h.cfg.ETag != nil {
			etag = h.cfg.ETag(c)
		}
		if h.cfg.LastModified != nil {
			modified = h.cfg.LastModified(c)
		}
		if etag == "" && modified.IsZero() {
			c.Next()
			return
		}

		hdr := c.Writer.Header()
		if etag != "" {
			hdr.Set("ETag", etag)
		}
		if !modified.IsZero() {
			hdr.Set("Last-Modified", modified.UTC().Format(http.TimeFormat))
		}

		req := c.Request
		// If-Match / If-Unmodified-Since guard writes: failure is 412.
		if im := req.Header.Get("If-Match"); im != "" && etag != "" {
			if !etagMatches(im, etag) {
				c.AbortWithStatus(http.StatusPreconditionFailed)
				return
			}
		}
		if ius := req.Header.Get("If-Unmodified-Since"); ius != "" && !modified.IsZero() {
			if t, err := http.ParseTime(ius); err == nil && modified.Truncate(time.Second).After(t) {
				c.AbortWithStatus(http.StatusPreconditionFailed)
				return
			}
		}

		// If-None-Match / If-Modified-Since make reads cheap: success is 304.
		if inm := req.Header.Get("If-None-Match"); inm != "" && etag != "" {
			if etagMatches(inm, etag) {
				c.AbortWithStatus(http.StatusNotModified)
				return
			}
		} else if ims := req.Header.Get("If-Modified-Since"); ims != "" && !modified.IsZero() {
			if t, err := http.ParseTime(ims); err == nil && !modified.Truncate(time.Second).After(t) {
				c.AbortWithStatus(http.StatusNotModified)
				return
			}
		}

		c.Next()
	}
}

// etagMatches checks a comma-separated If-(None-)Match value against the
// current tag. Comparison is weak: W/ prefixes are ignored.
func etagMatches(header, etag string) bool {
	if header == "*" {
		return true
	}
	current := strings.TrimPrefix(etag, "W/")
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		candidate = strings.TrimPrefix(candidate, "W/")
		if candidate == current {
			return true
		}
	}
	return false
}
