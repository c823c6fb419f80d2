// Package securityheaders sets conservative browser security headers.
package securityheaders

import (
	"strconv"

	"github.com/routed/routed/router"
)

// Config controls which headers are emitted. Zero values fall back to the
// defaults applied by New.
type Config struct {
	ContentTypeOptions string
	FrameOptions       string
	ReferrerPolicy     string
	// HSTSMaxAge is emitted only on https requests. Zero disables HSTS.
	HSTSMaxAge int
}

// Handler applies the configured headers to every response.
type Handler struct {
	cfg Config
}

// New creates a handler, filling unset fields with defaults.
func New(cfg Config) *Handler {
	if cfg.ContentTypeOptions == "" {
		cfg.ContentTypeOptions = "nosniff"
	}
	if cfg.FrameOptions == "" {
		cfg.FrameOptions = "DENY"
	}
	if cfg.ReferrerPolicy == "" {
		cfg.ReferrerPolicy = "strict-origin-when-cross-origin"
	}
	return &Handler{cfg: cfg}
}

// Middleware returns the chain handler.
func (h *Handler) Middleware() router.HandlerFunc {
	return func(c *router.Context) {
		hdr := c.Writer.Header()
		hdr.Set("X-Content-Type-Options", h.cfg.ContentTypeOptions)
		hdr.Set("X-Frame-Options", h.cfg.FrameOptions)
		hdr.Set("Referrer-Policy", h.cfg.ReferrerPolicy)
		if h.cfg.HSTSMaxAge > 0 && c.Scheme() == "https" {
			hdr.Set("Strict-Transport-Security",
				"max-age="+strconv.Itoa(h.cfg.HSTSMaxAge)+"; includeSubDomains")
		}
		c.Next()
	}
}
