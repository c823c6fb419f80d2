// Package requestid assigns each request an X-Request-Id and exposes it to
// downstream middleware and handlers.
package requestid

import (
	"github.com/google/uuid"

	"github.com/routed/routed/router"
)

// Header is the request id header name.
const Header = "X-Request-Id"

// ContextKey is the attribute key the id is stored under.
const ContextKey = "request_id"

// Middleware reuses an inbound X-Request-Id when present, otherwise
// generates a uuid. The id is echoed on the response and stored on the
// context.
func Middleware() router.HandlerFunc {
	return func(c *router.Context) {
		id := c.Request.Header.Get(Header)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ContextKey, id)
		c.Writer.Header().Set(Header, id)
		c.Next()
	}
}

// FromContext returns the request id, or "".
func FromContext(c *router.Context) string {
	return c.GetString(ContextKey)
}
