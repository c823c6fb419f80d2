// Package csrf enforces a session-bound double-submit token on unsafe
// methods.
package csrf

import (
	"crypto/subtle"
	"net/http"

	"github.com/routed/routed/router"
	"github.com/routed/routed/session"
)

// CookieName carries the token to the client.
const CookieName = "routed_csrf"

// HeaderName is checked first on unsafe requests.
const HeaderName = "X-CSRF-Token"

// FormField is the fallback for form posts.
const FormField = "_csrf"

const cookieMaxAge = 3600

// Middleware returns the chain handler. Requests without a session pass
// through: there is nothing to bind the token to.
func Middleware() router.HandlerFunc {
	return func(c *router.Context) {
		s := session.FromContext(c)
		if s == nil {
			c.Next()
			return
		}

		if isSafeMethod(c.Request.Method) {
			issueCookie(c, s.Token())
			c.Next()
			return
		}

		supplied := c.Request.Header.Get(HeaderName)
		if supplied == "" {
			supplied = c.FormValue(FormField)
		}
		token := s.Token()
		if supplied == "" || subtle.ConstantTimeCompare([]byte(supplied), []byte(token)) != 1 {
			c.Writer.Header().Set("Content-Type", "text/plain; charset=utf-8")
			c.Writer.WriteHeader(http.StatusForbidden)
			c.Writer.Write([]byte("CSRF token mismatch"))
			c.Abort()
			return
		}
		c.Next()
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

func issueCookie(c *router.Context, token string) {
	secure := c.Scheme() == "https"
	sameSite := http.SameSiteLaxMode
	if secure {
		sameSite = http.SameSiteStrictMode
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   cookieMaxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
	})
}
