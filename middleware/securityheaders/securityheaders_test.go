package securityheaders

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/routed/routed/router"
)

func TestDefaults(t *testing.T) {
	h := New(Config{})
	rec := httptest.NewRecorder()
	handlers := []router.HandlerFunc{
		h.Middleware(),
		func(c *router.Context) { c.Status(200) },
	}
	router.NewContext(rec, httptest.NewRequest("GET", "/", nil), nil, nil, handlers).Next()

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
	if got := rec.Header().Get("Referrer-Policy"); got != "strict-origin-when-cross-origin" {
		t.Errorf("Referrer-Policy = %q", got)
	}
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS emitted on plain http")
	}
}

func TestHSTSOnHTTPS(t *testing.T) {
	h := New(Config{HSTSMaxAge: 31536000})
	rec := httptest.NewRecorder()
	handlers := []router.HandlerFunc{
		h.Middleware(),
		func(c *router.Context) { c.Status(200) },
	}
	c := router.NewContext(rec, httptest.NewRequest("GET", "/", nil), nil, nil, handlers)
	c.SetScheme("https")
	c.Next()

	hsts := rec.Header().Get("Strict-Transport-Security")
	if !strings.Contains(hsts, "max-age=31536000") {
		t.Errorf("HSTS = %q", hsts)
	}
}
