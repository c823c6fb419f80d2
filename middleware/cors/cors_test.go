package cors

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/routed/routed/router"
)

func run(h *Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handlers := []router.HandlerFunc{
		h.Middleware(),
		func(c *router.Context) { c.Status(200) },
	}
	router.NewContext(rec, req, nil, nil, handlers).Next()
	return rec
}

func TestNoOriginPassesThrough(t *testing.T) {
	h := New(Config{Enabled: true, AllowedOrigins: []string{"https://a.test"}})
	rec := run(h, httptest.NewRequest("GET", "/", nil))
	if rec.Code != 200 {
		t.Errorf("status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("CORS headers emitted without an Origin")
	}
}

func TestAllowedOrigin(t *testing.T) {
	h := New(Config{Enabled: true, AllowedOrigins: []string{"https://a.test"}})
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Origin", "https://a.test")

	rec := run(h, req)
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://a.test" {
		t.Errorf("allow-origin = %q", got)
	}
}

func TestDeniedOriginIs403(t *testing.T) {
	h := New(Config{Enabled: true, AllowedOrigins: []string{"https://a.test"}})
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Origin", "https://evil.test")

	rec := run(h, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Error("403 without a text body")
	}
}

func TestWildcardWithCredentialsEchoesOrigin(t *testing.T) {
	h := New(Config{Enabled: true, AllowedOrigins: []string{"*"}, AllowCredentials: true})
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Origin", "https://b.test")

	rec := run(h, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://b.test" {
		t.Errorf("allow-origin = %q, want echoed origin", got)
	}
	if got := rec.Header().Get("Vary"); got != "Origin" {
		t.Errorf("Vary = %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Error("credentials header missing")
	}
}

func TestWildcardWithoutCredentials(t *testing.T) {
	h := New(Config{Enabled: true, AllowedOrigins: []string{"*"}})
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Origin", "https://b.test")

	rec := run(h, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow-origin = %q, want *", got)
	}
}

func TestPreflight(t *testing.T) {
	h := New(Config{
		Enabled:        true,
		AllowedOrigins: []string{"https://a.test"},
		AllowedMethods: []string{"GET", "POST"},
		MaxAge:         600,
	})
	req := httptest.NewRequest("OPTIONS", "/", nil)
	req.Header.Set("Origin", "https://a.test")
	req.Header.Set("Access-Control-Request-Method", "POST")

	rec := run(h, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST" {
		t.Errorf("allow-methods = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Max-Age"); got != "600" {
		t.Errorf("max-age = %q", got)
	}
}

func TestPreflightDeniedMethod(t *testing.T) {
	h := New(Config{
		Enabled:        true,
		AllowedOrigins: []string{"https://a.test"},
		AllowedMethods: []string{"GET"},
	})
	req := httptest.NewRequest("OPTIONS", "/", nil)
	req.Header.Set("Origin", "https://a.test")
	req.Header.Set("Access-Control-Request-Method", "DELETE")

	rec := run(h, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestDisabledPassesThrough(t *testing.T) {
	h := New(Config{Enabled: false, AllowedOrigins: []string{"https://a.test"}})
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Origin", "https://evil.test")

	rec := run(h, req)
	if rec.Code != 200 {
		t.Errorf("status = %d", rec.Code)
	}
}
