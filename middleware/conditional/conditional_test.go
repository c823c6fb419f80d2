package conditional

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/routed/routed/router"
)

var fixedTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func serve(h *Handler, mutate func(*http.Request)) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/doc", nil)
	if mutate != nil {
		mutate(req)
	}
	handlers := []router.HandlerFunc{
		h.Middleware(),
		func(c *router.Context) { c.String(200, "content") },
	}
	router.NewContext(rec, req, nil, nil, handlers).Next()
	return rec
}

func etagHandler(tag string) *Handler {
	return New(Config{ETag: func(*router.Context) string { return tag }})
}

func modifiedHandler(ts time.Time) *Handler {
	return New(Config{LastModified: func(*router.Context) time.Time { return ts }})
}

func TestIfNoneMatchHit(t *testing.T) {
	h := etagHandler(`"v1"`)
	rec := serve(h, func(r *http.Request) {
		r.Header.Set("If-None-Match", `"v1"`)
	})
	if rec.Code != http.StatusNotModified {
		t.Fatalf("status = %d, want 304", rec.Code)
	}
	if rec.Header().Get("ETag") != `"v1"` {
		t.Error("ETag missing on 304")
	}
	if rec.Body.Len() != 0 {
		t.Error("304 carried a body")
	}
}

func TestIfNoneMatchMiss(t *testing.T) {
	h := etagHandler(`"v2"`)
	rec := serve(h, func(r *http.Request) {
		r.Header.Set("If-None-Match", `"v1"`)
	})
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("ETag") != `"v2"` {
		t.Error("ETag missing on full response")
	}
}

func TestIfMatchFailureIs412(t *testing.T) {
	h := etagHandler(`"v2"`)
	rec := serve(h, func(r *http.Request) {
		r.Header.Set("If-Match", `"v1"`)
	})
	if rec.Code != http.StatusPreconditionFailed {
		t.Errorf("status = %d, want 412", rec.Code)
	}
}

func TestIfModifiedSince(t *testing.T) {
	h := modifiedHandler(fixedTime)

	rec := serve(h, func(r *http.Request) {
		r.Header.Set("If-Modified-Since", fixedTime.Format(http.TimeFormat))
	})
	if rec.Code != http.StatusNotModified {
		t.Errorf("unchanged: status = %d, want 304", rec.Code)
	}

	rec = serve(h, func(r *http.Request) {
		r.Header.Set("If-Modified-Since", fixedTime.Add(-time.Hour).Format(http.TimeFormat))
	})
	if rec.Code != 200 {
		t.Errorf("changed: status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("Last-Modified") == "" {
		t.Error("Last-Modified missing on full response")
	}
}

func TestIfUnmodifiedSinceFailureIs412(t *testing.T) {
	h := modifiedHandler(fixedTime)
	rec := serve(h, func(r *http.Request) {
		r.Header.Set("If-Unmodified-Since", fixedTime.Add(-time.Hour).Format(http.TimeFormat))
	})
	if rec.Code != http.StatusPreconditionFailed {
		t.Errorf("status = %d, want 412", rec.Code)
	}
}

func TestWeakComparison(t *testing.T) {
	h := etagHandler(`W/"v1"`)
	rec := serve(h, func(r *http.Request) {
		r.Header.Set("If-None-Match", `"v1"`)
	})
	if rec.Code != http.StatusNotModified {
		t.Errorf("status = %d, want 304 via weak match", rec.Code)
	}
}

func TestNoValidatorsPassThrough(t *testing.T) {
	h := New(Config{})
	rec := serve(h, nil)
	if rec.Code != 200 {
		t.Errorf("status = %d", rec.Code)
	}
}
