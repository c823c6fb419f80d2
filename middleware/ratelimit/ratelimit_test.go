package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/routed/routed/router"
)

func hit(h *Handler, addr string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = addr
	handlers := []router.HandlerFunc{
		h.Middleware(),
		func(c *router.Context) { c.Status(200) },
	}
	router.NewContext(rec, req, nil, nil, handlers).Next()
	return rec
}

func TestAllowsWithinBurst(t *testing.T) {
	h := New(Config{Rate: 1, Burst: 3})
	for i := 0; i < 3; i++ {
		if rec := hit(h, "10.0.0.1:1000"); rec.Code != 200 {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}
}

func TestRejectsOverBurst(t *testing.T) {
	h := New(Config{Rate: 0.5, Burst: 1})
	hit(h, "10.0.0.1:1000")

	rec := hit(h, "10.0.0.1:1000")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}

	retry := rec.Header().Get("Retry-After")
	if retry == "" || retry == "0" {
		t.Errorf("Retry-After = %q", retry)
	}

	var body struct {
		Error      string `json:"error"`
		RetryAfter int64  `json:"retry_after"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Error != "too_many_requests" {
		t.Errorf("error = %q", body.Error)
	}
	if body.RetryAfter < 1 {
		t.Errorf("retry_after = %d, want >= 1", body.RetryAfter)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	h := New(Config{Rate: 0.5, Burst: 1})
	hit(h, "10.0.0.1:1000")

	if rec := hit(h, "10.0.0.2:1000"); rec.Code != 200 {
		t.Errorf("other client status = %d", rec.Code)
	}
}

func TestCustomKeyFunc(t *testing.T) {
	h := New(Config{
		Rate:  0.5,
		Burst: 1,
		Key: func(c *router.Context) string {
			return c.Request.Header.Get("X-Api-Key")
		},
	})

	req := func(key string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("X-Api-Key", key)
		handlers := []router.HandlerFunc{h.Middleware(), func(c *router.Context) { c.Status(200) }}
		router.NewContext(rec, r, nil, nil, handlers).Next()
		return rec
	}

	req("alpha")
	if rec := req("alpha"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("same key status = %d", rec.Code)
	}
	if rec := req("beta"); rec.Code != 200 {
		t.Errorf("different key status = %d", rec.Code)
	}
}

func TestRetryAfterRounding(t *testing.T) {
	cases := []struct {
		wait time.Duration
		want int64
	}{
		{0, 1},
		{time.Millisecond, 1},
		{time.Second, 1},
		{time.Second + time.Millisecond, 2},
		{2500 * time.Millisecond, 3},
	}
	for _, tc := range cases {
		if got := retryAfterSeconds(tc.wait); got != tc.want {
			t.Errorf("retryAfterSeconds(%v) = %d, want %d", tc.wait, got, tc.want)
		}
	}
}
