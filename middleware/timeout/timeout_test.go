package timeout

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/routed/routed/router"
)

func serve(h *Handler, handler router.HandlerFunc) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handlers := []router.HandlerFunc{h.Middleware(), handler}
	router.NewContext(rec, httptest.NewRequest("GET", "/", nil), nil, nil, handlers).Next()
	return rec
}

func TestFastHandlerPassesThrough(t *testing.T) {
	h := New(time.Second)
	rec := serve(h, func(c *router.Context) {
		c.String(200, "done")
	})
	if rec.Code != 200 || rec.Body.String() != "done" {
		t.Errorf("status = %d, body = %q", rec.Code, rec.Body.String())
	}
}

func TestSlowHandlerGets504(t *testing.T) {
	h := New(30 * time.Millisecond)
	release := make(chan struct{})
	defer close(release)

	rec := serve(h, func(c *router.Context) {
		<-release
		c.String(200, "too late")
	})

	if rec.Code != 504 {
		t.Fatalf("status = %d, want 504", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}
	if strings.Contains(rec.Body.String(), "too late") {
		t.Error("late handler output leaked")
	}
}

func TestLateWritesDiscarded(t *testing.T) {
	h := New(20 * time.Millisecond)
	wrote := make(chan struct{})

	rec := serve(h, func(c *router.Context) {
		time.Sleep(60 * time.Millisecond)
		c.String(200, "late body")
		close(wrote)
	})

	<-wrote
	if strings.Contains(rec.Body.String(), "late body") {
		t.Error("write after deadline reached the client")
	}
	if rec.Code != 504 {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestLateWriteDoesNotDisturbParentChain(t *testing.T) {
	h := New(20 * time.Millisecond)
	calls := 0
	wrote := make(chan struct{})

	rec := httptest.NewRecorder()
	handlers := []router.HandlerFunc{
		h.Middleware(),
		func(c *router.Context) {
			calls++
			time.Sleep(60 * time.Millisecond)
			c.String(200, "late body")
			close(wrote)
		},
	}
	ctx := router.NewContext(rec, httptest.NewRequest("GET", "/", nil), nil, nil, handlers)
	ctx.Next()
	<-wrote

	// The parent chain must not rerun the handler after the deadline, and
	// must report the abort.
	if calls != 1 {
		t.Errorf("handler ran %d times", calls)
	}
	if !ctx.IsAborted() {
		t.Error("parent context not aborted after deadline")
	}
	if rec.Code != 504 || strings.Contains(rec.Body.String(), "late body") {
		t.Errorf("status = %d, body = %q", rec.Code, rec.Body.String())
	}
}

func TestDownstreamErrorsPropagateOnCompletion(t *testing.T) {
	h := New(time.Second)
	rec := httptest.NewRecorder()
	handlers := []router.HandlerFunc{
		h.Middleware(),
		func(c *router.Context) {
			c.Error(errors.New("downstream failure"))
			c.Status(204)
		},
	}
	ctx := router.NewContext(rec, httptest.NewRequest("GET", "/", nil), nil, nil, handlers)
	ctx.Next()

	if rec.Code != 204 {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(ctx.Errors()) != 1 {
		t.Errorf("errors = %v", ctx.Errors())
	}
}

func TestZeroLimitDisables(t *testing.T) {
	h := New(0)
	rec := serve(h, func(c *router.Context) {
		time.Sleep(10 * time.Millisecond)
		c.Status(200)
	})
	if rec.Code != 200 {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestHandlerPanicPropagates(t *testing.T) {
	h := New(time.Second)
	defer func() {
		if recover() == nil {
			t.Error("panic swallowed by timeout guard")
		}
	}()
	serve(h, func(c *router.Context) { panic("boom") })
}
