package recovery

import (
	"errors"
	"net/http/httptest"
	"strings"
	"syscall"
	"testing"

	"net"

	"github.com/routed/routed/router"
)

func TestPanicBecomes500(t *testing.T) {
	var logged any
	mw := MiddlewareWithConfig(Config{
		PrintStack: true,
		LogFunc:    func(err any, stack []byte) { logged = err },
	})

	rec := httptest.NewRecorder()
	handlers := []router.HandlerFunc{
		mw,
		func(c *router.Context) { panic("boom") },
	}
	router.NewContext(rec, httptest.NewRequest("GET", "/", nil), nil, nil, handlers).Next()

	if rec.Code != 500 {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Internal Server Error") {
		t.Errorf("body = %q", rec.Body.String())
	}
	if logged != "boom" {
		t.Errorf("logged = %v", logged)
	}
}

func TestCommittedResponseLeftAlone(t *testing.T) {
	mw := MiddlewareWithConfig(Config{LogFunc: func(any, []byte) {}})

	rec := httptest.NewRecorder()
	handlers := []router.HandlerFunc{
		mw,
		func(c *router.Context) {
			c.String(200, "partial")
			panic("late boom")
		},
	}
	router.NewContext(rec, httptest.NewRequest("GET", "/", nil), nil, nil, handlers).Next()

	if rec.Code != 200 {
		t.Errorf("status = %d", rec.Code)
	}
	if rec.Body.String() != "partial" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestBrokenPipeAbortsSilently(t *testing.T) {
	called := false
	mw := MiddlewareWithConfig(Config{
		LogFunc: func(any, []byte) { called = true },
	})

	rec := httptest.NewRecorder()
	handlers := []router.HandlerFunc{
		mw,
		func(c *router.Context) {
			panic(&net.OpError{Op: "write", Err: syscall.EPIPE})
		},
	}
	c := router.NewContext(rec, httptest.NewRequest("GET", "/", nil), nil, nil, handlers)
	c.Next()

	if called {
		t.Error("broken pipe was logged as a panic")
	}
	if rec.Code == 500 {
		t.Error("broken pipe produced a 500 body")
	}
	if len(c.Errors()) == 0 {
		t.Error("broken pipe not recorded on the context")
	}
}

func TestIsBrokenPipe(t *testing.T) {
	if !isBrokenPipe(&net.OpError{Op: "write", Err: syscall.ECONNRESET}) {
		t.Error("ECONNRESET not detected")
	}
	if isBrokenPipe(errors.New("ordinary error")) {
		t.Error("ordinary error misclassified")
	}
	if isBrokenPipe("not an error") {
		t.Error("non-error misclassified")
	}
}
