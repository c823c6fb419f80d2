package router

import (
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
)

func runChain(t *testing.T, handlers []HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/x", nil)
	c := NewContext(rec, req, nil, nil, handlers)
	c.Next()
	return rec
}

func TestChainOrder(t *testing.T) {
	var trace []string
	mw := func(name string) HandlerFunc {
		return func(c *Context) {
			trace = append(trace, name+":in")
			c.Next()
			trace = append(trace, name+":out")
		}
	}
	handler := func(c *Context) {
		trace = append(trace, "handler")
		c.String(200, "ok")
	}

	runChain(t, []HandlerFunc{mw("a"), mw("b"), handler})

	want := []string{"a:in", "b:in", "handler", "b:out", "a:out"}
	if !reflect.DeepEqual(trace, want) {
		t.Errorf("trace = %v, want %v", trace, want)
	}
}

func TestAbortSkipsRemainder(t *testing.T) {
	var trace []string
	first := func(c *Context) {
		trace = append(trace, "first:in")
		c.Next()
		trace = append(trace, "first:out")
	}
	guard := func(c *Context) {
		trace = append(trace, "guard")
		c.AbortWithStatus(403)
	}
	handler := func(c *Context) {
		trace = append(trace, "handler")
	}

	rec := runChain(t, []HandlerFunc{first, guard, handler})

	want := []string{"first:in", "guard", "first:out"}
	if !reflect.DeepEqual(trace, want) {
		t.Errorf("trace = %v, want %v", trace, want)
	}
	if rec.Code != 403 {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestAbortIsSticky(t *testing.T) {
	c := NewContext(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil), nil, nil, nil)
	c.Abort()
	if !c.IsAborted() {
		t.Error("IsAborted = false after Abort")
	}
	// Next after abort must not run anything.
	c.handlers = []HandlerFunc{func(*Context) { t.Error("handler ran after abort") }}
	c.Next()
}

func TestResponseWriterTracking(t *testing.T) {
	rec := httptest.NewRecorder()
	w := WrapResponseWriter(rec)

	if w.Written() {
		t.Error("Written = true before any write")
	}
	w.Write([]byte("hello"))
	if w.Status() != 200 {
		t.Errorf("status = %d, want implicit 200", w.Status())
	}
	if w.Size() != 5 {
		t.Errorf("size = %d, want 5", w.Size())
	}

	// Second WriteHeader is ignored.
	w.WriteHeader(500)
	if w.Status() != 200 {
		t.Errorf("status changed to %d after duplicate WriteHeader", w.Status())
	}
}

func TestBindJSON(t *testing.T) {
	req := httptest.NewRequest("POST", "/x", strings.NewReader(`{"name":"ada","age":36}`))
	c := NewContext(httptest.NewRecorder(), req, nil, nil, nil)

	var in struct {
		Name string `json:"name"`
		Age  int    `json:"age"`
	}
	if err := c.BindJSON(&in); err != nil {
		t.Fatal(err)
	}
	if in.Name != "ada" || in.Age != 36 {
		t.Errorf("decoded = %+v", in)
	}

	req = httptest.NewRequest("POST", "/x", strings.NewReader(`{"name":"ada","extra":1}`))
	c = NewContext(httptest.NewRecorder(), req, nil, nil, nil)
	if err := c.BindJSON(&in); err == nil {
		t.Error("expected error on unknown field")
	}
}

func TestAttributes(t *testing.T) {
	c := NewContext(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil), nil, nil, nil)
	c.Set("request_id", "abc-123")

	if got := c.GetString("request_id"); got != "abc-123" {
		t.Errorf("GetString = %q", got)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("Get returned ok for missing key")
	}
}

func TestClientIPFromRemoteAddr(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.1.2.3:55000"
	c := NewContext(httptest.NewRecorder(), req, nil, nil, nil)

	if got := c.ClientIP(); got != "10.1.2.3" {
		t.Errorf("ClientIP = %q", got)
	}
	c.SetClientIP("203.0.113.9")
	if got := c.ClientIP(); got != "203.0.113.9" {
		t.Errorf("override ClientIP = %q", got)
	}
}
