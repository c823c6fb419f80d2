package compression

import (
	"compress/gzip"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"

	"github.com/routed/routed/router"
)

func serve(t *testing.T, comp *Compressor, acceptEncoding string, handler router.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/", nil)
	if acceptEncoding != "" {
		req.Header.Set("Accept-Encoding", acceptEncoding)
	}
	handlers := []router.HandlerFunc{comp.Middleware(), handler}
	router.NewContext(rec, req, nil, nil, handlers).Next()
	return rec
}

func bigBody() string {
	return strings.Repeat("the quick brown fox jumps over the lazy dog ", 100)
}

func textHandler(body string) router.HandlerFunc {
	return func(c *router.Context) {
		c.String(200, "%s", body)
	}
}

func TestGzipLargeTextBody(t *testing.T) {
	comp := New(Config{Enabled: true})
	body := bigBody()

	rec := serve(t, comp, "gzip", textHandler(body))
	if got := rec.Header().Get("Content-Encoding"); got != "gzip" {
		t.Fatalf("encoding = %q", got)
	}
	if got := rec.Header().Get("Vary"); got != "Accept-Encoding" {
		t.Errorf("Vary = %q", got)
	}
	if rec.Header().Get("Content-Length") != "" {
		t.Error("Content-Length kept on compressed response")
	}

	gr, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	out, err := io.ReadAll(gr)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != body {
		t.Error("decompressed body mismatch")
	}
}

func TestBrotliPreferredByQValue(t *testing.T) {
	comp := New(Config{Enabled: true})
	body := bigBody()

	rec := serve(t, comp, "gzip;q=0.5, br;q=0.9", textHandler(body))
	if got := rec.Header().Get("Content-Encoding"); got != "br" {
		t.Fatalf("encoding = %q, want br", got)
	}

	out, err := io.ReadAll(brotli.NewReader(rec.Body))
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != body {
		t.Error("decompressed body mismatch")
	}
}

func TestQZeroRejectsEncoding(t *testing.T) {
	comp := New(Config{Enabled: true, Algorithms: []string{"gzip"}})

	rec := serve(t, comp, "gzip;q=0", textHandler(bigBody()))
	if got := rec.Header().Get("Content-Encoding"); got != "" {
		t.Errorf("encoding = %q, want identity", got)
	}
}

func TestSmallBodyPassesThrough(t *testing.T) {
	comp := New(Config{Enabled: true})

	rec := serve(t, comp, "gzip", textHandler("tiny"))
	if rec.Header().Get("Content-Encoding") != "" {
		t.Error("small body was compressed")
	}
	if rec.Body.String() != "tiny" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestNonCompressibleTypeSkipped(t *testing.T) {
	comp := New(Config{Enabled: true})
	payload := strings.Repeat("x", 4096)

	rec := serve(t, comp, "gzip", func(c *router.Context) {
		c.Data(200, "image/png", []byte(payload))
	})
	if rec.Header().Get("Content-Encoding") != "" {
		t.Error("image was compressed")
	}
}

func TestNoContentSkipped(t *testing.T) {
	comp := New(Config{Enabled: true})

	rec := serve(t, comp, "gzip", func(c *router.Context) {
		c.Status(204)
	})
	if rec.Header().Get("Content-Encoding") != "" {
		t.Error("204 response was compressed")
	}
	if rec.Code != 204 {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestDisableEscapeHatch(t *testing.T) {
	comp := New(Config{Enabled: true})
	body := bigBody()

	rec := serve(t, comp, "gzip", func(c *router.Context) {
		Disable(c)
		c.String(200, "%s", body)
	})
	if rec.Header().Get("Content-Encoding") != "" {
		t.Error("disabled request was compressed")
	}
	if rec.Body.String() != body {
		t.Error("body mismatch")
	}
}

func TestHeadNeverCompressed(t *testing.T) {
	comp := New(Config{Enabled: true})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("HEAD", "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	handlers := []router.HandlerFunc{comp.Middleware(), textHandler(bigBody())}
	router.NewContext(rec, req, nil, nil, handlers).Next()

	if rec.Header().Get("Content-Encoding") != "" {
		t.Error("HEAD response was compressed")
	}
}

func TestNegotiateWildcard(t *testing.T) {
	comp := New(Config{Enabled: true})
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept-Encoding", "*")
	if got := comp.negotiate(req); got != "br" {
		t.Errorf("negotiate(*) = %q, want server-preferred br", got)
	}
}
