// Package timeout enforces a wall-clock deadline on the handler chain.
package timeout

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	routederr "github.com/routed/routed/errors"
	"github.com/routed/routed/router"
)

// Handler races the remaining chain against a timer. On expiry it writes a
// 504 with Retry-After and discards anything the late handler still writes.
type Handler struct {
	limit      time.Duration
	retryAfter string
}

// New creates a timeout handler. A non-positive limit disables it.
func New(limit time.Duration) *Handler {
	h := &Handler{limit: limit}
	if limit > 0 {
		secs := int(limit.Seconds())
		if secs == 0 {
			secs = 1
		}
		h.retryAfter = fmt.Sprintf("%d", secs)
	}
	return h
}

// Middleware returns the chain handler.
func (h *Handler) Middleware() router.HandlerFunc {
	return func(c *router.Context) {
		if h.limit <= 0 {
			c.Next()
			return
		}

		// The remaining chain runs on a detached context with its own
		// index and abort flag; this goroutine never touches shared
		// state after the race is decided.
		buf := newGuardedWriter(c.Writer)
		detached := c.Detach(buf)

		done := make(chan struct{})
		panicked := make(chan any, 1)
		go func() {
			defer func() {
				if v := recover(); v != nil {
					panicked <- v
					return
				}
				close(done)
			}()
			detached.Next()
		}()

		timer := time.NewTimer(h.limit)
		defer timer.Stop()

		select {
		case <-done:
			buf.commit()
			for _, err := range detached.Errors() {
				c.Error(err)
			}
			c.Abort()
		case v := <-panicked:
			// Buffered partial output is dropped so the recovery
			// middleware sees an uncommitted writer and can render 500.
			c.Abort()
			panic(v)
		case <-timer.C:
			// The detached goroutine keeps running; its writes hit the
			// expired buffer and are dropped.
			buf.expire()
			c.Abort()
			c.Writer.Header().Set("Retry-After", h.retryAfter)
			routederr.ErrGatewayTimeout.WriteJSON(c.Writer)
		}
	}
}

// guardedWriter buffers header and body writes so nothing reaches the real
// connection until the deadline race is decided.
type guardedWriter struct {
	mu      sync.Mutex
	dst     router.ResponseWriter
	header  http.Header
	body    []byte
	status  int
	expired bool
}

func newGuardedWriter(dst router.ResponseWriter) *guardedWriter {
	return &guardedWriter{dst: dst, header: make(http.Header)}
}

func (w *guardedWriter) Header() http.Header {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.header
}

func (w *guardedWriter) WriteHeader(code int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status == 0 {
		w.status = code
	}
}

func (w *guardedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.expired {
		return len(p), nil
	}
	if w.status == 0 {
		w.status = http.StatusOK
	}
	w.body = append(w.body, p...)
	return len(p), nil
}

func (w *guardedWriter) Status() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *guardedWriter) Size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.body)
}

func (w *guardedWriter) Written() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status != 0
}

func (w *guardedWriter) Flush() {}

func (w *guardedWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return nil, nil, fmt.Errorf("timeout: hijack unavailable inside a deadline guard")
}

// commit replays buffered output onto the real writer.
func (w *guardedWriter) commit() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.expired || w.status == 0 {
		return
	}
	dst := w.dst.Header()
	for k, vs := range w.header {
		dst[k] = vs
	}
	w.dst.WriteHeader(w.status)
	if len(w.body) > 0 {
		w.dst.Write(w.body)
	}
}

// expire drops all buffered and future output.
func (w *guardedWriter) expire() {
	w.mu.Lock()
	w.expired = true
	w.body = nil
	w.mu.Unlock()
}
