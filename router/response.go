package router

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
)

// ResponseWriter extends http.ResponseWriter with status and size tracking so
// middleware running after Next can inspect what the handler wrote.
type ResponseWriter interface {
	http.ResponseWriter
	// Status returns the written status code, or 0 before WriteHeader.
	Status() int
	// Size returns the number of body bytes written so far.
	Size() int
	// Written reports whether the header has been sent.
	Written() bool
	// Flush forwards to the underlying writer when it supports flushing.
	Flush()
	// Hijack takes over the connection for protocol upgrades.
	Hijack() (net.Conn, *bufio.ReadWriter, error)
}

type responseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

// WrapResponseWriter adapts a plain http.ResponseWriter. If w already
// implements ResponseWriter it is returned unchanged.
func WrapResponseWriter(w http.ResponseWriter) ResponseWriter {
	if rw, ok := w.(ResponseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w}
}

func (w *responseWriter) WriteHeader(code int) {
	if w.status != 0 {
		return
	}
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(p)
	w.size += n
	return n, err
}

func (w *responseWriter) Status() int   { return w.status }
func (w *responseWriter) Size() int     { return w.size }
func (w *responseWriter) Written() bool { return w.status != 0 }

func (w *responseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := w.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("router: underlying writer does not support hijacking")
}
