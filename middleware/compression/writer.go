package compression

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/routed/routed/router"
)

// compressWriter defers the compress-or-passthrough decision until either
// minLength bytes have been buffered or the chain completes. Once decided it
// streams: either straight through or into the negotiated encoder.
type compressWriter struct {
	comp *Compressor
	ctx  *router.Context
	algo string
	dst  router.ResponseWriter

	status  int
	buf     []byte
	decided bool
	encoder io.WriteCloser
	size    int
}

func (w *compressWriter) Header() http.Header { return w.dst.Header() }

func (w *compressWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
}

func (w *compressWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	w.size += len(p)
	if w.decided {
		if w.encoder != nil {
			return w.encoder.Write(p)
		}
		return w.dst.Write(p)
	}
	w.buf = append(w.buf, p...)
	if len(w.buf) >= w.comp.minLength {
		if err := w.decide(); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

// decide commits to compressing or passing through and flushes the buffer.
func (w *compressWriter) decide() error {
	w.decided = true
	if w.shouldCompress() {
		hdr := w.dst.Header()
		hdr.Del("Content-Length")
		hdr.Set("Content-Encoding", w.algo)
		addVary(hdr, "Accept-Encoding")
		w.dst.WriteHeader(w.status)
		w.encoder = w.comp.newEncoder(w.dst, w.algo)
		if len(w.buf) > 0 {
			_, err := w.encoder.Write(w.buf)
			w.buf = nil
			return err
		}
		return nil
	}
	w.dst.WriteHeader(w.status)
	if len(w.buf) > 0 {
		_, err := w.dst.Write(w.buf)
		w.buf = nil
		return err
	}
	return nil
}

func (w *compressWriter) shouldCompress() bool {
	if len(w.buf) < w.comp.minLength {
		return false
	}
	if _, disabled := w.ctx.Get(DisableKey); disabled {
		return false
	}
	switch {
	case w.status < 200,
		w.status == http.StatusNoContent,
		w.status == http.StatusResetContent,
		w.status == http.StatusNotModified:
		return false
	}
	hdr := w.dst.Header()
	if hdr.Get("Content-Encoding") != "" {
		return false
	}
	return w.comp.compressibleType(hdr.Get("Content-Type"))
}

// finish runs after the chain: makes the final decision for short bodies and
// closes the encoder.
func (w *compressWriter) finish() {
	if !w.decided {
		if w.status == 0 {
			// Nothing was written through us; leave the writer untouched.
			return
		}
		w.decide()
	}
	if w.encoder != nil {
		w.encoder.Close()
	}
}

func (w *compressWriter) Status() int   { return w.status }
func (w *compressWriter) Size() int     { return w.size }
func (w *compressWriter) Written() bool { return w.status != 0 }

func (w *compressWriter) Flush() {
	if !w.decided && w.status != 0 {
		w.decide()
	}
	if f, ok := w.encoder.(interface{ Flush() error }); ok && f != nil {
		f.Flush()
	}
	w.dst.Flush()
}

func (w *compressWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return w.dst.Hijack()
}

func addVary(hdr http.Header, value string) {
	for _, v := range hdr.Values("Vary") {
		if strings.EqualFold(v, value) {
			return
		}
	}
	hdr.Add("Vary", value)
}
